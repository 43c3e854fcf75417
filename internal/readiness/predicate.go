package readiness

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bassista/stackup/internal/stack"
)

// Evaluate applies the service's health predicate to a 2xx response body.
func Evaluate(check stack.HealthCheck, body []byte) error {
	switch check.Kind {
	case stack.HealthReadyText:
		if !strings.Contains(string(body), check.Expect) {
			return fmt.Errorf("body does not contain %q", check.Expect)
		}
		return nil
	case stack.HealthJSONField:
		return jsonField(body, check.Field, check.Expect)
	case stack.HealthServiceMap:
		return serviceMap(body, check.Required)
	default:
		return fmt.Errorf("unknown health check kind %q", check.Kind)
	}
}

func jsonField(body []byte, field, expect string) error {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	got, ok := doc[field]
	if !ok {
		return fmt.Errorf("field %q missing", field)
	}
	if s, _ := got.(string); s != expect {
		return fmt.Errorf("field %q is %v, want %q", field, got, expect)
	}
	return nil
}

type serviceHealth struct {
	Services map[string]string `json:"services"`
	Edition  string            `json:"edition"`
	Version  string            `json:"version"`
}

var availableStates = map[string]bool{"available": true, "running": true}

func serviceMap(body []byte, required []string) error {
	var doc serviceHealth
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	var pending []string
	for _, name := range required {
		if !availableStates[doc.Services[name]] {
			state := doc.Services[name]
			if state == "" {
				state = "missing"
			}
			pending = append(pending, name+"="+state)
		}
	}
	if len(pending) > 0 {
		sort.Strings(pending)
		return fmt.Errorf("services not available: %s", strings.Join(pending, ", "))
	}
	return nil
}
