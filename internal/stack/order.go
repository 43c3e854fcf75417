package stack

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func specValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks every spec's fields plus the cross-spec rules: unique names,
// unique host ports and dependencies that refer to declared services.
func Validate(specs []ServiceSpec) error {
	v := specValidator()
	names := map[string]bool{}
	ports := map[int]string{}
	for i := range specs {
		if err := v.Struct(&specs[i]); err != nil {
			return fmt.Errorf("validate service %q: %w", specs[i].Name, err)
		}
		if names[specs[i].Name] {
			return fmt.Errorf("service %q declared twice", specs[i].Name)
		}
		names[specs[i].Name] = true
		if other, ok := ports[specs[i].Port.Host]; ok {
			return fmt.Errorf("services %q and %q publish the same host port %d", other, specs[i].Name, specs[i].Port.Host)
		}
		ports[specs[i].Port.Host] = specs[i].Name
	}
	for _, s := range specs {
		for _, dep := range s.DependsOn {
			if dep == s.Name {
				return fmt.Errorf("service %q depends on itself", s.Name)
			}
			if !names[dep] {
				return fmt.Errorf("service %q depends on %q, which is not declared", s.Name, dep)
			}
		}
	}
	return nil
}

// Order sorts specs so every service comes after its dependencies. Independent
// services keep their declaration order.
func Order(specs []ServiceSpec) ([]ServiceSpec, error) {
	byName := make(map[string]ServiceSpec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}

	placed := map[string]bool{}
	ordered := make([]ServiceSpec, 0, len(specs))
	for len(ordered) < len(specs) {
		progress := false
		for _, s := range specs {
			if placed[s.Name] || !depsPlaced(s, placed, byName) {
				continue
			}
			placed[s.Name] = true
			ordered = append(ordered, s)
			progress = true
		}
		if !progress {
			return nil, errors.New("dependency cycle between services")
		}
	}
	return ordered, nil
}

func depsPlaced(s ServiceSpec, placed map[string]bool, byName map[string]ServiceSpec) bool {
	for _, dep := range s.DependsOn {
		if _, declared := byName[dep]; !declared {
			continue
		}
		if !placed[dep] {
			return false
		}
	}
	return true
}

// Dependents returns the names of every service that transitively depends on name.
func Dependents(specs []ServiceSpec, name string) []string {
	var out []string
	seen := map[string]bool{name: true}
	changed := true
	for changed {
		changed = false
		for _, s := range specs {
			if seen[s.Name] {
				continue
			}
			for _, dep := range s.DependsOn {
				if seen[dep] {
					seen[s.Name] = true
					out = append(out, s.Name)
					changed = true
					break
				}
			}
		}
	}
	return out
}
