package stack

import (
	"sort"
)

// HealthKind selects the predicate applied to a service's health response.
type HealthKind string

const (
	// HealthReadyText passes when the body contains Expect.
	HealthReadyText HealthKind = "ready-text"
	// HealthJSONField passes when the JSON body has Field equal to Expect.
	HealthJSONField HealthKind = "json-field"
	// HealthServiceMap passes when every Required entry of the JSON "services" map is
	// available or running.
	HealthServiceMap HealthKind = "service-map"
)

// HealthCheck is the readiness surface of a service.
type HealthCheck struct {
	Path     string     `json:"path" validate:"required,startswith=/"`
	Kind     HealthKind `json:"kind" validate:"required,oneof=ready-text json-field service-map"`
	Field    string     `json:"field" validate:"required_if=Kind json-field"`
	Expect   string     `json:"expect" validate:"required_unless=Kind service-map"`
	Required []string   `json:"required" validate:"required_if=Kind service-map"`
}

// Port publishes a container port on the host.
type Port struct {
	Host      int `json:"host" validate:"min=1,max=65535"`
	Container int `json:"container" validate:"min=1,max=65535"`
}

// Mount binds a generated host path into the container.
type Mount struct {
	Source   string `json:"source" validate:"required"`
	Target   string `json:"target" validate:"required,startswith=/"`
	ReadOnly bool   `json:"readOnly"`
}

// ServiceSpec declares one managed container. Specs are static for a run.
type ServiceSpec struct {
	Name          string            `json:"name" validate:"required,hostname_rfc1123"`
	Image         string            `json:"image" validate:"required"`
	Port          Port              `json:"port"`
	Env           map[string]string `json:"env"`
	Cmd           []string          `json:"cmd"`
	Mounts        []Mount           `json:"mounts" validate:"dive"`
	Health        HealthCheck       `json:"health"`
	DependsOn     []string          `json:"dependsOn" validate:"dive,required"`
	RestartPolicy string            `json:"restartPolicy" validate:"oneof=no always unless-stopped on-failure"`
}

// EnvList renders Env as sorted KEY=VALUE pairs so container configs are stable.
func (s ServiceSpec) EnvList() []string {
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+s.Env[k])
	}
	return out
}

// ApplyDefaults sets fallback values for optional fields.
func (s *ServiceSpec) ApplyDefaults() {
	if s.Env == nil {
		s.Env = map[string]string{}
	}
	if s.DependsOn == nil {
		s.DependsOn = []string{}
	}
	if s.RestartPolicy == "" {
		s.RestartPolicy = "unless-stopped"
	}
}
