// Package report collects the outcome of a run and prints the final summary.
package report

import (
	"time"

	"github.com/bassista/stackup/internal/materialize"
	"github.com/bassista/stackup/internal/runtime"
	"github.com/bassista/stackup/internal/topology"
	"github.com/bassista/stackup/internal/validation"
)

// Action is what happened to a service's container.
type Action string

const (
	ActionCreated      Action = "created"
	ActionRecreated    Action = "recreated"
	ActionFailed       Action = "failed"
	ActionSkipped      Action = "skipped"
	ActionNotAttempted Action = "not-attempted"
)

// Health is the readiness verdict for a service.
type Health string

const (
	HealthHealthy Health = "healthy"
	HealthTimeout Health = "timeout"
	HealthError   Health = "error"
	HealthUnknown Health = "unknown"
)

// RunResult is the outcome for one declared service.
type RunResult struct {
	Service     string               `json:"service"`
	Image       string               `json:"image"`
	URL         string               `json:"url"`
	Action      Action               `json:"action"`
	ContainerID string               `json:"containerId,omitempty"`
	StartedAt   time.Time            `json:"startedAt,omitzero"`
	Health      Health               `json:"health"`
	Attempts    int                  `json:"attempts,omitempty"`
	Findings    []validation.Finding `json:"findings,omitempty"`
	LogTail     string               `json:"logTail,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// Credentials shown for a service in the summary.
type Credentials struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// Report is everything known about a run, including partial failures.
type Report struct {
	RunID       string                 `json:"runId"`
	Handle      runtime.Handle         `json:"handle"`
	Network     string                 `json:"network"`
	WorkDir     string                 `json:"workDir"`
	Resolution  topology.Resolution    `json:"resolution"`
	Manifest    materialize.Manifest   `json:"manifest"`
	Results     []RunResult            `json:"results"`
	Credentials map[string]Credentials `json:"credentials,omitempty"`
	Elapsed     time.Duration          `json:"elapsed"`
}

// Result returns the RunResult of service, or nil.
func (r *Report) Result(service string) *RunResult {
	for i := range r.Results {
		if r.Results[i].Service == service {
			return &r.Results[i]
		}
	}
	return nil
}

// Success reports whether every declared service passed its readiness gate.
func (r *Report) Success() bool {
	if len(r.Results) == 0 {
		return false
	}
	for _, res := range r.Results {
		if res.Health != HealthHealthy {
			return false
		}
	}
	return true
}

// Warnings returns every failed validation finding across services.
func (r *Report) Warnings() []validation.Finding {
	var out []validation.Finding
	for _, res := range r.Results {
		out = append(out, validation.Warnings(res.Findings)...)
	}
	return out
}

// Failed returns the services that did not become healthy.
func (r *Report) Failed() []string {
	var out []string
	for _, res := range r.Results {
		if res.Health != HealthHealthy {
			out = append(out, res.Service)
		}
	}
	return out
}
