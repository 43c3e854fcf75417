package lifecycle

import (
	"github.com/bassista/stackup/internal/runtime"
	"github.com/bassista/stackup/internal/stack"
)

// Action is what Apply does for one service.
type Action string

const (
	// ActionCreate: no container with the service's name exists.
	ActionCreate Action = "create"
	// ActionRecreate: a container exists (running or not) and is replaced.
	ActionRecreate Action = "recreate"
)

// Step is the planned action for one service.
type Step struct {
	Service string
	Action  Action
	// Running reports whether the existing container must be stopped first.
	Running bool
	// PreviousID is the replaced container's ID, empty for ActionCreate.
	PreviousID string
}

// Plan decides, without side effects, how to converge each desired service given
// the observed containers keyed by name. Steps follow the order of desired.
func Plan(desired []stack.ServiceSpec, observed map[string]runtime.ContainerState) []Step {
	steps := make([]Step, 0, len(desired))
	for _, spec := range desired {
		state, found := observed[spec.Name]
		if !found {
			steps = append(steps, Step{Service: spec.Name, Action: ActionCreate})
			continue
		}
		steps = append(steps, Step{
			Service:    spec.Name,
			Action:     ActionRecreate,
			Running:    state.Running,
			PreviousID: state.ID,
		})
	}
	return steps
}
