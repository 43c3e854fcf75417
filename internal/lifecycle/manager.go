// Package lifecycle converges the engine's containers and network to the
// declared services: tear down whatever carries a service's name, then create it
// fresh.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bassista/stackup/internal/logger"
	"github.com/bassista/stackup/internal/runtime"
	"github.com/bassista/stackup/internal/stack"
	"github.com/sirupsen/logrus"
)

// ErrLifecycle wraps every engine failure while converging a service.
var ErrLifecycle = errors.New("lifecycle failure")

// Labels put on every managed resource.
const (
	LabelManaged = "io.stackup.managed"
	LabelService = "io.stackup.service"
	LabelRunID   = "io.stackup.run-id"
)

// Outcome is the result of applying one step.
type Outcome struct {
	Action      Action
	ContainerID string
	StartedAt   time.Time
}

type Manager struct {
	rt         runtime.ContainerRuntime
	network    string
	runID      string
	extraHosts []string
}

// New returns a Manager attaching containers to network. extraHosts are the
// container-creation host entries the topology resolver asked for.
func New(rt runtime.ContainerRuntime, network, runID string, extraHosts []string) (*Manager, error) {
	if rt == nil {
		return nil, errors.New("runtime is nil")
	}
	if network == "" {
		return nil, errors.New("network name is empty")
	}
	return &Manager{rt: rt, network: network, runID: runID, extraHosts: extraHosts}, nil
}

func (m *Manager) log() *logrus.Entry {
	return logger.WithComponent("lifecycle")
}

// EnsureNetwork creates the shared network unless it already exists. It reports
// whether a network was created.
func (m *Manager) EnsureNetwork(ctx context.Context) (bool, error) {
	exists, err := m.rt.NetworkExists(ctx, m.network)
	if err != nil {
		return false, fmt.Errorf("%w: inspect network %s: %w", ErrLifecycle, m.network, err)
	}
	if exists {
		m.log().Infof("network %s already exists", m.network)
		return false, nil
	}
	if err := m.rt.CreateNetwork(ctx, m.network, m.labels("")); err != nil {
		return false, fmt.Errorf("%w: create network %s: %w", ErrLifecycle, m.network, err)
	}
	m.log().Infof("network %s created", m.network)
	return true, nil
}

// Observe inspects the containers carrying the names of specs. An inspect
// failure is recorded for that service only.
func (m *Manager) Observe(ctx context.Context, specs []stack.ServiceSpec) (map[string]runtime.ContainerState, map[string]error) {
	observed := map[string]runtime.ContainerState{}
	errs := map[string]error{}
	for _, spec := range specs {
		state, found, err := m.rt.Inspect(ctx, spec.Name)
		if err != nil {
			errs[spec.Name] = fmt.Errorf("%w: inspect %s: %w", ErrLifecycle, spec.Name, err)
			continue
		}
		if found {
			observed[spec.Name] = state
		}
	}
	return observed, errs
}

// Apply executes step for spec: stop and remove any existing container, make
// sure the image is present, then create, start and inspect the new container.
func (m *Manager) Apply(ctx context.Context, step Step, spec stack.ServiceSpec) (Outcome, error) {
	log := logger.WithService("lifecycle", spec.Name)
	out := Outcome{Action: step.Action}
	fail := func(what string, err error) (Outcome, error) {
		return out, fmt.Errorf("%w: %s %s: %w", ErrLifecycle, what, spec.Name, err)
	}

	if step.Action == ActionRecreate {
		if step.Running {
			log.WithField("id", shortID(step.PreviousID)).Info("stopping existing container")
			if err := m.rt.Stop(ctx, spec.Name); err != nil {
				return fail("stop", err)
			}
		}
		log.WithField("id", shortID(step.PreviousID)).Info("removing existing container")
		if err := m.rt.Remove(ctx, spec.Name); err != nil {
			return fail("remove", err)
		}
	}

	if err := m.rt.EnsureImage(ctx, spec.Image); err != nil {
		return fail("pull image for", err)
	}

	id, err := m.rt.Create(ctx, m.ContainerConfig(spec))
	if err != nil {
		return fail("create", err)
	}
	out.ContainerID = id

	if err := m.rt.Start(ctx, spec.Name); err != nil {
		return fail("start", err)
	}

	state, found, err := m.rt.Inspect(ctx, spec.Name)
	if err != nil {
		return fail("inspect", err)
	}
	if !found {
		return fail("inspect", errors.New("container vanished after start"))
	}
	out.StartedAt = state.StartedAt

	log.WithFields(logrus.Fields{"id": shortID(id), "action": step.Action}).Info("container started")
	return out, nil
}

// ContainerConfig translates spec into the engine-level creation request.
func (m *Manager) ContainerConfig(spec stack.ServiceSpec) runtime.ContainerConfig {
	mounts := make([]runtime.Mount, 0, len(spec.Mounts))
	for _, mt := range spec.Mounts {
		mounts = append(mounts, runtime.Mount{Source: mt.Source, Target: mt.Target, ReadOnly: mt.ReadOnly})
	}
	return runtime.ContainerConfig{
		Name:          spec.Name,
		Image:         spec.Image,
		Env:           spec.EnvList(),
		Cmd:           spec.Cmd,
		Ports:         []runtime.PortBinding{{HostPort: spec.Port.Host, ContainerPort: spec.Port.Container}},
		Mounts:        mounts,
		Network:       m.network,
		Aliases:       []string{spec.Name},
		ExtraHosts:    m.extraHosts,
		Labels:        m.labels(spec.Name),
		RestartPolicy: spec.RestartPolicy,
	}
}

// Teardown removes the containers of specs and then the network. Missing
// resources are skipped; every failure is collected.
func (m *Manager) Teardown(ctx context.Context, specs []stack.ServiceSpec) error {
	var errs []error
	// dependents first
	for i := len(specs) - 1; i >= 0; i-- {
		name := specs[i].Name
		state, found, err := m.rt.Inspect(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: inspect %s: %w", ErrLifecycle, name, err))
			continue
		}
		if !found {
			m.log().Debugf("container %s not present", name)
			continue
		}
		if state.Running {
			if err := m.rt.Stop(ctx, name); err != nil {
				errs = append(errs, fmt.Errorf("%w: stop %s: %w", ErrLifecycle, name, err))
				continue
			}
		}
		if err := m.rt.Remove(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("%w: remove %s: %w", ErrLifecycle, name, err))
			continue
		}
		m.log().Infof("container %s removed", name)
	}

	exists, err := m.rt.NetworkExists(ctx, m.network)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("%w: inspect network %s: %w", ErrLifecycle, m.network, err))
	case exists:
		if err := m.rt.RemoveNetwork(ctx, m.network); err != nil {
			errs = append(errs, fmt.Errorf("%w: remove network %s: %w", ErrLifecycle, m.network, err))
		} else {
			m.log().Infof("network %s removed", m.network)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) labels(service string) map[string]string {
	labels := map[string]string{LabelManaged: "true"}
	if service != "" {
		labels[LabelService] = service
	}
	if m.runID != "" {
		labels[LabelRunID] = m.runID
	}
	return labels
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
