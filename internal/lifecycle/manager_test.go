package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bassista/stackup/internal/runtime"
	"github.com/bassista/stackup/internal/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grafanaSpec() stack.ServiceSpec {
	s := stack.ServiceSpec{
		Name:  "grafana",
		Image: "grafana/grafana:11.1.0",
		Port:  stack.Port{Host: 3000, Container: 3000},
		Env:   map[string]string{"GF_SECURITY_ADMIN_USER": "admin", "GF_USERS_ALLOW_SIGN_UP": "false"},
		Mounts: []stack.Mount{
			{Source: "/work/grafana/provisioning", Target: "/etc/grafana/provisioning", ReadOnly: true},
		},
	}
	s.ApplyDefaults()
	return s
}

func newManager(t *testing.T, rt runtime.ContainerRuntime) *Manager {
	t.Helper()
	m, err := New(rt, "mlops-net", "run-1", []string{"host.docker.internal:host-gateway"})
	require.NoError(t, err)
	return m
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "net", "", nil)
	assert.Error(t, err)
	_, err = New(runtime.NewMemoryRuntime(), "", "", nil)
	assert.Error(t, err)
}

func TestPlan(t *testing.T) {
	desired := []stack.ServiceSpec{{Name: "localstack"}, {Name: "prometheus"}, {Name: "grafana"}}
	observed := map[string]runtime.ContainerState{
		"prometheus": {ID: "p1", Running: true},
		"grafana":    {ID: "g1", Running: false},
	}

	steps := Plan(desired, observed)

	assert.Equal(t, []Step{
		{Service: "localstack", Action: ActionCreate},
		{Service: "prometheus", Action: ActionRecreate, Running: true, PreviousID: "p1"},
		{Service: "grafana", Action: ActionRecreate, Running: false, PreviousID: "g1"},
	}, steps)
}

func TestEnsureNetwork_Idempotent(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	m := newManager(t, rt)

	created, err := m.EnsureNetwork(context.Background())
	require.NoError(t, err)
	assert.True(t, created)

	created, err = m.EnsureNetwork(context.Background())
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, []string{"mlops-net"}, rt.Networks())
	assert.Equal(t, []string{"network-create mlops-net"}, rt.Journal())
}

func TestEnsureNetwork_Failure(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	rt.FailOn("network", "", errors.New("permission denied"))

	_, err := newManager(t, rt).EnsureNetwork(context.Background())
	assert.ErrorIs(t, err, ErrLifecycle)
}

func TestApply_Create(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	m := newManager(t, rt)
	ctx := context.Background()
	_, err := m.EnsureNetwork(ctx)
	require.NoError(t, err)

	spec := grafanaSpec()
	out, err := m.Apply(ctx, Plan([]stack.ServiceSpec{spec}, nil)[0], spec)
	require.NoError(t, err)

	assert.Equal(t, ActionCreate, out.Action)
	assert.NotEmpty(t, out.ContainerID)
	assert.False(t, out.StartedAt.IsZero())

	cfg, ok := rt.ConfigOf("grafana")
	require.True(t, ok)
	assert.Equal(t, "mlops-net", cfg.Network)
	assert.Equal(t, []string{"grafana"}, cfg.Aliases)
	assert.Equal(t, []string{"GF_SECURITY_ADMIN_USER=admin", "GF_USERS_ALLOW_SIGN_UP=false"}, cfg.Env)
	assert.Equal(t, "unless-stopped", cfg.RestartPolicy)
	assert.Equal(t, []string{"host.docker.internal:host-gateway"}, cfg.ExtraHosts)
	assert.Equal(t, "true", cfg.Labels[LabelManaged])
	assert.Equal(t, "grafana", cfg.Labels[LabelService])
	assert.Equal(t, "run-1", cfg.Labels[LabelRunID])
	assert.True(t, cfg.Mounts[0].ReadOnly)
}

func TestApply_ReplacesStaleContainer(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	stale := time.Now().Add(-time.Hour)
	rt.AddContainer(runtime.ContainerState{ID: "old", Name: "grafana", Running: true, StartedAt: stale})
	m := newManager(t, rt)
	ctx := context.Background()
	_, err := m.EnsureNetwork(ctx)
	require.NoError(t, err)

	spec := grafanaSpec()
	observed, errs := m.Observe(ctx, []stack.ServiceSpec{spec})
	require.Empty(t, errs)
	step := Plan([]stack.ServiceSpec{spec}, observed)[0]
	require.Equal(t, ActionRecreate, step.Action)

	out, err := m.Apply(ctx, step, spec)
	require.NoError(t, err)

	assert.NotEqual(t, "old", out.ContainerID)
	assert.True(t, out.StartedAt.After(stale))
	assert.Equal(t, []string{
		"network-create mlops-net",
		"stop grafana",
		"remove grafana",
		"pull grafana/grafana:11.1.0",
		"create grafana",
		"start grafana",
	}, rt.Journal())
}

func TestObserve_InspectFailureIsPerService(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	rt.AddContainer(runtime.ContainerState{ID: "g1", Name: "grafana", Running: true})
	boom := errors.New("engine hiccup")
	rt.FailOn("inspect", "localstack", boom)
	m := newManager(t, rt)

	observed, errs := m.Observe(context.Background(), []stack.ServiceSpec{{Name: "localstack"}, grafanaSpec()})

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs["localstack"], boom)
	assert.ErrorIs(t, errs["localstack"], ErrLifecycle)
	assert.Equal(t, "g1", observed["grafana"].ID)
}

func TestApply_StoppedContainerIsNotStopped(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	rt.AddContainer(runtime.ContainerState{Name: "grafana", Running: false})
	m := newManager(t, rt)
	ctx := context.Background()
	_, err := m.EnsureNetwork(ctx)
	require.NoError(t, err)

	spec := grafanaSpec()
	observed, errs := m.Observe(ctx, []stack.ServiceSpec{spec})
	require.Empty(t, errs)
	_, err = m.Apply(ctx, Plan([]stack.ServiceSpec{spec}, observed)[0], spec)
	require.NoError(t, err)

	assert.NotContains(t, rt.Journal(), "stop grafana")
	assert.Contains(t, rt.Journal(), "remove grafana")
}

func TestApply_Failures(t *testing.T) {
	for _, op := range []string{"pull", "create", "start"} {
		t.Run(op, func(t *testing.T) {
			rt := runtime.NewMemoryRuntime()
			rt.FailOn(op, "", errors.New("engine said no"))
			m := newManager(t, rt)
			ctx := context.Background()
			_, err := m.EnsureNetwork(ctx)
			require.NoError(t, err)

			spec := grafanaSpec()
			_, err = m.Apply(ctx, Step{Service: spec.Name, Action: ActionCreate}, spec)
			assert.ErrorIs(t, err, ErrLifecycle)
			assert.Contains(t, err.Error(), "engine said no")
		})
	}
}

func TestApply_TwiceConverges(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	m := newManager(t, rt)
	ctx := context.Background()
	spec := grafanaSpec()

	var starts []time.Time
	for i := 0; i < 2; i++ {
		_, err := m.EnsureNetwork(ctx)
		require.NoError(t, err)
		observed, errs := m.Observe(ctx, []stack.ServiceSpec{spec})
		require.Empty(t, errs)
		out, err := m.Apply(ctx, Plan([]stack.ServiceSpec{spec}, observed)[0], spec)
		require.NoError(t, err)
		starts = append(starts, out.StartedAt)
	}

	assert.Equal(t, []string{"grafana"}, rt.ListContainers())
	assert.Equal(t, []string{"mlops-net"}, rt.Networks())
	assert.True(t, starts[1].After(starts[0]))
}

func TestTeardown(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	m := newManager(t, rt)
	ctx := context.Background()
	_, err := m.EnsureNetwork(ctx)
	require.NoError(t, err)
	spec := grafanaSpec()
	_, err = m.Apply(ctx, Step{Service: spec.Name, Action: ActionCreate}, spec)
	require.NoError(t, err)

	missing := stack.ServiceSpec{Name: "localstack"}
	require.NoError(t, m.Teardown(ctx, []stack.ServiceSpec{missing, spec}))

	assert.Empty(t, rt.ListContainers())
	assert.Empty(t, rt.Networks())

	// nothing left: second teardown is a no-op
	require.NoError(t, m.Teardown(ctx, []stack.ServiceSpec{missing, spec}))
}

func TestTeardown_CollectsErrors(t *testing.T) {
	rt := runtime.NewMemoryRuntime()
	rt.AddContainer(runtime.ContainerState{Name: "prometheus"})
	rt.AddContainer(runtime.ContainerState{Name: "grafana"})
	rt.FailOn("remove", "prometheus", errors.New("busy"))

	err := newManager(t, rt).Teardown(context.Background(), []stack.ServiceSpec{{Name: "prometheus"}, {Name: "grafana"}})

	assert.ErrorIs(t, err, ErrLifecycle)
	assert.Equal(t, []string{"prometheus"}, rt.ListContainers())
}
