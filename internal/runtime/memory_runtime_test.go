package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRuntime_NetworkLifecycle(t *testing.T) {
	mr := NewMemoryRuntime()
	ctx := context.Background()

	exists, err := mr.NetworkExists(ctx, "mlops-net")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, mr.CreateNetwork(ctx, "mlops-net", nil))
	exists, _ = mr.NetworkExists(ctx, "mlops-net")
	assert.True(t, exists)

	assert.Error(t, mr.CreateNetwork(ctx, "mlops-net", nil), "duplicate network must be rejected")

	require.NoError(t, mr.RemoveNetwork(ctx, "mlops-net"))
	assert.Empty(t, mr.Networks())
}

func TestMemoryRuntime_ContainerLifecycle(t *testing.T) {
	mr := NewMemoryRuntime()
	ctx := context.Background()
	require.NoError(t, mr.CreateNetwork(ctx, "mlops-net", nil))

	id, err := mr.Create(ctx, ContainerConfig{Name: "grafana", Image: "grafana/grafana", Network: "mlops-net"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	state, found, err := mr.Inspect(ctx, "grafana")
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, state.Running)

	require.NoError(t, mr.Start(ctx, "grafana"))
	state, _, _ = mr.Inspect(ctx, "grafana")
	assert.True(t, state.Running)
	assert.False(t, state.StartedAt.IsZero())

	_, err = mr.Create(ctx, ContainerConfig{Name: "grafana", Image: "grafana/grafana"})
	assert.Error(t, err, "name must be unique")

	require.NoError(t, mr.Stop(ctx, "grafana"))
	require.NoError(t, mr.Remove(ctx, "grafana"))
	_, found, _ = mr.Inspect(ctx, "grafana")
	assert.False(t, found)

	assert.Equal(t, []string{"network-create mlops-net", "create grafana", "start grafana", "stop grafana", "remove grafana"}, mr.Journal())
}

func TestMemoryRuntime_CreateRequiresNetwork(t *testing.T) {
	mr := NewMemoryRuntime()

	_, err := mr.Create(context.Background(), ContainerConfig{Name: "grafana", Network: "missing"})
	assert.Error(t, err)
}

func TestMemoryRuntime_StartTimesIncrease(t *testing.T) {
	mr := NewMemoryRuntime()
	ctx := context.Background()

	_, _ = mr.Create(ctx, ContainerConfig{Name: "a"})
	_, _ = mr.Create(ctx, ContainerConfig{Name: "b"})
	require.NoError(t, mr.Start(ctx, "a"))
	require.NoError(t, mr.Start(ctx, "b"))

	a, _, _ := mr.Inspect(ctx, "a")
	b, _, _ := mr.Inspect(ctx, "b")
	assert.True(t, b.StartedAt.After(a.StartedAt))
}

func TestMemoryRuntime_FailOn(t *testing.T) {
	mr := NewMemoryRuntime()
	ctx := context.Background()
	boom := errors.New("boom")

	mr.FailOn("pull", "grafana/grafana", boom)
	err := mr.EnsureImage(ctx, "grafana/grafana")
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, mr.EnsureImage(ctx, "prom/prometheus"))

	mr.FailOn("create", "", boom)
	_, err = mr.Create(ctx, ContainerConfig{Name: "anything"})
	assert.ErrorIs(t, err, boom)

	mr.FailOn("inspect", "localstack", boom)
	_, _, err = mr.Inspect(ctx, "localstack")
	assert.ErrorIs(t, err, boom)
	_, found, err := mr.Inspect(ctx, "grafana")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryRuntime_Logs(t *testing.T) {
	mr := NewMemoryRuntime()
	ctx := context.Background()
	mr.AddContainer(ContainerState{Name: "grafana"})
	mr.SetLogs("grafana", "line1\nline2\nline3\n")

	logs, err := mr.Logs(ctx, "grafana", 2)
	require.NoError(t, err)
	assert.Equal(t, "line2\nline3", logs)

	_, err = mr.Logs(ctx, "missing", 2)
	assert.Error(t, err)
}

func TestMemoryRuntime_AddContainerAssignsID(t *testing.T) {
	mr := NewMemoryRuntime()
	mr.AddContainer(ContainerState{Name: "stale", Status: "exited"})

	state, found, _ := mr.Inspect(context.Background(), "stale")
	assert.True(t, found)
	assert.NotEmpty(t, state.ID)
	assert.Equal(t, []string{"stale"}, mr.ListContainers())
}
