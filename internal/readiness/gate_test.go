package readiness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bassista/stackup/internal/retry"
	"github.com/bassista/stackup/internal/stack"
	"github.com/bassista/stackup/internal/stacktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLogs struct {
	out   string
	err   error
	calls int
}

func (f *fakeLogs) Logs(_ context.Context, _ string, _ int) (string, error) {
	f.calls++
	return f.out, f.err
}

func prometheusSpec(port int) stack.ServiceSpec {
	return stack.ServiceSpec{
		Name:   stack.Prometheus,
		Port:   stack.Port{Host: port, Container: 9090},
		Health: stack.HealthCheck{Path: "/-/ready", Kind: stack.HealthReadyText, Expect: "Ready"},
	}
}

func gateFor(f *stacktest.Fake, logs LogSource, attempts int) *Gate {
	return NewGate(logs, Options{
		ProbeHost:      f.Host(),
		Policy:         retry.Policy{Interval: 5 * time.Millisecond, MaxAttempts: attempts},
		RequestTimeout: time.Second,
		LogTail:        50,
	})
}

func TestGate_ReadyAfterRetries(t *testing.T) {
	f := stacktest.NewPrometheus(t, 2)
	g := gateFor(f, &fakeLogs{}, 10)

	res, err := g.Wait(context.Background(), prometheusSpec(f.Port()))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Empty(t, res.LogTail)
}

func TestGate_NotReadyCollectsLogs(t *testing.T) {
	f := stacktest.NewPrometheus(t, stacktest.Never)
	logs := &fakeLogs{out: "level=error msg=\"opening storage failed\""}
	g := gateFor(f, logs, 4)

	res, err := g.Wait(context.Background(), prometheusSpec(f.Port()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotReady))
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, 4, f.Hits("/-/ready"))
	assert.Equal(t, 1, logs.calls)
	assert.Contains(t, res.LogTail, "opening storage failed")
}

func TestGate_StatusAloneIsNotEnough(t *testing.T) {
	// Grafana answers 200 while the database is failing
	f := stacktest.NewGrafana(t, stacktest.Never, "admin", "admin", "Prometheus", "", "")
	spec := stack.ServiceSpec{
		Name:   stack.Grafana,
		Port:   stack.Port{Host: f.Port(), Container: 3000},
		Health: stack.HealthCheck{Path: "/api/health", Kind: stack.HealthJSONField, Field: "database", Expect: "ok"},
	}

	_, err := gateFor(f, nil, 3).Wait(context.Background(), spec)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestGate_LocalStackServices(t *testing.T) {
	f := stacktest.NewLocalStack(t, 1, map[string]string{"s3": "running", "sqs": "available"})
	spec := stack.ServiceSpec{
		Name:   stack.LocalStack,
		Port:   stack.Port{Host: f.Port(), Container: 4566},
		Health: stack.HealthCheck{Path: "/_localstack/health", Kind: stack.HealthServiceMap, Required: []string{"s3", "sqs"}},
	}

	res, err := gateFor(f, nil, 5).Wait(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}

func TestGate_ConnectionRefused(t *testing.T) {
	f := stacktest.NewPrometheus(t, 0)
	port := f.Port()
	f.Close()

	start := time.Now()
	_, err := gateFor(f, nil, 3).Wait(context.Background(), prometheusSpec(port))
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestGate_ContextCancelled(t *testing.T) {
	f := stacktest.NewPrometheus(t, stacktest.Never)
	g := NewGate(nil, Options{
		ProbeHost:      f.Host(),
		Policy:         retry.Policy{Interval: 20 * time.Millisecond, MaxAttempts: 1000},
		RequestTimeout: time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := g.Wait(ctx, prometheusSpec(f.Port()))
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
