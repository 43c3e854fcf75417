package topology

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bassista/stackup/internal/runtime"
	"github.com/stretchr/testify/assert"
)

type fakeProbe struct {
	resolvable map[string]bool
	listening  map[string]bool
	lookups    int
}

func (f *fakeProbe) LookupHost(_ context.Context, host string) ([]string, error) {
	f.lookups++
	if f.resolvable[host] {
		return []string{"192.168.65.254"}, nil
	}
	return nil, errors.New("no such host")
}

func (f *fakeProbe) DialTCP(_ context.Context, address string) error {
	if f.listening[address] {
		return nil
	}
	return errors.New("connection refused")
}

// blockingProbe never answers until its context expires.
type blockingProbe struct{}

func (blockingProbe) LookupHost(ctx context.Context, _ string) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingProbe) DialTCP(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

var apiRequest = Request{ServiceName: "api", Port: 8000}

func TestLookup(t *testing.T) {
	tests := []struct {
		name   string
		engine runtime.EngineKind
		goos   string
		want   Platform
	}{
		{"docker on linux needs host-gateway", runtime.EngineDocker, "linux", Platform{HostAlias: "host.docker.internal", AliasFlag: "host.docker.internal:host-gateway"}},
		{"docker desktop on mac", runtime.EngineDocker, "darwin", Platform{HostAlias: "host.docker.internal"}},
		{"docker desktop on windows", runtime.EngineDocker, "windows", Platform{HostAlias: "host.docker.internal"}},
		{"podman anywhere", runtime.EnginePodman, "linux", Platform{HostAlias: "host.containers.internal"}},
		{"unknown engine", runtime.EngineKind("nerdctl"), "linux", Platform{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Lookup(tt.engine, tt.goos))
		})
	}
}

func TestResolve_AliasFirstWhenResolvable(t *testing.T) {
	probe := &fakeProbe{resolvable: map[string]bool{"host.docker.internal": true}}
	r := NewResolverWithProbe(probe, 50*time.Millisecond)

	res := r.Resolve(context.Background(), runtime.Handle{Engine: runtime.EngineDocker, OS: "darwin"}, apiRequest)

	assert.Equal(t, []NetworkTarget{
		{Address: "host.docker.internal:8000", Strategy: StrategyHostAlias},
		{Address: "api:8000", Strategy: StrategyNetworkDNS},
	}, res.Targets)
	assert.Empty(t, res.ExtraHosts)
	assert.False(t, res.HostReachable)
}

func TestResolve_UnresolvableAliasGoesAfterNetworkDNS(t *testing.T) {
	probe := &fakeProbe{listening: map[string]bool{"127.0.0.1:8000": true}}
	r := NewResolverWithProbe(probe, 50*time.Millisecond)

	res := r.Resolve(context.Background(), runtime.Handle{Engine: runtime.EngineDocker, OS: "linux"}, apiRequest)

	assert.Equal(t, []string{"api:8000", "host.docker.internal:8000"}, res.Addresses())
	assert.Equal(t, []string{"host.docker.internal:host-gateway"}, res.ExtraHosts)
	assert.True(t, res.HostReachable)
}

func TestResolve_Podman(t *testing.T) {
	probe := &fakeProbe{resolvable: map[string]bool{"host.containers.internal": true}}
	r := NewResolverWithProbe(probe, 50*time.Millisecond)

	res := r.Resolve(context.Background(), runtime.Handle{Engine: runtime.EnginePodman, OS: "linux"}, apiRequest)

	assert.Equal(t, []string{"host.containers.internal:8000", "api:8000"}, res.Addresses())
	assert.Empty(t, res.ExtraHosts)
}

func TestResolve_ExplicitTargetsAppendedAndDeduplicated(t *testing.T) {
	probe := &fakeProbe{}
	r := NewResolverWithProbe(probe, 50*time.Millisecond)
	req := Request{ServiceName: "api", Port: 8000, ExtraTargets: []string{"172.17.0.1:8000", "api:8000"}}

	res := r.Resolve(context.Background(), runtime.Handle{Engine: runtime.EngineMemory, OS: "linux"}, req)

	assert.Equal(t, []NetworkTarget{
		{Address: "api:8000", Strategy: StrategyNetworkDNS},
		{Address: "172.17.0.1:8000", Strategy: StrategyExplicit},
	}, res.Targets)
	assert.Zero(t, probe.lookups, "no alias lookup without a host alias")
}

func TestResolve_ProbesAreBounded(t *testing.T) {
	r := NewResolverWithProbe(blockingProbe{}, 20*time.Millisecond)

	start := time.Now()
	res := r.Resolve(context.Background(), runtime.Handle{Engine: runtime.EngineDocker, OS: "linux"}, apiRequest)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Len(t, res.Targets, 2, "candidates are still produced when every probe times out")
}
