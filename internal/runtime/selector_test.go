package runtime

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCommander struct {
	binaries map[string]string
	outputs  map[string]string
}

func (f *fakeCommander) LookPath(file string) (string, error) {
	if p, ok := f.binaries[file]; ok {
		return p, nil
	}
	return "", exec.ErrNotFound
}

func (f *fakeCommander) Output(_ context.Context, name string, _ ...string) ([]byte, error) {
	if out, ok := f.outputs[name]; ok {
		return []byte(out), nil
	}
	return nil, errors.New("exit status 125")
}

// pingRuntime is a MemoryRuntime whose Ping result is controlled per host.
type pingRuntime struct {
	*MemoryRuntime
	pingErr error
	closed  bool
}

func (p *pingRuntime) Ping(_ context.Context) error { return p.pingErr }
func (p *pingRuntime) Close() error                 { p.closed = true; return nil }

type fakeFactory struct {
	healthy map[string]bool
	calls   []string
	built   []*pingRuntime
}

func (f *fakeFactory) build(kind EngineKind, host string) (ContainerRuntime, error) {
	f.calls = append(f.calls, string(kind)+"@"+host)
	rt := &pingRuntime{MemoryRuntime: NewMemoryRuntime()}
	if !f.healthy[string(kind)+"@"+host] {
		rt.pingErr = errors.New("connection refused")
	}
	f.built = append(f.built, rt)
	return rt, nil
}

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestCandidates(t *testing.T) {
	tests := []struct {
		override string
		want     []EngineKind
		wantErr  bool
	}{
		{"", []EngineKind{EngineDocker, EnginePodman}, false},
		{"auto", []EngineKind{EngineDocker, EnginePodman}, false},
		{"Docker", []EngineKind{EngineDocker}, false},
		{"podman", []EngineKind{EnginePodman}, false},
		{"memory", []EngineKind{EngineMemory}, false},
		{"nerdctl", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.override, func(t *testing.T) {
			got, err := Candidates(tt.override)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelector_PrefersDocker(t *testing.T) {
	cmd := &fakeCommander{binaries: map[string]string{"docker": "/usr/bin/docker", "podman": "/usr/bin/podman"}}
	factory := &fakeFactory{healthy: map[string]bool{"docker@": true, "podman@unix:///run/podman/podman.sock": true}}
	s := NewSelectorWith(cmd, factory.build, env(nil), "linux", time.Second)

	handle, rt, err := s.Select(context.Background(), "auto")
	require.NoError(t, err)
	assert.NotNil(t, rt)
	assert.Equal(t, EngineDocker, handle.Engine)
	assert.Equal(t, "/usr/bin/docker", handle.Binary)
	assert.Equal(t, "default", handle.Host)
	assert.Equal(t, "linux", handle.OS)
	assert.Equal(t, []string{"docker@"}, factory.calls)
}

func TestSelector_FallsBackToPodmanWhenDockerDaemonIsDown(t *testing.T) {
	cmd := &fakeCommander{
		binaries: map[string]string{"docker": "/usr/bin/docker", "podman": "/usr/bin/podman"},
		outputs:  map[string]string{"/usr/bin/podman": "/run/user/1000/podman/podman.sock\n"},
	}
	factory := &fakeFactory{healthy: map[string]bool{"podman@unix:///run/user/1000/podman/podman.sock": true}}
	s := NewSelectorWith(cmd, factory.build, env(nil), "linux", time.Second)

	handle, _, err := s.Select(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, EnginePodman, handle.Engine)
	assert.Equal(t, "unix:///run/user/1000/podman/podman.sock", handle.Host)
	assert.True(t, factory.built[0].closed, "unresponsive client must be closed")
}

func TestSelector_PodmanHostOrder(t *testing.T) {
	cmd := &fakeCommander{binaries: map[string]string{"podman": "/usr/bin/podman"}}
	factory := &fakeFactory{healthy: map[string]bool{}}
	s := NewSelectorWith(cmd, factory.build, env(map[string]string{
		"CONTAINER_HOST":  "unix:///custom.sock",
		"XDG_RUNTIME_DIR": "/run/user/1000",
	}), "linux", time.Second)

	_, _, err := s.Select(context.Background(), "podman")
	require.Error(t, err)
	assert.Equal(t, []string{
		"podman@unix:///custom.sock",
		"podman@unix:///run/podman/podman.sock",
		"podman@unix:///run/user/1000/podman/podman.sock",
	}, factory.calls)
}

func TestSelector_NoEngine(t *testing.T) {
	cmd := &fakeCommander{binaries: map[string]string{"docker": "/usr/bin/docker"}}
	factory := &fakeFactory{healthy: map[string]bool{}}
	s := NewSelectorWith(cmd, factory.build, env(nil), "darwin", time.Second)

	_, rt, err := s.Select(context.Background(), "auto")
	assert.Nil(t, rt)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoEngine)
	assert.Contains(t, err.Error(), "docker")
	assert.Contains(t, err.Error(), "podman: binary not found")
}

func TestSelector_OverrideRestrictsCandidates(t *testing.T) {
	cmd := &fakeCommander{binaries: map[string]string{"docker": "/usr/bin/docker"}}
	factory := &fakeFactory{healthy: map[string]bool{"docker@": true}}
	s := NewSelectorWith(cmd, factory.build, env(nil), "linux", time.Second)

	_, _, err := s.Select(context.Background(), "podman")
	assert.ErrorIs(t, err, ErrNoEngine)
	assert.Empty(t, factory.calls, "docker must not be probed when podman is forced")
}

func TestSelector_Memory(t *testing.T) {
	s := NewSelectorWith(&fakeCommander{}, nil, env(nil), "linux", time.Second)

	handle, rt, err := s.Select(context.Background(), "memory")
	require.NoError(t, err)
	assert.Equal(t, EngineMemory, handle.Engine)
	assert.IsType(t, &MemoryRuntime{}, rt)
}
