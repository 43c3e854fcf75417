package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/bassista/stackup/internal/logger"
)

// ErrNoEngine is returned when no candidate engine is both installed and responsive.
var ErrNoEngine = errors.New("no usable container engine found")

// Commander runs engine CLI probes. It exists so tests can fake the host.
type Commander interface {
	LookPath(file string) (string, error)
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execCommander struct{}

func (execCommander) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (execCommander) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// RuntimeFactory builds a runtime bound to an engine API host.
type RuntimeFactory func(kind EngineKind, host string) (ContainerRuntime, error)

// Selector probes the supported engines and picks the first operational one.
type Selector struct {
	commander    Commander
	newRuntime   RuntimeFactory
	getenv       func(string) string
	goos         string
	probeTimeout time.Duration
}

func NewSelector(probeTimeout time.Duration) *Selector {
	return &Selector{
		commander:    execCommander{},
		newRuntime:   NewRuntimeFromConfig,
		getenv:       os.Getenv,
		goos:         goruntime.GOOS,
		probeTimeout: probeTimeout,
	}
}

// NewSelectorWith is NewSelector with injectable host collaborators.
func NewSelectorWith(commander Commander, factory RuntimeFactory, getenv func(string) string, goos string, probeTimeout time.Duration) *Selector {
	return &Selector{
		commander:    commander,
		newRuntime:   factory,
		getenv:       getenv,
		goos:         goos,
		probeTimeout: probeTimeout,
	}
}

// Candidates returns the engines to probe, in preference order, for an override value.
func Candidates(override string) ([]EngineKind, error) {
	switch strings.ToLower(override) {
	case "", EngineAuto:
		return []EngineKind{EngineDocker, EnginePodman}, nil
	case string(EngineDocker):
		return []EngineKind{EngineDocker}, nil
	case string(EnginePodman):
		return []EngineKind{EnginePodman}, nil
	case string(EngineMemory):
		return []EngineKind{EngineMemory}, nil
	default:
		return nil, fmt.Errorf("unknown engine: %s (supported: %s, %s, %s, %s)", override, EngineAuto, EngineDocker, EnginePodman, EngineMemory)
	}
}

// Select returns the handle and runtime of the first engine whose binary is on PATH
// and whose API answers a ping. There is no degraded mode.
func (s *Selector) Select(ctx context.Context, override string) (Handle, ContainerRuntime, error) {
	candidates, err := Candidates(override)
	if err != nil {
		return Handle{}, nil, err
	}

	var reasons []error
	for _, kind := range candidates {
		handle, rt, err := s.probe(ctx, kind)
		if err != nil {
			logger.WithComponent("selector").Debugf("engine %s not usable: %v", kind, err)
			reasons = append(reasons, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		logger.WithComponent("selector").Infof("using container engine %s", handle)
		return handle, rt, nil
	}
	return Handle{}, nil, fmt.Errorf("%w: %w", ErrNoEngine, errors.Join(reasons...))
}

func (s *Selector) probe(ctx context.Context, kind EngineKind) (Handle, ContainerRuntime, error) {
	if kind == EngineMemory {
		return Handle{Engine: EngineMemory, Host: "memory://", OS: s.goos}, NewMemoryRuntime(), nil
	}

	bin, err := s.commander.LookPath(string(kind))
	if err != nil {
		return Handle{}, nil, fmt.Errorf("binary not found on PATH: %w", err)
	}

	var reasons []error
	for _, host := range s.hosts(ctx, kind, bin) {
		rt, err := s.newRuntime(kind, host)
		if err != nil {
			reasons = append(reasons, err)
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
		err = rt.Ping(pingCtx)
		cancel()
		if err != nil {
			_ = rt.Close()
			reasons = append(reasons, fmt.Errorf("%s: %w", displayHost(host), err))
			continue
		}
		return Handle{Engine: kind, Binary: bin, Host: displayHost(host), OS: s.goos}, rt, nil
	}
	if len(reasons) == 0 {
		return Handle{}, nil, errors.New("no engine endpoint to probe")
	}
	return Handle{}, nil, errors.Join(reasons...)
}

// hosts lists the API endpoints worth probing for kind, most specific first.
// An empty string means the client default (DOCKER_HOST or the platform socket).
func (s *Selector) hosts(ctx context.Context, kind EngineKind, bin string) []string {
	if kind == EngineDocker {
		return []string{s.getenv("DOCKER_HOST")}
	}

	var hosts []string
	if h := s.getenv("CONTAINER_HOST"); h != "" {
		hosts = append(hosts, h)
	}

	infoCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()
	out, err := s.commander.Output(infoCtx, bin, "info", "--format", "{{.Host.RemoteSocket.Path}}")
	if err == nil {
		if socket := strings.TrimSpace(string(out)); socket != "" {
			hosts = append(hosts, socketURL(socket))
		}
	} else {
		logger.WithComponent("selector").Debugf("podman info failed: %v", err)
	}

	if s.goos == "linux" {
		hosts = append(hosts, "unix:///run/podman/podman.sock")
		if xdg := s.getenv("XDG_RUNTIME_DIR"); xdg != "" {
			hosts = append(hosts, "unix://"+xdg+"/podman/podman.sock")
		}
	}
	return dedupe(hosts)
}

func socketURL(path string) string {
	if strings.Contains(path, "://") {
		return path
	}
	return "unix://" + path
}

func displayHost(host string) string {
	if host == "" {
		return "default"
	}
	return host
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
