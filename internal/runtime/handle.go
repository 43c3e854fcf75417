package runtime

import (
	"fmt"
	"strings"
)

// EngineKind names a supported container engine.
type EngineKind string

const (
	EngineDocker EngineKind = "docker"
	EnginePodman EngineKind = "podman"
	EngineMemory EngineKind = "memory"

	EngineAuto = "auto"
)

// Handle identifies the engine selected for this invocation. It is resolved once and
// never mutated afterwards.
type Handle struct {
	Engine EngineKind
	// Binary is the absolute path of the engine CLI, used for operator hints.
	Binary string
	// Host is the engine API endpoint, e.g. unix:///var/run/docker.sock.
	Host string
	// OS is the host operating system (GOOS).
	OS string
}

// Command renders an engine CLI invocation the operator can copy, e.g. "docker logs grafana".
func (h Handle) Command(args ...string) string {
	bin := string(h.Engine)
	if h.Engine == EngineMemory {
		bin = "stackup"
	}
	return strings.TrimSpace(bin + " " + strings.Join(args, " "))
}

func (h Handle) String() string {
	return fmt.Sprintf("%s (%s, %s)", h.Engine, h.Host, h.OS)
}
