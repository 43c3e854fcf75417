package runtime

import "fmt"

// NewRuntimeFromConfig creates a ContainerRuntime for the engine kind.
// Docker and Podman share the Docker-compatible API client; host selects the socket.
func NewRuntimeFromConfig(kind EngineKind, host string) (ContainerRuntime, error) {
	switch kind {
	case EngineMemory:
		return NewMemoryRuntime(), nil
	case EngineDocker, EnginePodman:
		return NewDockerRuntime(kind, host)
	default:
		return nil, fmt.Errorf("unknown runtime type: %s (supported: %s, %s, %s)", kind, EngineDocker, EnginePodman, EngineMemory)
	}
}
