package runtime

import (
	"context"
	"time"
)

// ContainerState is the observed state of a named container on the engine.
type ContainerState struct {
	ID        string
	Name      string
	Image     string
	Running   bool
	Status    string
	StartedAt time.Time
	Labels    map[string]string
}

// PortBinding publishes ContainerPort (tcp) on HostPort.
type PortBinding struct {
	HostPort      int
	ContainerPort int
}

// Mount binds a host path into the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ContainerConfig is everything needed to create one managed container.
type ContainerConfig struct {
	Name          string
	Image         string
	Env           []string // e.g., ["KEY=value", "FOO=bar"]
	Cmd           []string
	Ports         []PortBinding
	Mounts        []Mount
	Network       string
	Aliases       []string
	ExtraHosts    []string // e.g., ["host.docker.internal:host-gateway"]
	Labels        map[string]string
	RestartPolicy string
}

// ContainerRuntime abstracts the engine operations the bootstrapper needs.
// Docker and Podman are both served through the Docker-compatible API.
type ContainerRuntime interface {
	Ping(ctx context.Context) error

	NetworkExists(ctx context.Context, name string) (bool, error)
	CreateNetwork(ctx context.Context, name string, labels map[string]string) error
	RemoveNetwork(ctx context.Context, name string) error

	// Inspect returns found=false, with no error, when no container has that name.
	Inspect(ctx context.Context, containerName string) (ContainerState, bool, error)
	EnsureImage(ctx context.Context, image string) error
	Create(ctx context.Context, cfg ContainerConfig) (string, error)
	Start(ctx context.Context, containerName string) error
	Stop(ctx context.Context, containerName string) error
	Remove(ctx context.Context, containerName string) error
	Logs(ctx context.Context, containerName string, tail int) (string, error)

	Close() error
}
