package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/bassista/stackup/internal/logger"
	"github.com/containerd/errdefs"
	"github.com/moby/moby/api/pkg/stdcopy"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"
	"github.com/sirupsen/logrus"
)

const stopTimeoutSecs = 10

// DockerClient is the subset of the moby client used by DockerRuntime.
type DockerClient interface {
	Ping(ctx context.Context, options client.PingOptions) (client.PingResult, error)
	NetworkInspect(ctx context.Context, networkID string, options client.NetworkInspectOptions) (client.NetworkInspectResult, error)
	NetworkCreate(ctx context.Context, name string, options client.NetworkCreateOptions) (client.NetworkCreateResult, error)
	NetworkRemove(ctx context.Context, networkID string, options client.NetworkRemoveOptions) (client.NetworkRemoveResult, error)
	ContainerInspect(ctx context.Context, containerID string, options client.ContainerInspectOptions) (client.ContainerInspectResult, error)
	ContainerCreate(ctx context.Context, options client.ContainerCreateOptions) (client.ContainerCreateResult, error)
	ContainerStart(ctx context.Context, containerID string, options client.ContainerStartOptions) (client.ContainerStartResult, error)
	ContainerStop(ctx context.Context, containerID string, options client.ContainerStopOptions) (client.ContainerStopResult, error)
	ContainerRemove(ctx context.Context, containerID string, options client.ContainerRemoveOptions) (client.ContainerRemoveResult, error)
	ContainerLogs(ctx context.Context, containerID string, options client.ContainerLogsOptions) (client.ContainerLogsResult, error)
	ImageInspect(ctx context.Context, imageID string, inspectOpts ...client.ImageInspectOption) (client.ImageInspectResult, error)
	ImagePull(ctx context.Context, refStr string, options client.ImagePullOptions) (client.ImagePullResponse, error)
	Close() error
}

// DockerRuntime talks to a Docker-compatible engine API (dockerd or the podman service).
type DockerRuntime struct {
	cli  DockerClient
	kind EngineKind
}

// NewDockerRuntime connects to the engine API at host; an empty host keeps the
// DOCKER_HOST/default resolution of the client.
func NewDockerRuntime(kind EngineKind, host string) (*DockerRuntime, error) {
	opts := []client.Opt{client.FromEnv}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", kind, err)
	}
	return &DockerRuntime{cli: cli, kind: kind}, nil
}

func NewDockerRuntimeWithClient(cli DockerClient) *DockerRuntime {
	return &DockerRuntime{cli: cli, kind: EngineDocker}
}

func (d *DockerRuntime) log() *logrus.Entry {
	return logger.WithComponent(string(d.kind) + "-runtime")
}

func (d *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx, client.PingOptions{}); err != nil {
		return fmt.Errorf("%s engine is not responding: %w", d.kind, err)
	}
	return nil
}

func (d *DockerRuntime) NetworkExists(ctx context.Context, name string) (bool, error) {
	_, err := d.cli.NetworkInspect(ctx, name, client.NetworkInspectOptions{})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect network %s: %w", name, err)
	}
	return true, nil
}

func (d *DockerRuntime) CreateNetwork(ctx context.Context, name string, labels map[string]string) error {
	res, err := d.cli.NetworkCreate(ctx, name, client.NetworkCreateOptions{
		Driver: "bridge",
		Labels: labels,
	})
	if err != nil {
		return fmt.Errorf("create network %s: %w", name, err)
	}
	d.log().Debugf("network %s created with id %s", name, res.ID)
	return nil
}

func (d *DockerRuntime) RemoveNetwork(ctx context.Context, name string) error {
	if _, err := d.cli.NetworkRemove(ctx, name, client.NetworkRemoveOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove network %s: %w", name, err)
	}
	return nil
}

func (d *DockerRuntime) Inspect(ctx context.Context, containerName string) (ContainerState, bool, error) {
	res, err := d.cli.ContainerInspect(ctx, containerName, client.ContainerInspectOptions{})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ContainerState{}, false, nil
		}
		return ContainerState{}, false, fmt.Errorf("inspect container %s: %w", containerName, err)
	}

	inspect := res.Container
	state := ContainerState{
		ID:   inspect.ID,
		Name: containerName,
	}
	if inspect.Config != nil {
		state.Image = inspect.Config.Image
		state.Labels = inspect.Config.Labels
	}
	if inspect.State != nil {
		state.Running = inspect.State.Running
		state.Status = string(inspect.State.Status)
		if started, err := time.Parse(time.RFC3339Nano, inspect.State.StartedAt); err == nil {
			state.StartedAt = started
		}
	}
	return state, true, nil
}

// EnsureImage pulls the image only when it is not already present locally.
func (d *DockerRuntime) EnsureImage(ctx context.Context, image string) error {
	if _, err := d.cli.ImageInspect(ctx, image); err == nil {
		return nil
	} else if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspect image %s: %w", image, err)
	}

	d.log().Infof("pulling image %s", image)
	resp, err := d.cli.ImagePull(ctx, image, client.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", image, err)
	}
	defer resp.Close()

	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, resp); err != nil {
		return fmt.Errorf("pull image %s: %w", image, err)
	}
	return nil
}

func (d *DockerRuntime) Create(ctx context.Context, cfg ContainerConfig) (string, error) {
	exposed := network.PortSet{}
	bindings := network.PortMap{}
	for _, p := range cfg.Ports {
		port, err := network.ParsePort(fmt.Sprintf("%d/tcp", p.ContainerPort))
		if err != nil {
			return "", fmt.Errorf("container %s: invalid port %d: %w", cfg.Name, p.ContainerPort, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = []network.PortBinding{{HostPort: strconv.Itoa(p.HostPort)}}
	}

	binds := make([]string, 0, len(cfg.Mounts))
	for _, m := range cfg.Mounts {
		bind := m.Source + ":" + m.Target
		if m.ReadOnly {
			bind += ":ro"
		}
		binds = append(binds, bind)
	}

	containerConfig := &container.Config{
		Image:        cfg.Image,
		Env:          cfg.Env,
		Cmd:          cfg.Cmd,
		ExposedPorts: exposed,
		Labels:       cfg.Labels,
	}
	hostConfig := &container.HostConfig{
		Binds:         binds,
		PortBindings:  bindings,
		ExtraHosts:    cfg.ExtraHosts,
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyMode(cfg.RestartPolicy)},
	}
	var networkingConfig *network.NetworkingConfig
	if cfg.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(cfg.Network)
		networkingConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				cfg.Network: {Aliases: cfg.Aliases},
			},
		}
	}

	res, err := d.cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:           containerConfig,
		HostConfig:       hostConfig,
		NetworkingConfig: networkingConfig,
		Name:             cfg.Name,
	})
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", cfg.Name, err)
	}
	for _, w := range res.Warnings {
		d.log().Warnf("create %s: %s", cfg.Name, w)
	}
	return res.ID, nil
}

func (d *DockerRuntime) Start(ctx context.Context, containerName string) error {
	if _, err := d.cli.ContainerStart(ctx, containerName, client.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", containerName, err)
	}
	return nil
}

func (d *DockerRuntime) Stop(ctx context.Context, containerName string) error {
	timeout := stopTimeoutSecs
	if _, err := d.cli.ContainerStop(ctx, containerName, client.ContainerStopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("stop container %s: %w", containerName, err)
	}
	return nil
}

func (d *DockerRuntime) Remove(ctx context.Context, containerName string) error {
	if _, err := d.cli.ContainerRemove(ctx, containerName, client.ContainerRemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container %s: %w", containerName, err)
	}
	return nil
}

// Logs returns the last tail lines of stdout and stderr, interleaved.
func (d *DockerRuntime) Logs(ctx context.Context, containerName string, tail int) (string, error) {
	rc, err := d.cli.ContainerLogs(ctx, containerName, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return "", fmt.Errorf("logs of container %s: %w", containerName, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return buf.String(), fmt.Errorf("read logs of container %s: %w", containerName, err)
	}
	return buf.String(), nil
}

func (d *DockerRuntime) Close() error {
	return d.cli.Close()
}
