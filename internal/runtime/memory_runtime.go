package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bassista/stackup/internal/logger"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type memoryContainer struct {
	state  ContainerState
	config ContainerConfig
}

// MemoryRuntime is an in-process engine that keeps networks, images and containers
// in memory. It backs tests and dry runs; nothing is actually executed.
type MemoryRuntime struct {
	mu         sync.RWMutex
	networks   map[string]map[string]string
	containers map[string]*memoryContainer
	images     map[string]bool
	logs       map[string]string
	failures   map[string]error
	journal    []string
	lastStart  time.Time
}

func NewMemoryRuntime() *MemoryRuntime {
	return &MemoryRuntime{
		networks:   map[string]map[string]string{},
		containers: map[string]*memoryContainer{},
		images:     map[string]bool{},
		logs:       map[string]string{},
		failures:   map[string]error{},
	}
}

func (m *MemoryRuntime) log() *logrus.Entry {
	return logger.WithComponent("memory-runtime")
}

// FailOn makes the named operation ("create", "start", "remove", "stop", "pull",
// "network", "inspect") fail with err for target. An empty target matches every target.
func (m *MemoryRuntime) FailOn(op, target string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op+"/"+target] = err
}

// SetLogs sets the log output returned for a container.
func (m *MemoryRuntime) SetLogs(containerName, logs string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[containerName] = logs
}

// AddContainer registers a pre-existing container, e.g. one left by an earlier run.
func (m *MemoryRuntime) AddContainer(state ContainerState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state.ID == "" {
		state.ID = uuid.NewString()
	}
	m.containers[state.Name] = &memoryContainer{state: state}
}

// Journal returns the operations performed so far, e.g. "create grafana".
func (m *MemoryRuntime) Journal() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.journal...)
}

// Networks returns the names of existing networks, sorted.
func (m *MemoryRuntime) Networks() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.networks))
	for n := range m.networks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ListContainers returns the names of containers known to the memory runtime, sorted.
func (m *MemoryRuntime) ListContainers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.containers))
	for n := range m.containers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ConfigOf returns the creation config of a container created through Create.
func (m *MemoryRuntime) ConfigOf(containerName string) (ContainerConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.containers[containerName]
	if !ok {
		return ContainerConfig{}, false
	}
	return c.config, true
}

// failure must be called with the lock held.
func (m *MemoryRuntime) failure(op, target string) error {
	if err, ok := m.failures[op+"/"+target]; ok {
		return err
	}
	if err, ok := m.failures[op+"/"]; ok {
		return err
	}
	return nil
}

// record must be called with the lock held.
func (m *MemoryRuntime) record(op, target string) {
	m.journal = append(m.journal, op+" "+target)
	m.log().Debugf("%s %s", op, target)
}

func (m *MemoryRuntime) Ping(_ context.Context) error {
	return nil
}

func (m *MemoryRuntime) NetworkExists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.networks[name]
	return ok, nil
}

func (m *MemoryRuntime) CreateNetwork(_ context.Context, name string, labels map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("network", name); err != nil {
		return err
	}
	if _, ok := m.networks[name]; ok {
		return fmt.Errorf("network with name %s already exists", name)
	}
	m.record("network-create", name)
	m.networks[name] = labels
	return nil
}

func (m *MemoryRuntime) RemoveNetwork(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("network-remove", name)
	delete(m.networks, name)
	return nil
}

func (m *MemoryRuntime) Inspect(_ context.Context, containerName string) (ContainerState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("inspect", containerName); err != nil {
		return ContainerState{}, false, err
	}
	c, ok := m.containers[containerName]
	if !ok {
		return ContainerState{}, false, nil
	}
	return c.state, true, nil
}

func (m *MemoryRuntime) EnsureImage(_ context.Context, image string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.images[image] {
		return nil
	}
	if err := m.failure("pull", image); err != nil {
		return fmt.Errorf("pull image %s: %w", image, err)
	}
	m.record("pull", image)
	m.images[image] = true
	return nil
}

func (m *MemoryRuntime) Create(_ context.Context, cfg ContainerConfig) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("create", cfg.Name); err != nil {
		return "", fmt.Errorf("create container %s: %w", cfg.Name, err)
	}
	if _, ok := m.containers[cfg.Name]; ok {
		return "", fmt.Errorf("create container %s: name already in use", cfg.Name)
	}
	if cfg.Network != "" {
		if _, ok := m.networks[cfg.Network]; !ok {
			return "", fmt.Errorf("create container %s: network %s not found", cfg.Name, cfg.Network)
		}
	}
	m.record("create", cfg.Name)
	id := uuid.NewString()
	m.containers[cfg.Name] = &memoryContainer{
		state: ContainerState{
			ID:     id,
			Name:   cfg.Name,
			Image:  cfg.Image,
			Status: "created",
			Labels: cfg.Labels,
		},
		config: cfg,
	}
	return id, nil
}

func (m *MemoryRuntime) Start(_ context.Context, containerName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[containerName]
	if !ok {
		return fmt.Errorf("start container %s: not found", containerName)
	}
	if err := m.failure("start", containerName); err != nil {
		return fmt.Errorf("start container %s: %w", containerName, err)
	}
	m.record("start", containerName)

	// Start times are strictly increasing so a replacement is always distinguishable.
	now := time.Now()
	if !now.After(m.lastStart) {
		now = m.lastStart.Add(time.Microsecond)
	}
	m.lastStart = now

	c.state.Running = true
	c.state.Status = "running"
	c.state.StartedAt = now
	return nil
}

func (m *MemoryRuntime) Stop(_ context.Context, containerName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[containerName]
	if !ok {
		return fmt.Errorf("stop container %s: not found", containerName)
	}
	if err := m.failure("stop", containerName); err != nil {
		return fmt.Errorf("stop container %s: %w", containerName, err)
	}
	m.record("stop", containerName)
	c.state.Running = false
	c.state.Status = "exited"
	return nil
}

func (m *MemoryRuntime) Remove(_ context.Context, containerName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("remove", containerName); err != nil {
		return fmt.Errorf("remove container %s: %w", containerName, err)
	}
	if _, ok := m.containers[containerName]; !ok {
		return nil
	}
	m.record("remove", containerName)
	delete(m.containers, containerName)
	return nil
}

func (m *MemoryRuntime) Logs(_ context.Context, containerName string, tail int) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.containers[containerName]; !ok {
		return "", fmt.Errorf("logs of container %s: not found", containerName)
	}
	lines := strings.Split(strings.TrimRight(m.logs[containerName], "\n"), "\n")
	if tail > 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	return strings.Join(lines, "\n"), nil
}

func (m *MemoryRuntime) Close() error {
	return nil
}
