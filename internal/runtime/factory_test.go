package runtime

import (
	"testing"
)

func TestNewRuntimeFromConfig_Memory(t *testing.T) {
	rt, err := NewRuntimeFromConfig(EngineMemory, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := rt.(*MemoryRuntime); !ok {
		t.Error("expected MemoryRuntime type")
	}
}

func TestNewRuntimeFromConfig_Docker(t *testing.T) {
	// Client construction does not contact the daemon.
	rt, err := NewRuntimeFromConfig(EngineDocker, "unix:///var/run/docker.sock")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dr, ok := rt.(*DockerRuntime)
	if !ok {
		t.Fatal("expected DockerRuntime type")
	}
	if dr.kind != EngineDocker {
		t.Errorf("expected kind docker, got %s", dr.kind)
	}
}

func TestNewRuntimeFromConfig_Podman(t *testing.T) {
	rt, err := NewRuntimeFromConfig(EnginePodman, "unix:///run/podman/podman.sock")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dr, ok := rt.(*DockerRuntime)
	if !ok {
		t.Fatal("expected DockerRuntime type for podman")
	}
	if dr.kind != EnginePodman {
		t.Errorf("expected kind podman, got %s", dr.kind)
	}
}

func TestNewRuntimeFromConfig_UnknownType(t *testing.T) {
	_, err := NewRuntimeFromConfig("containerd", "")
	if err == nil {
		t.Error("expected error for unknown runtime type")
	}
}

func TestHandle_Command(t *testing.T) {
	h := Handle{Engine: EnginePodman}
	if got := h.Command("logs", "--tail", "50", "grafana"); got != "podman logs --tail 50 grafana" {
		t.Errorf("unexpected command: %q", got)
	}
}
