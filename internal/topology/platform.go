package topology

import "github.com/bassista/stackup/internal/runtime"

// Platform is the host-alias behavior of one engine on one OS.
type Platform struct {
	// HostAlias is the name containers use to reach the host, if the engine has one.
	HostAlias string
	// AliasFlag is an extra-hosts entry that must be injected at creation for
	// HostAlias to resolve inside containers.
	AliasFlag string
}

type platformKey struct {
	engine runtime.EngineKind
	os     string
}

const anyOS = "*"

// platforms is keyed by (engine, GOOS); "*" is the per-engine fallback.
// Add new combinations here rather than branching in the resolver.
var platforms = map[platformKey]Platform{
	{runtime.EngineDocker, "linux"}: {
		HostAlias: "host.docker.internal",
		AliasFlag: "host.docker.internal:host-gateway",
	},
	{runtime.EngineDocker, anyOS}: {HostAlias: "host.docker.internal"},
	{runtime.EnginePodman, anyOS}: {HostAlias: "host.containers.internal"},
	{runtime.EngineMemory, anyOS}: {},
}

// Lookup returns the platform entry for engine on goos, falling back to the
// engine wildcard, then to a platform with no host alias.
func Lookup(engine runtime.EngineKind, goos string) Platform {
	if p, ok := platforms[platformKey{engine, goos}]; ok {
		return p
	}
	if p, ok := platforms[platformKey{engine, anyOS}]; ok {
		return p
	}
	return Platform{}
}
