// Package topology decides how containers on the shared network reach a service
// that runs on the host, such as the monitored API.
package topology

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/bassista/stackup/internal/logger"
	"github.com/bassista/stackup/internal/runtime"
)

// Strategy names how a NetworkTarget was derived.
type Strategy string

const (
	StrategyHostAlias  Strategy = "host-alias"
	StrategyNetworkDNS Strategy = "network-dns"
	StrategyExplicit   Strategy = "explicit"
)

// NetworkTarget is one candidate address, as seen from inside a container.
type NetworkTarget struct {
	Address  string
	Strategy Strategy
}

// Resolution is the ordered candidate list plus the container-creation flags the
// platform needs for the host alias to work.
type Resolution struct {
	Targets    []NetworkTarget
	ExtraHosts []string
	// HostReachable reports whether the service answered on the host itself. Advisory only.
	HostReachable bool
}

// Addresses returns the candidate addresses in preference order.
func (r Resolution) Addresses() []string {
	out := make([]string, 0, len(r.Targets))
	for _, t := range r.Targets {
		out = append(out, t.Address)
	}
	return out
}

// Request describes the host-side service to reach.
type Request struct {
	ServiceName  string // DNS name on the shared network, e.g. "api"
	Port         int
	ExtraTargets []string
}

// HostProbe is the host-side view used to order candidates. Both calls are bounded
// by the context deadline.
type HostProbe interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	DialTCP(ctx context.Context, address string) error
}

type netProbe struct{}

func (netProbe) LookupHost(ctx context.Context, host string) ([]string, error) {
	return net.DefaultResolver.LookupHost(ctx, host)
}

func (netProbe) DialTCP(ctx context.Context, address string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Resolver builds Resolutions for the active engine and OS.
type Resolver struct {
	probe        HostProbe
	probeTimeout time.Duration
}

func NewResolver(probeTimeout time.Duration) *Resolver {
	return &Resolver{probe: netProbe{}, probeTimeout: probeTimeout}
}

func NewResolverWithProbe(probe HostProbe, probeTimeout time.Duration) *Resolver {
	return &Resolver{probe: probe, probeTimeout: probeTimeout}
}

// Resolve never fails: an unreachable candidate is a warning, since host-side
// reachability neither guarantees nor precludes reachability from a container.
func (r *Resolver) Resolve(ctx context.Context, handle runtime.Handle, req Request) Resolution {
	log := logger.WithComponent("topology")
	platform := Lookup(handle.Engine, handle.OS)
	port := strconv.Itoa(req.Port)

	var res Resolution
	dnsTarget := NetworkTarget{Address: net.JoinHostPort(req.ServiceName, port), Strategy: StrategyNetworkDNS}

	if platform.HostAlias != "" {
		aliasTarget := NetworkTarget{Address: net.JoinHostPort(platform.HostAlias, port), Strategy: StrategyHostAlias}
		if r.resolvable(ctx, platform.HostAlias) {
			res.Targets = append(res.Targets, aliasTarget, dnsTarget)
		} else {
			log.Warnf("host alias %s does not resolve from the host; listing it after %s", platform.HostAlias, dnsTarget.Address)
			res.Targets = append(res.Targets, dnsTarget, aliasTarget)
		}
		if platform.AliasFlag != "" {
			res.ExtraHosts = append(res.ExtraHosts, platform.AliasFlag)
		}
	} else {
		res.Targets = append(res.Targets, dnsTarget)
	}

	for _, extra := range req.ExtraTargets {
		res.Targets = append(res.Targets, NetworkTarget{Address: extra, Strategy: StrategyExplicit})
	}
	res.Targets = dedupe(res.Targets)

	res.HostReachable = r.reachable(ctx, net.JoinHostPort("127.0.0.1", port))
	if !res.HostReachable {
		log.Warnf("nothing answers on host port %d yet; scrape targets are advisory until the application starts", req.Port)
	}

	log.Infof("scrape candidates for %s: %v", req.ServiceName, res.Addresses())
	return res
}

func (r *Resolver) resolvable(ctx context.Context, host string) bool {
	lookupCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()
	addrs, err := r.probe.LookupHost(lookupCtx, host)
	return err == nil && len(addrs) > 0
}

func (r *Resolver) reachable(ctx context.Context, address string) bool {
	dialCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()
	return r.probe.DialTCP(dialCtx, address) == nil
}

func dedupe(targets []NetworkTarget) []NetworkTarget {
	seen := map[string]bool{}
	out := make([]NetworkTarget, 0, len(targets))
	for _, t := range targets {
		if seen[t.Address] {
			continue
		}
		seen[t.Address] = true
		out = append(out, t)
	}
	return out
}
