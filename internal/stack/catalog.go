package stack

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bassista/stackup/internal/config"
	"github.com/bassista/stackup/internal/materialize"
)

const (
	LocalStack = "localstack"
	Prometheus = "prometheus"
	Grafana    = "grafana"
)

// container-side ports and paths of the upstream images
const (
	localstackPort = 4566
	prometheusPort = 9090
	grafanaPort    = 3000

	prometheusConfigPath    = "/etc/prometheus/prometheus.yml"
	grafanaProvisioningPath = "/etc/grafana/provisioning"
)

type builder func(cfg *config.Config, workDir string) ServiceSpec

var builders = map[string]builder{
	LocalStack: localstackSpec,
	Prometheus: prometheusSpec,
	Grafana:    grafanaSpec,
}

// Known returns the names the catalog can build.
func Known() []string {
	return []string{LocalStack, Prometheus, Grafana}
}

// Build returns the validated ServiceSpecs for the services declared in cfg, in
// dependency order. workDir must be absolute: it is bind-mounted into containers.
func Build(cfg *config.Config, workDir string) ([]ServiceSpec, error) {
	if !filepath.IsAbs(workDir) {
		return nil, fmt.Errorf("working directory must be absolute: %s", workDir)
	}

	specs := make([]ServiceSpec, 0, len(cfg.Stack.Services))
	for _, name := range cfg.Stack.Services {
		build, ok := builders[name]
		if !ok {
			return nil, fmt.Errorf("unknown service %q (known: %v)", name, Known())
		}
		spec := build(cfg, workDir)
		spec.ApplyDefaults()
		specs = append(specs, spec)
	}

	if err := Validate(specs); err != nil {
		return nil, err
	}
	return Order(specs)
}

func localstackSpec(cfg *config.Config, _ string) ServiceSpec {
	return ServiceSpec{
		Name:  LocalStack,
		Image: cfg.LocalStack.Image,
		Port:  Port{Host: cfg.LocalStack.Port, Container: localstackPort},
		Env: map[string]string{
			"SERVICES":              strings.Join(cfg.LocalStack.Services, ","),
			"EAGER_SERVICE_LOADING": "1",
		},
		Health: HealthCheck{
			Path:     "/_localstack/health",
			Kind:     HealthServiceMap,
			Required: cfg.LocalStack.Services,
		},
	}
}

func prometheusSpec(cfg *config.Config, workDir string) ServiceSpec {
	return ServiceSpec{
		Name:  Prometheus,
		Image: cfg.Prometheus.Image,
		Port:  Port{Host: cfg.Prometheus.Port, Container: prometheusPort},
		Cmd: []string{
			"--config.file=" + prometheusConfigPath,
			"--storage.tsdb.path=/prometheus",
			"--web.enable-lifecycle",
		},
		Mounts: []Mount{
			{Source: filepath.Join(workDir, materialize.PrometheusConfigFile), Target: prometheusConfigPath, ReadOnly: true},
		},
		Health: HealthCheck{
			Path:   "/-/ready",
			Kind:   HealthReadyText,
			Expect: "Ready",
		},
	}
}

func grafanaSpec(cfg *config.Config, workDir string) ServiceSpec {
	return ServiceSpec{
		Name:  Grafana,
		Image: cfg.Grafana.Image,
		Port:  Port{Host: cfg.Grafana.Port, Container: grafanaPort},
		Env: map[string]string{
			"GF_SECURITY_ADMIN_USER":     cfg.Grafana.AdminUser,
			"GF_SECURITY_ADMIN_PASSWORD": cfg.Grafana.AdminPassword,
			"GF_USERS_ALLOW_SIGN_UP":     "false",
			"GF_PATHS_PROVISIONING":      grafanaProvisioningPath,
		},
		Mounts: []Mount{
			{Source: filepath.Join(workDir, materialize.GrafanaProvisioningDir), Target: grafanaProvisioningPath, ReadOnly: true},
			{Source: filepath.Join(workDir, materialize.GrafanaDashboardsDir), Target: materialize.GrafanaDashboardsMountPath, ReadOnly: true},
		},
		Health: HealthCheck{
			Path:   "/api/health",
			Kind:   HealthJSONField,
			Field:  "database",
			Expect: "ok",
		},
		DependsOn: []string{Prometheus},
	}
}

// URL is the host-side base URL of a published service.
func URL(probeHost string, spec ServiceSpec) string {
	return "http://" + net.JoinHostPort(probeHost, strconv.Itoa(spec.Port.Host))
}
