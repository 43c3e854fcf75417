package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bassista/stackup/internal/logger"
	"github.com/bassista/stackup/internal/materialize"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "STACK"

var jobNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,40}$`)

// Config is the full set of settings for one bootstrap invocation.
type Config struct {
	Engine     EngineConfig
	Stack      StackConfig
	LocalStack LocalStackConfig
	Prometheus PrometheusConfig
	Grafana    GrafanaConfig
	App        AppConfig
	Health     HealthConfig
	Misc       MiscConfig
}

type EngineConfig struct {
	// Type is auto, docker, podman or memory.
	Type         string
	ProbeTimeout time.Duration
}

type StackConfig struct {
	WorkDir   string
	Network   string
	Services  []string
	ProbeHost string
	LogTail   int
}

type LocalStackConfig struct {
	Image    string
	Port     int
	Services []string
}

type PrometheusConfig struct {
	Image          string
	Port           int
	ScrapeInterval time.Duration
}

type GrafanaConfig struct {
	Image          string
	Port           int
	AdminUser      string
	AdminPassword  string
	DataSourceName string
}

// AppConfig describes the monitored application, which runs outside the managed stack.
type AppConfig struct {
	Port         int
	MetricsPath  string
	ServiceName  string
	JobName      string
	ExtraTargets []string
}

type HealthConfig struct {
	Interval         time.Duration
	MaxAttempts      int
	RequestTimeout   time.Duration
	ValidateInterval time.Duration
	ValidateAttempts int
}

type MiscConfig struct {
	LogLevel string
}

type setting struct {
	key    string
	env    string
	defval any
}

var settings = []setting{
	{"engine.type", "STACK_ENGINE", "auto"},
	{"engine.probe_timeout", "STACK_ENGINE_PROBE_TIMEOUT", "5s"},
	{"stack.workdir", "STACK_WORKDIR", "./.stackup"},
	{"stack.network", "STACK_NETWORK", "mlops-net"},
	{"stack.services", "STACK_SERVICES", "localstack,prometheus,grafana"},
	{"stack.probe_host", "STACK_PROBE_HOST", "localhost"},
	{"stack.log_tail", "STACK_LOG_TAIL", 50},
	{"localstack.image", "STACK_LOCALSTACK_IMAGE", "localstack/localstack:3.5"},
	{"localstack.port", "STACK_LOCALSTACK_PORT", 4566},
	{"localstack.services", "STACK_LOCALSTACK_SERVICES", "s3"},
	{"prometheus.image", "STACK_PROMETHEUS_IMAGE", "prom/prometheus:v2.53.0"},
	{"prometheus.port", "STACK_PROMETHEUS_PORT", 9090},
	{"prometheus.scrape_interval", "STACK_SCRAPE_INTERVAL", "15s"},
	{"grafana.image", "STACK_GRAFANA_IMAGE", "grafana/grafana:11.1.0"},
	{"grafana.port", "STACK_GRAFANA_PORT", 3000},
	{"grafana.admin_user", "STACK_GRAFANA_ADMIN_USER", "admin"},
	{"grafana.admin_password", "STACK_GRAFANA_ADMIN_PASSWORD", "admin"},
	{"grafana.datasource_name", "STACK_DATASOURCE_NAME", "Prometheus"},
	{"app.port", "STACK_APP_PORT", 8000},
	{"app.metrics_path", "STACK_APP_METRICS_PATH", "/metrics"},
	{"app.service_name", "STACK_APP_SERVICE_NAME", "api"},
	{"app.job_name", "STACK_APP_JOB_NAME", "housing-api"},
	{"app.extra_targets", "STACK_EXTRA_TARGETS", ""},
	{"health.interval", "STACK_HEALTH_INTERVAL", "2s"},
	{"health.max_attempts", "STACK_HEALTH_MAX_ATTEMPTS", 60},
	{"health.request_timeout", "STACK_HEALTH_REQUEST_TIMEOUT", "3s"},
	{"health.validate_interval", "STACK_VALIDATE_INTERVAL", "2s"},
	{"health.validate_attempts", "STACK_VALIDATE_ATTEMPTS", 5},
	{"misc.log_level", "LOG_LEVEL", "info"},
}

// LoadConfig reads .env (if present), an optional stackup.yaml in confPath and the
// STACK_* environment, in increasing order of precedence.
func LoadConfig(confPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	viper.Reset()
	viper.SetConfigName("stackup")
	viper.SetConfigType("yaml")
	if confPath != "" {
		viper.AddConfigPath(confPath)
	}
	viper.AddConfigPath(".")

	for _, s := range settings {
		viper.SetDefault(s.key, s.defval)
		if err := viper.BindEnv(s.key, s.env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", s.env, err)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
		logger.WithComponent("config").Debug("no stackup.yaml found, using defaults and env vars")
	}

	cfg, err := fromViper()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper() (*Config, error) {
	localstackPort, err := getEnvOrViperPort("STACK_LOCALSTACK_PORT", "localstack.port")
	if err != nil {
		return nil, err
	}
	prometheusPort, err := getEnvOrViperPort("STACK_PROMETHEUS_PORT", "prometheus.port")
	if err != nil {
		return nil, err
	}
	grafanaPort, err := getEnvOrViperPort("STACK_GRAFANA_PORT", "grafana.port")
	if err != nil {
		return nil, err
	}
	appPort, err := getEnvOrViperPort("STACK_APP_PORT", "app.port")
	if err != nil {
		return nil, err
	}

	return &Config{
		Engine: EngineConfig{
			Type:         strings.ToLower(viper.GetString("engine.type")),
			ProbeTimeout: viper.GetDuration("engine.probe_timeout"),
		},
		Stack: StackConfig{
			WorkDir:   viper.GetString("stack.workdir"),
			Network:   viper.GetString("stack.network"),
			Services:  getStringList("stack.services"),
			ProbeHost: viper.GetString("stack.probe_host"),
			LogTail:   viper.GetInt("stack.log_tail"),
		},
		LocalStack: LocalStackConfig{
			Image:    viper.GetString("localstack.image"),
			Port:     localstackPort,
			Services: getStringList("localstack.services"),
		},
		Prometheus: PrometheusConfig{
			Image:          viper.GetString("prometheus.image"),
			Port:           prometheusPort,
			ScrapeInterval: viper.GetDuration("prometheus.scrape_interval"),
		},
		Grafana: GrafanaConfig{
			Image:          viper.GetString("grafana.image"),
			Port:           grafanaPort,
			AdminUser:      viper.GetString("grafana.admin_user"),
			AdminPassword:  viper.GetString("grafana.admin_password"),
			DataSourceName: viper.GetString("grafana.datasource_name"),
		},
		App: AppConfig{
			Port:         appPort,
			MetricsPath:  viper.GetString("app.metrics_path"),
			ServiceName:  viper.GetString("app.service_name"),
			JobName:      viper.GetString("app.job_name"),
			ExtraTargets: getStringList("app.extra_targets"),
		},
		Health: HealthConfig{
			Interval:         viper.GetDuration("health.interval"),
			MaxAttempts:      viper.GetInt("health.max_attempts"),
			RequestTimeout:   viper.GetDuration("health.request_timeout"),
			ValidateInterval: viper.GetDuration("health.validate_interval"),
			ValidateAttempts: viper.GetInt("health.validate_attempts"),
		},
		Misc: MiscConfig{
			LogLevel: viper.GetString("misc.log_level"),
		},
	}, nil
}

func (c *Config) validate() error {
	switch c.Engine.Type {
	case "auto", "docker", "podman", "memory":
	default:
		return fmt.Errorf("invalid engine %q (supported: auto, docker, podman, memory)", c.Engine.Type)
	}
	if c.Engine.ProbeTimeout <= 0 {
		return errors.New("engine probe timeout must be positive")
	}

	if c.Stack.WorkDir == "" {
		return errors.New("working directory is required")
	}
	if c.Stack.Network == "" {
		return errors.New("network name is required")
	}
	if len(c.Stack.Services) == 0 {
		return errors.New("at least one service must be declared")
	}
	seen := map[string]bool{}
	for _, name := range c.Stack.Services {
		if seen[name] {
			return fmt.Errorf("service %q declared twice", name)
		}
		seen[name] = true
	}
	if c.Stack.ProbeHost == "" {
		return errors.New("probe host is required")
	}
	if c.Stack.LogTail < 0 {
		return errors.New("log tail must not be negative")
	}

	ports := map[string]int{
		"localstack": c.LocalStack.Port,
		"prometheus": c.Prometheus.Port,
		"grafana":    c.Grafana.Port,
		"app":        c.App.Port,
	}
	used := map[int]string{}
	for _, name := range []string{"localstack", "prometheus", "grafana", "app"} {
		port := ports[name]
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid %s port: %d", name, port)
		}
		if other, ok := used[port]; ok {
			return fmt.Errorf("%s and %s share port %d", other, name, port)
		}
		used[port] = name
	}

	if c.LocalStack.Image == "" || c.Prometheus.Image == "" || c.Grafana.Image == "" {
		return errors.New("service images must not be empty")
	}
	if c.Prometheus.ScrapeInterval <= 0 {
		return errors.New("scrape interval must be positive")
	}
	if c.Grafana.AdminUser == "" || c.Grafana.AdminPassword == "" {
		return errors.New("grafana admin credentials must not be empty")
	}
	if c.Grafana.DataSourceName == "" {
		return errors.New("datasource name is required")
	}

	if !strings.HasPrefix(c.App.MetricsPath, "/") {
		return fmt.Errorf("metrics path must start with '/': %q", c.App.MetricsPath)
	}
	if c.App.ServiceName == "" {
		return errors.New("app service name is required")
	}
	// the job name doubles as the Grafana dashboard uid
	if !jobNamePattern.MatchString(c.App.JobName) {
		return fmt.Errorf("invalid app job name %q: use 1-40 letters, digits, '_' or '-'", c.App.JobName)
	}
	if c.App.JobName == materialize.SelfScrapeJob {
		return fmt.Errorf("app job name %q is reserved for the Prometheus self-scrape job", c.App.JobName)
	}
	for _, target := range c.App.ExtraTargets {
		if err := checkTarget(target); err != nil {
			return fmt.Errorf("invalid extra target %q: %w", target, err)
		}
	}

	if c.Health.Interval <= 0 || c.Health.ValidateInterval <= 0 {
		return errors.New("health intervals must be positive")
	}
	if c.Health.RequestTimeout <= 0 {
		return errors.New("health request timeout must be positive")
	}
	if c.Health.MaxAttempts <= 0 || c.Health.ValidateAttempts <= 0 {
		return errors.New("health attempts must be positive")
	}
	return nil
}

// Override applies command-line values on top of the loaded configuration and
// validates the result. Empty values keep the loaded setting.
func (c *Config) Override(engine, workDir, logLevel string) error {
	if engine != "" {
		c.Engine.Type = strings.ToLower(engine)
	}
	if workDir != "" {
		c.Stack.WorkDir = workDir
	}
	if logLevel != "" {
		c.Misc.LogLevel = logLevel
	}
	return c.validate()
}

// HasService reports whether name is in the declared service list.
func (c *Config) HasService(name string) bool {
	for _, s := range c.Stack.Services {
		if s == name {
			return true
		}
	}
	return false
}

// checkTarget accepts host:port with a numeric port in range.
func checkTarget(target string) error {
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		return err
	}
	if host == "" {
		return errors.New("missing host")
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}

func getEnvOrViperPort(envKey, viperKey string) (int, error) {
	if value := os.Getenv(envKey); value != "" {
		port, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", envKey, err)
		}
		return port, nil
	}
	return viper.GetInt(viperKey), nil
}

// getStringList accepts either a YAML list or a comma separated string.
func getStringList(key string) []string {
	var raw []string
	switch v := viper.Get(key).(type) {
	case []any, []string:
		raw = viper.GetStringSlice(key)
	case string:
		raw = strings.Split(v, ",")
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
