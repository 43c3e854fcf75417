package materialize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

type promConfig struct {
	Global        promGlobal     `yaml:"global"`
	ScrapeConfigs []scrapeConfig `yaml:"scrape_configs"`
}

type promGlobal struct {
	ScrapeInterval     string `yaml:"scrape_interval"`
	EvaluationInterval string `yaml:"evaluation_interval"`
}

type scrapeConfig struct {
	JobName       string         `yaml:"job_name"`
	MetricsPath   string         `yaml:"metrics_path,omitempty"`
	StaticConfigs []staticConfig `yaml:"static_configs"`
}

type staticConfig struct {
	Targets []string `yaml:"targets"`
}

// RenderPrometheus produces prometheus.yml: a self-scrape job followed by the
// application job, whose targets keep the order they were given in.
func RenderPrometheus(in Input) ([]byte, error) {
	if len(in.Targets) == 0 {
		return nil, fmt.Errorf("no scrape targets for job %q", in.JobName)
	}
	if in.JobName == SelfScrapeJob {
		return nil, fmt.Errorf("job name %q clashes with the self-scrape job", in.JobName)
	}
	interval := promDuration(in.ScrapeInterval)
	doc := promConfig{
		Global: promGlobal{ScrapeInterval: interval, EvaluationInterval: interval},
		ScrapeConfigs: []scrapeConfig{
			{
				JobName:       SelfScrapeJob,
				StaticConfigs: []staticConfig{{Targets: []string{"localhost:9090"}}},
			},
			{
				JobName:       in.JobName,
				MetricsPath:   in.MetricsPath,
				StaticConfigs: []staticConfig{{Targets: in.Targets}},
			},
		},
	}
	return marshalYAML(doc)
}

type datasourceFile struct {
	APIVersion  int          `yaml:"apiVersion"`
	Datasources []datasource `yaml:"datasources"`
}

type datasource struct {
	Name      string `yaml:"name"`
	UID       string `yaml:"uid"`
	Type      string `yaml:"type"`
	Access    string `yaml:"access"`
	URL       string `yaml:"url"`
	IsDefault bool   `yaml:"isDefault"`
	Editable  bool   `yaml:"editable"`
}

// RenderDatasource produces the Grafana provisioning file for the Prometheus data
// source, addressed by its in-network name.
func RenderDatasource(in Input) ([]byte, error) {
	return marshalYAML(datasourceFile{
		APIVersion: 1,
		Datasources: []datasource{{
			Name:      in.DataSourceName,
			UID:       DatasourceUID,
			Type:      "prometheus",
			Access:    "proxy",
			URL:       "http://prometheus:9090",
			IsDefault: true,
			Editable:  false,
		}},
	})
}

type providersFile struct {
	APIVersion int        `yaml:"apiVersion"`
	Providers  []provider `yaml:"providers"`
}

type provider struct {
	Name            string          `yaml:"name"`
	OrgID           int             `yaml:"orgId"`
	Folder          string          `yaml:"folder"`
	Type            string          `yaml:"type"`
	DisableDeletion bool            `yaml:"disableDeletion"`
	Options         providerOptions `yaml:"options"`
}

type providerOptions struct {
	Path string `yaml:"path"`
}

func RenderDashboardProviders() ([]byte, error) {
	return marshalYAML(providersFile{
		APIVersion: 1,
		Providers: []provider{{
			Name:            "stackup",
			OrgID:           1,
			Folder:          "",
			Type:            "file",
			DisableDeletion: true,
			Options:         providerOptions{Path: GrafanaDashboardsMountPath},
		}},
	})
}

type dashboard struct {
	UID           string    `json:"uid"`
	Title         string    `json:"title"`
	Tags          []string  `json:"tags"`
	Timezone      string    `json:"timezone"`
	SchemaVersion int       `json:"schemaVersion"`
	Refresh       string    `json:"refresh"`
	Time          timeRange `json:"time"`
	Panels        []panel   `json:"panels"`
}

type timeRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type panel struct {
	ID         int           `json:"id"`
	Title      string        `json:"title"`
	Type       string        `json:"type"`
	Datasource panelSource   `json:"datasource"`
	GridPos    gridPos       `json:"gridPos"`
	Targets    []panelTarget `json:"targets"`
}

type panelSource struct {
	Type string `json:"type"`
	UID  string `json:"uid"`
}

type gridPos struct {
	H int `json:"h"`
	W int `json:"w"`
	X int `json:"x"`
	Y int `json:"y"`
}

type panelTarget struct {
	RefID        string `json:"refId"`
	Expr         string `json:"expr"`
	LegendFormat string `json:"legendFormat,omitempty"`
}

// DashboardTitle is the title the validator searches for.
func DashboardTitle(jobName string) string {
	return jobName + " overview"
}

// RenderDashboard produces the application dashboard: request rate, prediction
// success rate and scrape health, all bound to the provisioned data source.
func RenderDashboard(in Input) ([]byte, error) {
	src := panelSource{Type: "prometheus", UID: DatasourceUID}
	job := fmt.Sprintf(`job=%q`, in.JobName)
	d := dashboard{
		UID:           in.JobName,
		Title:         DashboardTitle(in.JobName),
		Tags:          []string{"stackup", in.JobName},
		Timezone:      "browser",
		SchemaVersion: 39,
		Refresh:       "10s",
		Time:          timeRange{From: "now-1h", To: "now"},
		Panels: []panel{
			{
				ID: 1, Title: "Request rate", Type: "timeseries", Datasource: src,
				GridPos: gridPos{H: 8, W: 12, X: 0, Y: 0},
				Targets: []panelTarget{{RefID: "A", Expr: "sum(rate(prediction_requests_total{" + job + "}[1m]))", LegendFormat: "requests/s"}},
			},
			{
				ID: 2, Title: "Prediction success rate", Type: "timeseries", Datasource: src,
				GridPos: gridPos{H: 8, W: 12, X: 12, Y: 0},
				Targets: []panelTarget{{
					RefID: "A",
					Expr: "sum(rate(successful_predictions_total{" + job + "}[5m])) / " +
						"sum(rate(prediction_requests_total{" + job + "}[5m]))",
					LegendFormat: "success ratio",
				}},
			},
			{
				ID: 3, Title: "Scrape health", Type: "stat", Datasource: src,
				GridPos: gridPos{H: 6, W: 24, X: 0, Y: 8},
				Targets: []panelTarget{{RefID: "A", Expr: "up{" + job + "}", LegendFormat: "{{instance}}"}},
			},
		},
	}

	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal dashboard: %w", err)
	}
	return append(out, '\n'), nil
}

func marshalYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshal yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// promDuration formats d the way Prometheus expects (15s, 1m, 1m30s).
func promDuration(d time.Duration) string {
	if d <= 0 {
		d = 15 * time.Second
	}
	secs := int64(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	switch {
	case secs%3600 == 0:
		return fmt.Sprintf("%dh", secs/3600)
	case secs%60 == 0:
		return fmt.Sprintf("%dm", secs/60)
	case secs > 60:
		return fmt.Sprintf("%dm%ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}
