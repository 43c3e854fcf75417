package materialize

// Paths of generated files, relative to the working directory.
const (
	PrometheusDir          = "prometheus"
	PrometheusConfigFile   = "prometheus/prometheus.yml"
	GrafanaDir             = "grafana"
	GrafanaProvisioningDir = "grafana/provisioning"
	GrafanaDatasourceFile  = "grafana/provisioning/datasources/datasource.yml"
	GrafanaProvidersFile   = "grafana/provisioning/dashboards/dashboards.yml"
	GrafanaDashboardsDir   = "grafana/dashboards"
	GrafanaDashboardFile   = "grafana/dashboards/housing-api.json"
)

// GrafanaDashboardsMountPath is where the dashboards directory is mounted inside the
// Grafana container; the file provider reads from it.
const GrafanaDashboardsMountPath = "/var/lib/grafana/dashboards"

// SelfScrapeJob is the scrape job Prometheus uses for its own metrics.
const SelfScrapeJob = "prometheus"

// DatasourceUID is the stable identifier dashboards use to reference the data source.
const DatasourceUID = "prometheus"

// managedDirs are owned entirely by the materializer; anything it did not write
// in the current pass is removed.
var managedDirs = []string{PrometheusDir, GrafanaDir}
