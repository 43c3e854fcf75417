// Package validation checks, after every service is ready, that the running
// stack is wired the way the generated configuration says. Findings are
// advisory: they never fail a run.
package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/bassista/stackup/internal/logger"
	"github.com/bassista/stackup/internal/retry"
	"github.com/bassista/stackup/internal/stack"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Finding is the outcome of one check.
type Finding struct {
	Service string `json:"service"`
	Check   string `json:"check"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s/%s: %s", f.Service, f.Check, f.Message)
}

// Options carry the expectations derived from configuration.
type Options struct {
	ProbeHost      string
	Policy         retry.Policy
	RequestTimeout time.Duration

	JobName        string
	GrafanaUser    string
	GrafanaPass    string
	DataSourceName string
	DashboardUID   string
	DashboardTitle string
	// LocalStackServices are the services LocalStack must list.
	LocalStackServices []string
}

type Validator struct {
	client *http.Client
	opts   Options
}

func New(opts Options) *Validator {
	return NewWithClient(&http.Client{}, opts)
}

func NewWithClient(client *http.Client, opts Options) *Validator {
	return &Validator{client: client, opts: opts}
}

type check struct {
	name string
	run  func(ctx context.Context, base string) (string, error)
}

// Validate runs the checks of every service in specs. Services without checks
// are skipped.
func (v *Validator) Validate(ctx context.Context, specs []stack.ServiceSpec) []Finding {
	var findings []Finding
	for _, spec := range specs {
		base := stack.URL(v.opts.ProbeHost, spec)
		for _, c := range v.checksFor(spec.Name) {
			findings = append(findings, v.run(ctx, spec.Name, base, c))
		}
	}
	return findings
}

// Warnings filters the failed findings.
func Warnings(findings []Finding) []Finding {
	var out []Finding
	for _, f := range findings {
		if !f.OK {
			out = append(out, f)
		}
	}
	return out
}

func (v *Validator) checksFor(service string) []check {
	switch service {
	case stack.Prometheus:
		return []check{
			{"scrape-target", v.prometheusTargets},
			{"scrape-config", v.prometheusConfig},
		}
	case stack.Grafana:
		return []check{
			{"datasource", v.grafanaDatasource},
			{"dashboard", v.grafanaDashboard},
		}
	case stack.LocalStack:
		return []check{{"services", v.localstackServices}}
	}
	return nil
}

func (v *Validator) run(ctx context.Context, service, base string, c check) Finding {
	log := logger.WithService("validation", service)
	var msg string
	attempts, err := retry.Do(ctx, v.opts.Policy, func(ctx context.Context, _ int) error {
		var err error
		msg, err = c.run(ctx, base)
		return err
	}, nil)

	if err != nil {
		log.WithFields(logrus.Fields{"check": c.name, "attempts": attempts}).Warn(err.Error())
		return Finding{Service: service, Check: c.name, Message: err.Error()}
	}
	log.WithField("check", c.name).Info(msg)
	return Finding{Service: service, Check: c.name, OK: true, Message: msg}
}

type targetsResponse struct {
	Data struct {
		ActiveTargets []struct {
			Labels map[string]string `json:"labels"`
			Health string            `json:"health"`
		} `json:"activeTargets"`
	} `json:"data"`
}

func (v *Validator) prometheusTargets(ctx context.Context, base string) (string, error) {
	var resp targetsResponse
	if err := v.getJSON(ctx, base+"/api/v1/targets", false, &resp); err != nil {
		return "", err
	}
	for _, t := range resp.Data.ActiveTargets {
		if t.Labels["job"] == v.opts.JobName {
			// a down target still proves the job is wired; the app may simply not be running
			return fmt.Sprintf("job %q is scraped (%s, health %s)", v.opts.JobName, t.Labels["instance"], t.Health), nil
		}
	}
	return "", fmt.Errorf("job %q not among active targets", v.opts.JobName)
}

type configResponse struct {
	Data struct {
		YAML string `json:"yaml"`
	} `json:"data"`
}

func (v *Validator) prometheusConfig(ctx context.Context, base string) (string, error) {
	var resp configResponse
	if err := v.getJSON(ctx, base+"/api/v1/status/config", false, &resp); err != nil {
		return "", err
	}
	var loaded struct {
		ScrapeConfigs []struct {
			JobName string `yaml:"job_name"`
		} `yaml:"scrape_configs"`
	}
	if err := yaml.Unmarshal([]byte(resp.Data.YAML), &loaded); err != nil {
		return "", retry.Permanent(fmt.Errorf("parse loaded config: %w", err))
	}
	for _, sc := range loaded.ScrapeConfigs {
		if sc.JobName == v.opts.JobName {
			return fmt.Sprintf("loaded config has job %q", v.opts.JobName), nil
		}
	}
	return "", fmt.Errorf("loaded config has no job %q", v.opts.JobName)
}

func (v *Validator) grafanaDatasource(ctx context.Context, base string) (string, error) {
	var ds struct {
		Name string `json:"name"`
		Type string `json:"type"`
		UID  string `json:"uid"`
	}
	path := "/api/datasources/name/" + url.PathEscape(v.opts.DataSourceName)
	if err := v.getJSON(ctx, base+path, true, &ds); err != nil {
		return "", err
	}
	if ds.Type != "prometheus" {
		return "", retry.Permanent(fmt.Errorf("data source %q has type %q, want prometheus", ds.Name, ds.Type))
	}
	return fmt.Sprintf("data source %q provisioned (uid %s)", ds.Name, ds.UID), nil
}

type searchHit struct {
	UID   string `json:"uid"`
	Title string `json:"title"`
}

func (v *Validator) grafanaDashboard(ctx context.Context, base string) (string, error) {
	var hits []searchHit
	u := base + "/api/search?query=" + url.QueryEscape(v.opts.DashboardTitle)
	if err := v.getJSON(ctx, u, true, &hits); err != nil {
		return "", err
	}
	if !slices.ContainsFunc(hits, func(h searchHit) bool { return h.UID == v.opts.DashboardUID }) {
		return "", fmt.Errorf("dashboard %q not found", v.opts.DashboardTitle)
	}
	return fmt.Sprintf("dashboard %q provisioned", v.opts.DashboardTitle), nil
}

func (v *Validator) localstackServices(ctx context.Context, base string) (string, error) {
	var health struct {
		Services map[string]string `json:"services"`
		Edition  string            `json:"edition"`
		Version  string            `json:"version"`
	}
	if err := v.getJSON(ctx, base+"/_localstack/health", false, &health); err != nil {
		return "", err
	}
	var missing []string
	for _, name := range v.opts.LocalStackServices {
		if _, ok := health.Services[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("services not listed: %v", missing)
	}
	return fmt.Sprintf("%s edition %s serving %v", health.Edition, health.Version, v.opts.LocalStackServices), nil
}

var errUnauthorized = errors.New("unauthorized")

func (v *Validator) getJSON(ctx context.Context, u string, auth bool, out any) error {
	if v.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.opts.RequestTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return retry.Permanent(err)
	}
	if auth {
		req.SetBasicAuth(v.opts.GrafanaUser, v.opts.GrafanaPass)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return retry.Permanent(fmt.Errorf("%w: %s returned %d", errUnauthorized, req.URL.Path, resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%s returned %d", req.URL.Path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}
