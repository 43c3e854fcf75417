package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bassista/stackup/internal/config"
	"github.com/bassista/stackup/internal/lifecycle"
	"github.com/bassista/stackup/internal/logger"
	"github.com/bassista/stackup/internal/materialize"
	"github.com/bassista/stackup/internal/notify"
	"github.com/bassista/stackup/internal/readiness"
	"github.com/bassista/stackup/internal/report"
	"github.com/bassista/stackup/internal/retry"
	"github.com/bassista/stackup/internal/runtime"
	"github.com/bassista/stackup/internal/stack"
	"github.com/bassista/stackup/internal/topology"
	"github.com/bassista/stackup/internal/validation"
	"github.com/google/uuid"
)

// ErrRunFailed summarises a run that did not bring every declared service up.
var ErrRunFailed = errors.New("stack bootstrap failed")

// EngineSelector picks the container engine for the invocation.
type EngineSelector interface {
	Select(ctx context.Context, override string) (runtime.Handle, runtime.ContainerRuntime, error)
}

// TopologyResolver computes how containers reach the monitored application.
type TopologyResolver interface {
	Resolve(ctx context.Context, handle runtime.Handle, req topology.Request) topology.Resolution
}

// App is the application container (immutable dependencies + lifecycle context).
// Each command runs one single-pass convergence against it.
type App struct {
	Config   *config.Config
	Selector EngineSelector
	Resolver TopologyResolver
	Notifier *notify.Notifier

	BaseCtx context.Context
	Cancel  context.CancelFunc
}

func New(cfg *config.Config, selector EngineSelector, resolver TopologyResolver, notifier *notify.Notifier) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if selector == nil {
		return nil, errors.New("engine selector is nil")
	}
	if resolver == nil {
		return nil, errors.New("topology resolver is nil")
	}
	if notifier == nil {
		notifier = notify.NewWithClient(nil, logger.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		Config:   cfg,
		Selector: selector,
		Resolver: resolver,
		Notifier: notifier,
		BaseCtx:  ctx,
		Cancel:   cancel,
	}, nil
}

// NewDefault wires the real engine selector and topology resolver. notifier is
// shared with the caller; nil disables error reporting.
func NewDefault(cfg *config.Config, notifier *notify.Notifier) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	return New(cfg,
		runtime.NewSelector(cfg.Engine.ProbeTimeout),
		topology.NewResolver(cfg.Engine.ProbeTimeout),
		notifier,
	)
}

// Shutdown cancels any command still running and flushes pending error reports.
func (a *App) Shutdown() {
	if a == nil || a.Cancel == nil {
		return
	}
	a.Cancel()
	a.Notifier.Flush()
}

// runContext derives a context cancelled by either ctx or Shutdown.
func (a *App) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(a.BaseCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// session is the per-run state shared by the phases of one command.
type session struct {
	runID  string
	start  time.Time
	specs  []stack.ServiceSpec
	mat    *materialize.Materializer
	handle runtime.Handle
	rt     runtime.ContainerRuntime
	res    topology.Resolution
	report *report.Report
}

// prepare builds the specs and selects the engine; every later phase needs both.
func (a *App) prepare(ctx context.Context) (*session, error) {
	s := &session{runID: uuid.NewString(), start: time.Now()}

	mat, err := materialize.New(a.Config.Stack.WorkDir)
	if err != nil {
		return nil, err
	}
	s.mat = mat

	specs, err := stack.Build(a.Config, mat.WorkDir())
	if err != nil {
		return nil, fmt.Errorf("build service specs: %w", err)
	}
	s.specs = specs

	s.report = &report.Report{
		RunID:       s.runID,
		Network:     a.Config.Stack.Network,
		WorkDir:     mat.WorkDir(),
		Results:     make([]report.RunResult, 0, len(specs)),
		Credentials: map[string]report.Credentials{},
	}
	for _, spec := range specs {
		s.report.Results = append(s.report.Results, report.RunResult{
			Service: spec.Name,
			Image:   spec.Image,
			URL:     stack.URL(a.Config.Stack.ProbeHost, spec),
			Action:  report.ActionNotAttempted,
			Health:  report.HealthUnknown,
		})
	}
	if a.Config.HasService(stack.Grafana) {
		s.report.Credentials[stack.Grafana] = report.Credentials{User: a.Config.Grafana.AdminUser, Password: a.Config.Grafana.AdminPassword}
	}

	handle, rt, err := a.Selector.Select(ctx, a.Config.Engine.Type)
	if err != nil {
		a.Notifier.Failure(err, map[string]any{"phase": "engine"}, "engine")
		return s, err
	}
	s.handle = handle
	s.rt = rt
	s.report.Handle = handle
	logger.WithComponent("app").Infof("using %s", handle)
	return s, nil
}

func (s *session) close() {
	if s.rt != nil {
		s.rt.Close()
	}
	s.report.Elapsed = time.Since(s.start)
}

func (a *App) resolve(ctx context.Context, s *session) {
	s.res = a.Resolver.Resolve(ctx, s.handle, topology.Request{
		ServiceName:  a.Config.App.ServiceName,
		Port:         a.Config.App.Port,
		ExtraTargets: a.Config.App.ExtraTargets,
	})
	s.report.Resolution = s.res
}

func (a *App) materialize(s *session) error {
	manifest, err := s.mat.Materialize(materialize.Input{
		ScrapeInterval: a.Config.Prometheus.ScrapeInterval,
		JobName:        a.Config.App.JobName,
		MetricsPath:    a.Config.App.MetricsPath,
		Targets:        s.res.Addresses(),
		DataSourceName: a.Config.Grafana.DataSourceName,
		Prometheus:     a.Config.HasService(stack.Prometheus),
		Grafana:        a.Config.HasService(stack.Grafana),
	})
	if err != nil {
		return fmt.Errorf("materialize configuration: %w", err)
	}
	s.report.Manifest = manifest
	return nil
}

// Up converges the whole stack: engine, topology, configuration files, network,
// then each service in dependency order behind its readiness gate, and finally
// the advisory validation. The report is returned even when the run fails.
func (a *App) Up(ctx context.Context) (*report.Report, error) {
	ctx, cancel := a.runContext(ctx)
	defer cancel()
	log := logger.WithComponent("app")
	s, err := a.prepare(ctx)
	if s == nil {
		return nil, err
	}
	defer s.close()
	if err != nil {
		return s.report, runFailed(err)
	}

	a.resolve(ctx, s)
	if err := a.materialize(s); err != nil {
		return s.report, runFailed(err)
	}

	mgr, err := lifecycle.New(s.rt, a.Config.Stack.Network, s.runID, s.res.ExtraHosts)
	if err != nil {
		return s.report, runFailed(err)
	}
	if _, err := mgr.EnsureNetwork(ctx); err != nil {
		a.Notifier.Failure(err, map[string]any{"phase": "network", "network": a.Config.Stack.Network}, "lifecycle")
		return s.report, runFailed(err)
	}

	observed, inspectErrs := mgr.Observe(ctx, s.specs)
	steps := lifecycle.Plan(s.specs, observed)

	gate := readiness.NewGate(s.rt, readiness.Options{
		ProbeHost:      a.Config.Stack.ProbeHost,
		Policy:         retry.Policy{Interval: a.Config.Health.Interval, MaxAttempts: a.Config.Health.MaxAttempts},
		RequestTimeout: a.Config.Health.RequestTimeout,
		LogTail:        a.Config.Stack.LogTail,
	})

	// skipped maps a service to the failed dependency it waits on
	skipped := map[string]string{}
	var runErrs []error
	for i, step := range steps {
		spec := s.specs[i]
		result := s.report.Result(step.Service)

		if dep, ok := skipped[step.Service]; ok {
			log.Warnf("skipping %s: dependency %s failed", step.Service, dep)
			result.Action = report.ActionSkipped
			result.Error = fmt.Sprintf("dependency %s failed", dep)
			continue
		}

		err := inspectErrs[step.Service]
		var out lifecycle.Outcome
		if err == nil {
			out, err = mgr.Apply(ctx, step, spec)
		}
		if err != nil {
			log.WithError(err).Errorf("cannot start %s", step.Service)
			result.Action = report.ActionFailed
			result.Health = report.HealthError
			result.Error = err.Error()
			for _, d := range stack.Dependents(s.specs, step.Service) {
				if _, ok := skipped[d]; !ok {
					skipped[d] = step.Service
				}
			}
			runErrs = append(runErrs, err)
			a.Notifier.Failure(err, map[string]any{"phase": "lifecycle", "service": step.Service, "run_id": s.runID}, "lifecycle")
			continue
		}
		result.Action = actionOf(out.Action)
		result.ContainerID = out.ContainerID
		result.StartedAt = out.StartedAt

		gateRes, err := gate.Wait(ctx, spec)
		result.Attempts = gateRes.Attempts
		if err != nil {
			result.Health = report.HealthTimeout
			result.LogTail = gateRes.LogTail
			result.Error = err.Error()
			runErrs = append(runErrs, err)
			a.Notifier.Failure(err, map[string]any{
				"phase":    "readiness",
				"service":  spec.Name,
				"attempts": gateRes.Attempts,
				"run_id":   s.runID,
			}, "readiness")
			// later services may depend on this one implicitly; stop here and
			// leave everything in place for inspection
			log.Errorf("stopping the run: %s never became ready", spec.Name)
			return s.report, runFailed(errors.Join(runErrs...))
		}
		result.Health = report.HealthHealthy
	}

	if len(runErrs) > 0 {
		return s.report, runFailed(errors.Join(runErrs...))
	}

	a.validate(ctx, s)
	log.Info("stack is up")
	return s.report, nil
}

func (a *App) validate(ctx context.Context, s *session) {
	v := validation.New(validation.Options{
		ProbeHost:          a.Config.Stack.ProbeHost,
		Policy:             retry.Policy{Interval: a.Config.Health.ValidateInterval, MaxAttempts: a.Config.Health.ValidateAttempts},
		RequestTimeout:     a.Config.Health.RequestTimeout,
		JobName:            a.Config.App.JobName,
		GrafanaUser:        a.Config.Grafana.AdminUser,
		GrafanaPass:        a.Config.Grafana.AdminPassword,
		DataSourceName:     a.Config.Grafana.DataSourceName,
		DashboardUID:       a.Config.App.JobName,
		DashboardTitle:     materialize.DashboardTitle(a.Config.App.JobName),
		LocalStackServices: a.Config.LocalStack.Services,
	})
	for _, f := range v.Validate(ctx, s.specs) {
		if res := s.report.Result(f.Service); res != nil {
			res.Findings = append(res.Findings, f)
		}
	}
	if warnings := s.report.Warnings(); len(warnings) > 0 {
		logger.WithComponent("app").Warnf("%d validation warning(s); the stack is up but may be miswired", len(warnings))
	}
}

// Render selects the engine, resolves the topology and writes the configuration
// files without touching any container.
func (a *App) Render(ctx context.Context) (*report.Report, error) {
	ctx, cancel := a.runContext(ctx)
	defer cancel()
	s, err := a.prepare(ctx)
	if s == nil {
		return nil, err
	}
	defer s.close()
	if err != nil {
		return s.report, err
	}
	a.resolve(ctx, s)
	if err := a.materialize(s); err != nil {
		return s.report, err
	}
	return s.report, nil
}

// Status inspects each declared container and probes its health endpoint once.
func (a *App) Status(ctx context.Context) (*report.Report, error) {
	ctx, cancel := a.runContext(ctx)
	defer cancel()
	s, err := a.prepare(ctx)
	if s == nil {
		return nil, err
	}
	defer s.close()
	if err != nil {
		return s.report, err
	}

	gate := readiness.NewGate(nil, readiness.Options{
		ProbeHost:      a.Config.Stack.ProbeHost,
		Policy:         retry.Policy{Interval: a.Config.Health.Interval, MaxAttempts: 1},
		RequestTimeout: a.Config.Health.RequestTimeout,
	})
	for _, spec := range s.specs {
		result := s.report.Result(spec.Name)
		state, found, err := s.rt.Inspect(ctx, spec.Name)
		switch {
		case err != nil:
			result.Health = report.HealthError
			result.Error = err.Error()
			continue
		case !found:
			result.Error = "container not found"
			continue
		}
		result.ContainerID = state.ID
		result.StartedAt = state.StartedAt
		if !state.Running {
			result.Health = report.HealthError
			result.Error = "container is " + state.Status
			continue
		}
		if _, err := gate.Wait(ctx, spec); err != nil {
			result.Health = report.HealthError
			result.Error = err.Error()
			continue
		}
		result.Health = report.HealthHealthy
	}
	if !s.report.Success() {
		return s.report, fmt.Errorf("%w: not healthy: %s", ErrRunFailed, strings.Join(s.report.Failed(), ", "))
	}
	return s.report, nil
}

// Down removes the declared containers and the shared network.
func (a *App) Down(ctx context.Context) error {
	ctx, cancel := a.runContext(ctx)
	defer cancel()
	s, err := a.prepare(ctx)
	if s == nil {
		return err
	}
	defer s.close()
	if err != nil {
		return err
	}
	mgr, err := lifecycle.New(s.rt, a.Config.Stack.Network, s.runID, nil)
	if err != nil {
		return err
	}
	return mgr.Teardown(ctx, s.specs)
}

func runFailed(err error) error {
	return fmt.Errorf("%w: %w", ErrRunFailed, err)
}

func actionOf(a lifecycle.Action) report.Action {
	if a == lifecycle.ActionRecreate {
		return report.ActionRecreated
	}
	return report.ActionCreated
}
