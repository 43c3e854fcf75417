package readiness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bassista/stackup/internal/logger"
	"github.com/bassista/stackup/internal/retry"
	"github.com/bassista/stackup/internal/stack"
	"github.com/sirupsen/logrus"
)

// ErrNotReady is returned when a service never passed its health predicate
// within the polling budget.
var ErrNotReady = errors.New("service not ready")

const maxBodyBytes = 1 << 20

// LogSource supplies container logs for diagnostics.
type LogSource interface {
	Logs(ctx context.Context, name string, tail int) (string, error)
}

// Options bound the gate.
type Options struct {
	ProbeHost      string
	Policy         retry.Policy
	RequestTimeout time.Duration
	LogTail        int
}

// Result describes one gate run.
type Result struct {
	Attempts int
	Elapsed  time.Duration
	// LastError is the reason the final attempt failed.
	LastError error
	// LogTail holds the container's last log lines when the gate failed.
	LogTail string
}

// Gate blocks until a service's health endpoint satisfies its predicate.
type Gate struct {
	client *http.Client
	logs   LogSource
	opts   Options
}

func NewGate(logs LogSource, opts Options) *Gate {
	return NewGateWithClient(&http.Client{}, logs, opts)
}

func NewGateWithClient(client *http.Client, logs LogSource, opts Options) *Gate {
	return &Gate{client: client, logs: logs, opts: opts}
}

// Wait polls the service until it is ready. On failure the error wraps
// ErrNotReady and the result carries the container's log tail.
func (g *Gate) Wait(ctx context.Context, spec stack.ServiceSpec) (Result, error) {
	log := logger.WithService("readiness", spec.Name)
	url := stack.URL(g.opts.ProbeHost, spec) + spec.Health.Path
	start := time.Now()

	log.Infof("waiting for %s (%d attempts every %s)", url, g.opts.Policy.MaxAttempts, g.opts.Policy.Interval)
	attempts, err := retry.Do(ctx, g.opts.Policy, func(ctx context.Context, _ int) error {
		return g.probe(ctx, url, spec.Health)
	}, func(attempt int, err error) {
		log.WithFields(logrus.Fields{"attempt": attempt, "reason": err}).Debug("not ready yet")
	})

	res := Result{Attempts: attempts, Elapsed: time.Since(start), LastError: err}
	if err == nil {
		log.WithFields(logrus.Fields{"attempts": attempts, "elapsed": res.Elapsed.Round(time.Millisecond)}).Info("service ready")
		return res, nil
	}

	res.LogTail = g.tail(spec.Name)
	log.WithError(err).Errorf("service not ready after %d attempts", attempts)
	if res.LogTail != "" {
		log.Errorf("last %d log lines of %s:\n%s", g.opts.LogTail, spec.Name, res.LogTail)
	}
	return res, fmt.Errorf("%w: %s: %w", ErrNotReady, spec.Name, err)
}

// tail fetches logs with its own context: the run context may already be done.
func (g *Gate) tail(name string) string {
	if g.logs == nil || g.opts.LogTail <= 0 {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := g.logs.Logs(ctx, name, g.opts.LogTail)
	if err != nil {
		logger.WithService("readiness", name).WithError(err).Warn("cannot fetch container logs")
		return ""
	}
	return out
}

func (g *Gate) probe(ctx context.Context, url string, check stack.HealthCheck) error {
	reqCtx := ctx
	if g.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, g.opts.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return retry.Permanent(err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return Evaluate(check, body)
}
