// Package cli holds the stackup command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/bassista/stackup/internal/app"
	"github.com/bassista/stackup/internal/config"
	"github.com/bassista/stackup/internal/logger"
	"github.com/bassista/stackup/internal/notify"
	"github.com/bassista/stackup/internal/report"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Runner is the orchestrator as seen by the commands.
type Runner interface {
	Up(ctx context.Context) (*report.Report, error)
	Render(ctx context.Context) (*report.Report, error)
	Status(ctx context.Context) (*report.Report, error)
	Down(ctx context.Context) error
	Shutdown()
}

// RunnerFactory builds a Runner for the loaded configuration.
type RunnerFactory func(cfg *config.Config) (Runner, error)

// DefaultFactory wires the real engine selector and resolver; every runner
// reports failures through notifier.
func DefaultFactory(notifier *notify.Notifier) RunnerFactory {
	return func(cfg *config.Config) (Runner, error) {
		return app.NewDefault(cfg, notifier)
	}
}

type options struct {
	configDir string
	engine    string
	workDir   string
	logLevel  string
	jsonOut   bool
}

// NewRootCommand builds the command tree. Running the root command without a
// subcommand is the same as "up".
func NewRootCommand(factory RunnerFactory) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "stackup",
		Short: "Bootstrap the local LocalStack, Prometheus and Grafana stack",
		Long: `stackup brings up a local MLOps support stack on Docker or Podman:
LocalStack, Prometheus scraping the API on the host, and Grafana with a
provisioned data source and dashboard. Each run tears down and recreates
the managed containers, then waits until every service is ready.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUp(cmd, factory, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configDir, "config", "", "directory containing an optional stackup.yaml")
	flags.StringVar(&opts.engine, "engine", "", "container engine: auto, docker, podman or memory (default from STACK_ENGINE)")
	flags.StringVar(&opts.workDir, "workdir", "", "directory for generated configuration (default from STACK_WORKDIR)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (default from LOG_LEVEL)")
	flags.BoolVar(&opts.jsonOut, "json", false, "print the run report as JSON instead of the summary")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Converge the whole stack and wait until it is ready",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runUp(cmd, factory, opts)
			},
		},
		&cobra.Command{
			Use:   "render",
			Short: "Only write the generated configuration files",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRunner(cmd, factory, opts, func(ctx context.Context, r Runner) error {
					rep, err := r.Render(ctx)
					if err != nil {
						return err
					}
					if opts.jsonOut {
						return writeJSON(cmd.OutOrStdout(), rep)
					}
					for _, f := range rep.Manifest.Files() {
						fmt.Fprintf(cmd.OutOrStdout(), "%s/%s\n", rep.WorkDir, f)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Inspect the managed containers and probe each service once",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRunner(cmd, factory, opts, func(ctx context.Context, r Runner) error {
					rep, err := r.Status(ctx)
					return printReport(cmd.OutOrStdout(), rep, opts.jsonOut, err)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Remove the managed containers and the shared network",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRunner(cmd, factory, opts, func(ctx context.Context, r Runner) error {
					if err := r.Down(ctx); err != nil {
						return err
					}
					color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), "stack removed")
					return nil
				})
			},
		},
	)
	return root
}

func runUp(cmd *cobra.Command, factory RunnerFactory, opts *options) error {
	return withRunner(cmd, factory, opts, func(ctx context.Context, r Runner) error {
		rep, err := r.Up(ctx)
		return printReport(cmd.OutOrStdout(), rep, opts.jsonOut, err)
	})
}

// withRunner loads configuration, applies the flags and runs fn. Cancelling the
// command context (SIGINT/SIGTERM) shuts the runner down.
func withRunner(cmd *cobra.Command, factory RunnerFactory, opts *options, fn func(ctx context.Context, r Runner) error) error {
	cfg, err := config.LoadConfig(opts.configDir)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := cfg.Override(opts.engine, opts.workDir, opts.logLevel); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := logger.SetLevel(cfg.Misc.LogLevel); err != nil {
		logger.WithComponent("cli").Warnf("invalid log level '%s', keeping %s: %v", cfg.Misc.LogLevel, logger.Logger.GetLevel(), err)
	}

	runner, err := factory(cfg)
	if err != nil {
		return err
	}
	defer runner.Shutdown()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, runner)
}

// printReport prints rep (when there is one) and passes err through.
func printReport(w io.Writer, rep *report.Report, jsonOut bool, err error) error {
	if rep == nil {
		return err
	}
	if jsonOut {
		if jerr := writeJSON(w, rep); jerr != nil {
			return jerr
		}
		return err
	}
	report.PrintSummary(w, rep)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
