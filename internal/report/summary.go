package report

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
)

var (
	headerColor  = color.New(color.Bold)
	okColor      = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	failColor    = color.New(color.FgRed)
	mutedColor   = color.New(color.Faint)
	serviceColor = color.New(color.FgCyan, color.Bold)
)

// PrintSummary writes the final human-readable block: per-service outcome, URL,
// credentials, generated files, warnings and the log tail of failed services.
func PrintSummary(w io.Writer, r *Report) {
	fmt.Fprintln(w)
	headerColor.Fprintf(w, "stackup summary (run %s, %s)\n", r.RunID, r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  engine:  %s\n", r.Handle)
	fmt.Fprintf(w, "  network: %s\n", r.Network)
	if targets := r.Resolution.Addresses(); len(targets) > 0 {
		fmt.Fprintf(w, "  scrape targets: %s\n", strings.Join(targets, ", "))
	}
	if !r.Resolution.HostReachable {
		warnColor.Fprintln(w, "  the monitored app is not listening on the host yet; its scrape target will report down")
	}

	for _, res := range r.Results {
		fmt.Fprintln(w)
		serviceColor.Fprintf(w, "  %s", res.Service)
		fmt.Fprint(w, "  ")
		statusColor(res.Health).Fprintf(w, "%s", res.Health)
		mutedColor.Fprintf(w, " (%s)\n", res.Action)

		if res.URL != "" {
			fmt.Fprintf(w, "    url:   %s\n", res.URL)
		}
		if creds, ok := r.Credentials[res.Service]; ok {
			fmt.Fprintf(w, "    login: %s / %s\n", creds.User, creds.Password)
		}
		for _, f := range r.Manifest[res.Service] {
			fmt.Fprintf(w, "    file:  %s\n", filepath.Join(r.WorkDir, f))
		}
		if res.Error != "" {
			failColor.Fprintf(w, "    error: %s\n", res.Error)
		}
		if res.LogTail != "" {
			fmt.Fprintf(w, "    last log lines (%s):\n", r.Handle.Command("logs", res.Service))
			for _, line := range strings.Split(res.LogTail, "\n") {
				mutedColor.Fprintf(w, "      %s\n", line)
			}
		}
	}

	if warnings := r.Warnings(); len(warnings) > 0 {
		fmt.Fprintln(w)
		warnColor.Fprintf(w, "  %d validation warning(s):\n", len(warnings))
		for _, f := range warnings {
			warnColor.Fprintf(w, "    - %s\n", f)
		}
	}

	fmt.Fprintln(w)
	if r.Success() {
		okColor.Fprintln(w, "  stack is up")
		return
	}
	failColor.Fprintf(w, "  stack is NOT up: %s\n", strings.Join(r.Failed(), ", "))
}

func statusColor(h Health) *color.Color {
	switch h {
	case HealthHealthy:
		return okColor
	case HealthUnknown:
		return warnColor
	default:
		return failColor
	}
}
