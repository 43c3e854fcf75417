// Package notify reports fatal run outcomes to Honeybadger when an API key is
// configured. Without a key every call is a no-op.
package notify

import (
	"fmt"
	"runtime/debug"

	honeybadger "github.com/honeybadger-io/honeybadger-go"
	"github.com/sirupsen/logrus"
)

// Client is the part of the Honeybadger client used here.
type Client interface {
	Notify(err interface{}, extra ...interface{}) (string, error)
	Flush()
}

// Notifier forwards failures to an error tracker.
type Notifier struct {
	client Client
	log    *logrus.Logger
}

// New configures Honeybadger from HONEYBADGER_API_KEY and GO_ENV as read by getenv.
func New(getenv func(string) string, log *logrus.Logger) *Notifier {
	apiKey := getenv("HONEYBADGER_API_KEY")
	if apiKey == "" {
		log.Debug("Honeybadger is not active. To enable error reporting, set the HONEYBADGER_API_KEY environment variable.")
		return &Notifier{log: log}
	}
	client := honeybadger.New(honeybadger.Configuration{
		APIKey: apiKey,
		Env:    getenv("GO_ENV"),
	})
	log.Info("Honeybadger error reporting is enabled.")
	return &Notifier{client: client, log: log}
}

// NewWithClient uses client directly; a nil client disables reporting.
func NewWithClient(client Client, log *logrus.Logger) *Notifier {
	return &Notifier{client: client, log: log}
}

// Enabled reports whether failures are forwarded.
func (n *Notifier) Enabled() bool {
	return n != nil && n.client != nil
}

// Failure reports a fatal outcome. fields become the Honeybadger context.
func (n *Notifier) Failure(err error, fields map[string]any, tags ...string) {
	if !n.Enabled() || err == nil {
		return
	}
	hbCtx := honeybadger.Context{}
	for k, v := range fields {
		hbCtx[k] = v
	}
	if _, nerr := n.client.Notify(err, hbCtx, honeybadger.Tags(tags)); nerr != nil {
		n.log.WithError(nerr).Warn("cannot notify Honeybadger")
		return
	}
	n.log.Warnf("Honeybadger notified: %v", err)
}

// Guard runs fn; on panic it notifies with the stack trace, then re-panics.
func (n *Notifier) Guard(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			if n.Enabled() {
				n.client.Notify(fmt.Sprintf("Panic: %v", rec), honeybadger.Context{"stack": string(debug.Stack())}, honeybadger.Tags{"panic"})
				n.client.Flush()
			}
			panic(rec)
		}
	}()
	fn()
}

// Flush blocks until queued notices are sent. Call it before the process exits.
func (n *Notifier) Flush() {
	if n.Enabled() {
		n.client.Flush()
	}
}
