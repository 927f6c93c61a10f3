// Package notify publishes run reports to NATS. Delivery is best effort: a
// failing broker is reported to the caller but never fails a handoff.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/handoff/internal/foundation/errors"
	"git.home.luguber.info/inful/handoff/internal/logfields"
)

// DefaultTimeout bounds connect plus flush.
const DefaultTimeout = 5 * time.Second

// Options configures a Notifier.
type Options struct {
	URL     string
	Subject string
	Timeout time.Duration
	Name    string
}

// Notifier publishes JSON messages on a subject.
type Notifier struct {
	opts Options
}

// New returns a Notifier. An empty URL yields a disabled notifier.
func New(opts Options) *Notifier {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Name == "" {
		opts.Name = "handoff"
	}
	return &Notifier{opts: opts}
}

// Enabled reports whether a broker is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.opts.URL != "" && n.opts.Subject != ""
}

// Notify marshals v and publishes it, waiting for the server to acknowledge
// the flush. It is a no-op when disabled.
func (n *Notifier) Notify(ctx context.Context, v any) error {
	if !n.Enabled() {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errors.NotifyError("failed to marshal notification").WithCause(err).Build()
	}

	ctx, cancel := context.WithTimeout(ctx, n.opts.Timeout)
	defer cancel()

	conn, err := nats.Connect(n.opts.URL,
		nats.Name(n.opts.Name),
		nats.Timeout(n.opts.Timeout),
		nats.NoReconnect(),
	)
	if err != nil {
		return errors.NotifyError("failed to connect to NATS").
			WithCause(err).
			WithContext("url", n.opts.URL).
			Build()
	}
	defer conn.Close()

	if err := conn.Publish(n.opts.Subject, data); err != nil {
		return errors.NotifyError("failed to publish notification").
			WithCause(err).
			WithContext("subject", n.opts.Subject).
			Build()
	}
	if err := conn.FlushWithContext(ctx); err != nil {
		return errors.NotifyError("failed to flush notification").
			WithCause(err).
			WithContext("subject", n.opts.Subject).
			Build()
	}
	slog.Debug("Published notification", slog.String("subject", n.opts.Subject), logfields.Bytes(int64(len(data))))
	return nil
}
