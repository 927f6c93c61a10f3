// Package quiesce stops background services on the predecessor before it retires.
//
// Every service is handled independently and concurrently: a graceful stop
// through the service manager, then a forceful kill by name. Failures are
// logged and never returned, because the predecessor is retired regardless.
package quiesce

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/handoff/internal/logfields"
	"git.home.luguber.info/inful/handoff/internal/metrics"
	"git.home.luguber.info/inful/handoff/internal/remote"
)

// Method is how a service was stopped.
type Method string

const (
	MethodGraceful Method = "systemctl"
	MethodForce    Method = "pkill"
	MethodNone     Method = "none"
)

// ForcePattern is the pkill -f pattern for svc. The first character sits in a
// bracket expression so the pattern never matches its own command line, nor
// the sudo or shell processes carrying it.
func ForcePattern(svc string) string {
	if svc == "" {
		return svc
	}
	first, rest := svc[:1], svc[1:]
	if !isAlnum(first[0]) {
		return regexp.QuoteMeta(svc)
	}
	return "[" + first + "]" + regexp.QuoteMeta(rest)
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// pkillNoMatch is pkill's exit status when no process matched.
const pkillNoMatch = 1

// RemoteRunner is the subset of remote.Executor the quiescer needs.
type RemoteRunner interface {
	Dispatch(ctx context.Context, host remote.Host, command string, wait time.Duration) remote.DispatchOutcome
	Execute(ctx context.Context, host remote.Host, command string, timeout time.Duration) (remote.Outcome, error)
}

// ServiceOutcome is the result for one service.
type ServiceOutcome struct {
	Service string `json:"service" yaml:"service"`
	Stopped bool   `json:"stopped" yaml:"stopped"`
	Method  Method `json:"method" yaml:"method"`
	Detail  string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Result lists stopped services in input order.
type Result struct {
	Stopped  []string         `json:"stopped" yaml:"stopped"`
	Outcomes []ServiceOutcome `json:"outcomes,omitempty" yaml:"outcomes,omitempty"`
}

// Options configures a Quiescer.
type Options struct {
	// DispatchWait bounds the foreground wait for the graceful stop.
	DispatchWait time.Duration
	// ForceTimeout bounds the forceful kill.
	ForceTimeout time.Duration
}

// Quiescer stops services on a remote host.
type Quiescer struct {
	remote   RemoteRunner
	opts     Options
	recorder metrics.Recorder
}

// New returns a Quiescer.
func New(r RemoteRunner, opts Options) *Quiescer {
	if opts.DispatchWait <= 0 {
		opts.DispatchWait = 5 * time.Second
	}
	if opts.ForceTimeout <= 0 {
		opts.ForceTimeout = 30 * time.Second
	}
	return &Quiescer{remote: r, opts: opts, recorder: metrics.NoopRecorder{}}
}

// WithRecorder sets the metrics recorder.
func (q *Quiescer) WithRecorder(r metrics.Recorder) *Quiescer {
	if r != nil {
		q.recorder = r
	}
	return q
}

// Quiesce stops services on target. An empty list makes no remote calls.
func (q *Quiescer) Quiesce(ctx context.Context, target remote.Host, services []string) Result {
	res := Result{Stopped: []string{}}
	if len(services) == 0 {
		return res
	}

	outcomes := make([]ServiceOutcome, len(services))
	var g errgroup.Group
	for i, svc := range services {
		g.Go(func() error {
			outcomes[i] = q.stop(ctx, target, svc)
			return nil
		})
	}
	_ = g.Wait()

	res.Outcomes = outcomes
	for _, o := range outcomes {
		if o.Stopped {
			res.Stopped = append(res.Stopped, o.Service)
			q.recorder.IncServiceStop(string(o.Method))
		}
	}
	slog.Info("Quiesced predecessor services",
		logfields.Host(target.String()),
		slog.Int("requested", len(services)),
		slog.Int("stopped", len(res.Stopped)))
	return res
}

func (q *Quiescer) stop(ctx context.Context, target remote.Host, svc string) ServiceOutcome {
	log := slog.With(logfields.Host(target.String()), logfields.Service(svc))
	quoted := remote.ShellQuote(svc)

	d := q.remote.Dispatch(ctx, target, "sudo -n systemctl stop "+quoted, q.opts.DispatchWait)
	if d.Succeeded() {
		log.Info("Service stop dispatched", slog.Bool("completed", d.Completed))
		return ServiceOutcome{Service: svc, Stopped: true, Method: MethodGraceful}
	}
	log.Debug("Graceful stop failed, forcing", slog.String("detail", d.Detail), logfields.ExitCode(d.ExitCode))

	out, err := q.remote.Execute(ctx, target, "sudo -n pkill -f "+remote.ShellQuote(ForcePattern(svc)), q.opts.ForceTimeout)
	if err != nil {
		log.Warn("Predecessor unreachable while stopping service, continuing", logfields.Error(err))
		return ServiceOutcome{Service: svc, Method: MethodNone, Detail: err.Error()}
	}
	if out.ExitCode == 0 || out.ExitCode == pkillNoMatch {
		log.Info("Service terminated", logfields.ExitCode(out.ExitCode))
		return ServiceOutcome{Service: svc, Stopped: true, Method: MethodForce}
	}
	log.Warn("Failed to stop service", logfields.ExitCode(out.ExitCode))
	return ServiceOutcome{Service: svc, Method: MethodNone, Detail: out.Stderr}
}
