package remote

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"git.home.luguber.info/inful/handoff/internal/foundation/errors"
	"git.home.luguber.info/inful/handoff/internal/logfields"
	"git.home.luguber.info/inful/handoff/internal/process"
)

// sshConnectionFailure is the exit status ssh reserves for its own errors.
const sshConnectionFailure = 255

// ReachCanary is the output expected from the reachability check.
const ReachCanary = "handoff-reach-ok"

// Outcome is the result of a remote command that ran.
type Outcome struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Success reports a zero exit status.
func (o Outcome) Success() bool { return o.ExitCode == 0 }

// Executor runs commands on remote hosts over ssh.
type Executor struct {
	runner         process.Runner
	opts           SSHOptions
	captureTimeout time.Duration
}

// NewExecutor returns an Executor. captureTimeout bounds Capture and Reachable.
func NewExecutor(runner process.Runner, opts SSHOptions, captureTimeout time.Duration) *Executor {
	if captureTimeout <= 0 {
		captureTimeout = 30 * time.Second
	}
	return &Executor{runner: runner, opts: opts, captureTimeout: captureTimeout}
}

// Options returns the ssh options in use.
func (e *Executor) Options() SSHOptions { return e.opts }

// Execute runs command on host. A non-zero remote exit status is reported in
// the Outcome; an error means the command channel itself failed (connection
// refused, authentication, timeout).
func (e *Executor) Execute(ctx context.Context, host Host, command string, timeout time.Duration) (Outcome, error) {
	args, err := e.opts.Args(host, command)
	if err != nil {
		return Outcome{ExitCode: -1}, err
	}
	res, err := e.runner.Run(ctx, process.Command{Name: e.opts.Binary, Args: args, Timeout: timeout})
	out := Outcome{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode, Duration: res.Duration}
	if err != nil {
		if process.IsTerminated(err) {
			return out, errors.NetworkError("remote command timed out").
				WithCause(err).
				WithContext("host", host.String()).
				Build()
		}
		return out, err
	}
	if res.ExitCode == sshConnectionFailure {
		return out, errors.NetworkError("ssh connection failed").
			WithCause(fmt.Errorf("%s", process.FirstLine(res.Stderr))).
			WithContext("host", host.String()).
			WithHint("check that the peer runs sshd and accepts this node's key for the user").
			Build()
	}
	return out, nil
}

// Capture runs command and returns its trimmed stdout, or nil on any failure.
func (e *Executor) Capture(ctx context.Context, host Host, command string) *string {
	out, err := e.Execute(ctx, host, command, e.captureTimeout)
	if err != nil {
		slog.Debug("Remote capture failed", logfields.Host(host.String()), logfields.Error(err))
		return nil
	}
	if !out.Success() {
		slog.Debug("Remote capture exited non-zero",
			logfields.Host(host.String()),
			logfields.ExitCode(out.ExitCode))
		return nil
	}
	s := strings.TrimRight(out.Stdout, "\r\n")
	return &s
}

// Reachable reports whether host answers the canary command exactly.
func (e *Executor) Reachable(ctx context.Context, host Host) bool {
	got := e.Capture(ctx, host, "echo "+ReachCanary)
	return got != nil && strings.TrimSpace(*got) == ReachCanary
}
