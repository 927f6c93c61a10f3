package process

import (
	"bytes"
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"git.home.luguber.info/inful/handoff/internal/foundation/errors"
	"git.home.luguber.info/inful/handoff/internal/logfields"
)

// waitDelay bounds how long Wait blocks on inherited pipes after the group was killed.
const waitDelay = 2 * time.Second

// Command describes one executable invocation.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Env   []string // nil inherits the environment
	Stdin io.Reader
	// Timeout, when positive, bounds this command independently of the caller's context.
	Timeout time.Duration
}

// Argv returns the full argument vector.
func (c Command) Argv() []string {
	return append([]string{c.Name}, c.Args...)
}

// String renders the command for logs with secrets masked.
func (c Command) String() string {
	return strings.Join(logfields.Redact(c.Argv()), " ")
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Success reports a zero exit status.
func (r Result) Success() bool { return r.ExitCode == 0 }

// Runner executes commands. A non-zero exit status is not an error: it is
// reported through Result.ExitCode. Errors mean the command could not be
// started or was terminated by a timeout or cancellation.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// NewExecRunner returns the production Runner.
func NewExecRunner() *ExecRunner { return &ExecRunner{} }

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	path, err := exec.LookPath(c.Name)
	if err != nil {
		return Result{ExitCode: -1}, NotFound(c.Name, err)
	}

	// #nosec G204 -- argv is built by typed option builders, never through a shell here
	cmd := exec.CommandContext(ctx, path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdin = c.Stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	isolate(cmd)
	cmd.WaitDelay = waitDelay

	slog.Debug("Running command", logfields.Command(c.Argv()))
	start := time.Now()
	runErr := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, errors.ProcessError(fmt.Sprintf("%s terminated", c.Name)).
			WithCause(ctxErr).
			WithContext("command", c.String()).
			WithContext("timeout", c.Timeout.String()).
			Build()
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		res.ExitCode = 0
	case stdErrors.As(runErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		return res, errors.ProcessError(fmt.Sprintf("failed to run %s", c.Name)).
			WithCause(runErr).
			WithContext("command", c.String()).
			Build()
	}
	slog.Debug("Command finished",
		logfields.Command(c.Argv()),
		logfields.ExitCode(res.ExitCode),
		logfields.DurationMS(res.Duration.Milliseconds()))
	return res, nil
}

// NotFound builds the classified error for a missing executable.
func NotFound(name string, cause error) error {
	return errors.ProcessError(fmt.Sprintf("executable %q not found", name)).
		WithCause(cause).
		WithContext("executable", name).
		WithHint(fmt.Sprintf("install %s or point the matching HANDOFF_*_BIN variable at it", name)).
		Build()
}

// IsTerminated reports whether err came from a timeout or cancellation.
func IsTerminated(err error) bool {
	return stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(err, context.Canceled)
}

// FirstLine returns the first non-empty line of s, trimmed. Useful for
// attaching tool output to errors without flooding logs.
func FirstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
