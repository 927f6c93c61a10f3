package overlay

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

// JoinOptions configures `tailscale up`.
type JoinOptions struct {
	AuthKey  string
	Hostname string
	Tags     []string
	Timeout  time.Duration
}

// Args returns the argument list for `tailscale up`.
func (o JoinOptions) Args() ([]string, error) {
	if strings.TrimSpace(o.AuthKey) == "" {
		return nil, errors.ValidationError("overlay auth key is required to join").
			WithHint("set HANDOFF_OVERLAY_AUTHKEY").
			Build()
	}
	args := []string{"up", "--authkey=" + o.AuthKey}
	if o.Hostname != "" {
		args = append(args, "--hostname="+o.Hostname)
	}
	if tags := NewTagSet(o.Tags...).Sorted(); len(tags) > 0 {
		args = append(args, "--advertise-tags="+strings.Join(tags, ","))
	}
	return args, nil
}

// Joiner connects the local node to the overlay.
type Joiner struct {
	runner process.Runner
	binary string
}

// NewJoiner returns a Joiner using the tailscale binary.
func NewJoiner(runner process.Runner, binary string) *Joiner {
	if binary == "" {
		binary = "tailscale"
	}
	return &Joiner{runner: runner, binary: binary}
}

// Verify checks that a node joined outside handoff is connected. A directory
// that cannot be queried is only logged; discovery absorbs it the same way.
func (j *Joiner) Verify(ctx context.Context) error {
	err := NewTailscaleDirectory(j.runner, j.binary).Ready(ctx)
	if err != nil && IsUnavailable(err) {
		slog.Warn("Could not verify overlay connection", logfields.Error(err))
		return nil
	}
	return err
}

// Join runs `tailscale up` with opts.
func (j *Joiner) Join(ctx context.Context, opts JoinOptions) error {
	args, err := opts.Args()
	if err != nil {
		return err
	}
	cmd := process.Command{Name: j.binary, Args: args, Timeout: opts.Timeout}
	slog.Info("Joining overlay network", logfields.Host(opts.Hostname), logfields.Command(cmd.Argv()))

	res, err := j.runner.Run(ctx, cmd)
	if err != nil {
		return errors.NetworkError("failed to join overlay network").
			WithCause(err).
			WithHint("check the auth key and that tailscaled is running").
			Build()
	}
	if !res.Success() {
		return errors.NetworkError("failed to join overlay network").
			WithCause(fmt.Errorf("%s up exited %d: %s", j.binary, res.ExitCode, process.FirstLine(res.Stderr))).
			WithContext("exit_code", res.ExitCode).
			WithHint("the auth key may be expired or lack permission for the requested tags").
			Build()
	}
	return nil
}
