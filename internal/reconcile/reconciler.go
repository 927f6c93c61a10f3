package reconcile

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"git.home.luguber.info/inful/handoff/internal/foundation/errors"
	"git.home.luguber.info/inful/handoff/internal/logfields"
	"git.home.luguber.info/inful/handoff/internal/metrics"
	"git.home.luguber.info/inful/handoff/internal/process"
	"git.home.luguber.info/inful/handoff/internal/remote"
	"git.home.luguber.info/inful/handoff/internal/workspace"
)

// ErrDataSync is returned when every transport failed.
var ErrDataSync = errors.SyncError("data sync failed: all transports exhausted").
	WithHint("the mirror is restartable; rerun once the predecessor is reachable over ssh").
	Build()

// Transport names the mechanism that produced a result.
type Transport string

const (
	TransportNone  Transport = "none"
	TransportRsync Transport = "rsync"
	TransportSCP   Transport = "scp"
)

// RemoteState is the state of the remote directory before transfer.
type RemoteState string

const (
	StateMissing  RemoteState = "missing"
	StateEmpty    RemoteState = "empty"
	StateNonEmpty RemoteState = "nonempty"
	StateUnknown  RemoteState = "unknown"

	// StateUnreadable means the remote account cannot list the directory or
	// cannot tell whether it exists. It never counts as empty.
	StateUnreadable RemoteState = "unreadable"
)

// Source is the predecessor's working data.
type Source struct {
	Host remote.Host
	Path string
}

// Result of a reconcile.
type Result struct {
	TransferredBytes int64       `json:"transferred_bytes" yaml:"transferred_bytes"`
	Transport        Transport   `json:"transport" yaml:"transport"`
	RemoteState      RemoteState `json:"remote_state" yaml:"remote_state"`
	Compression      Compression `json:"compression" yaml:"compression"`
}

// StateChecker captures remote command output.
type StateChecker interface {
	Capture(ctx context.Context, host remote.Host, command string) *string
}

// Options configures a Reconciler.
type Options struct {
	LocalDir       string
	RsyncBinary    string
	SCPBinary      string
	SSH            remote.SSHOptions
	AttemptTimeout time.Duration
}

// Reconciler mirrors remote working data locally.
type Reconciler struct {
	runner   process.Runner
	checker  StateChecker
	opts     Options
	recorder metrics.Recorder
}

// New returns a Reconciler.
func New(runner process.Runner, checker StateChecker, opts Options) *Reconciler {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 30 * time.Minute
	}
	return &Reconciler{runner: runner, checker: checker, opts: opts, recorder: metrics.NoopRecorder{}}
}

// WithRecorder sets the metrics recorder.
func (r *Reconciler) WithRecorder(rec metrics.Recorder) *Reconciler {
	if rec != nil {
		r.recorder = rec
	}
	return r
}

// Reconcile mirrors src into the local directory. A missing or empty remote
// directory is a success with zero bytes.
func (r *Reconciler) Reconcile(ctx context.Context, src Source) (Result, error) {
	log := slog.With(logfields.Host(src.Host.String()), logfields.Path(src.Path))
	comp := CompressionFor(src.Host)

	state := r.remoteState(ctx, src)
	switch state {
	case StateMissing, StateEmpty:
		log.Info("Remote working data is empty, nothing to transfer", slog.String("state", string(state)))
		return Result{Transport: TransportNone, RemoteState: state, Compression: comp}, nil
	case StateUnknown, StateUnreadable:
		log.Warn("Could not determine remote directory state, attempting transfer", slog.String("state", string(state)))
	}

	// #nosec G301 -- data directory mirrors a runner work tree
	if err := os.MkdirAll(filepath.Dir(r.opts.LocalDir), 0o755); err != nil {
		return Result{}, errors.FileSystemError("failed to prepare local data directory").
			WithCause(err).
			WithContext("path", r.opts.LocalDir).
			Build()
	}

	attempts := []struct {
		transport Transport
		run       func(context.Context, Source, Compression) (int64, error)
	}{
		{TransportRsync, r.rsync},
		{TransportSCP, r.scp},
	}

	var lastErr error
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		start := time.Now()
		n, err := a.run(ctx, src, comp)
		r.recorder.IncTransferAttempt(string(a.transport), err == nil)
		if err != nil {
			lastErr = err
			log.Warn("Transfer attempt failed",
				logfields.Transport(string(a.transport)),
				logfields.Error(err))
			continue
		}
		r.recorder.AddTransferredBytes(string(a.transport), n)
		log.Info("Working data mirrored",
			logfields.Transport(string(a.transport)),
			logfields.Bytes(n),
			slog.String("compression", comp.String()),
			logfields.DurationMS(time.Since(start).Milliseconds()))
		return Result{TransferredBytes: n, Transport: a.transport, RemoteState: state, Compression: comp}, nil
	}

	return Result{RemoteState: state, Compression: comp}, ErrDataSync.
		WithCause(lastErr).
		WithContext("host", src.Host.String()).
		WithContext("path", src.Path)
}

// stateScript reports missing only when the parent is searchable, and empty
// only when the directory could actually be listed.
const stateScript = `if [ -d %[1]s ]; then ` +
	`if [ -r %[1]s ] && [ -x %[1]s ] && entries=$(ls -A %[1]s 2>/dev/null); then ` +
	`if [ -z "$entries" ]; then echo empty; else echo nonempty; fi; ` +
	`else echo unreadable; fi; ` +
	`elif [ -x %[2]s ] || [ ! -e %[2]s ]; then echo missing; ` +
	`else echo unreadable; fi`

// StateScript returns the shell snippet classifying dir on the remote host.
func StateScript(dir string) string {
	return fmt.Sprintf(stateScript, remote.ShellQuote(dir), remote.ShellQuote(path.Dir(dir)))
}

func (r *Reconciler) remoteState(ctx context.Context, src Source) RemoteState {
	out := r.checker.Capture(ctx, src.Host, StateScript(src.Path))
	if out == nil {
		return StateUnknown
	}
	switch RemoteState(strings.TrimSpace(*out)) {
	case StateMissing:
		return StateMissing
	case StateEmpty:
		return StateEmpty
	case StateNonEmpty:
		return StateNonEmpty
	case StateUnreadable:
		return StateUnreadable
	}
	return StateUnknown
}

// rsyncVanishedFiles is rsync's exit status for source files that disappeared
// mid-transfer; the predecessor is still live, so this is expected.
const rsyncVanishedFiles = 24

func (r *Reconciler) rsync(ctx context.Context, src Source, comp Compression) (int64, error) {
	shell, err := r.opts.SSH.RemoteShell()
	if err != nil {
		return 0, err
	}
	args, err := RsyncOptions{
		Binary:      r.opts.RsyncBinary,
		RemoteShell: shell,
		Compression: comp,
		Source:      src.Host.PathSpec(src.Path),
		Dest:        r.opts.LocalDir,
	}.Args()
	if err != nil {
		return 0, err
	}
	res, err := r.runner.Run(ctx, process.Command{Name: r.opts.RsyncBinary, Args: args, Timeout: r.opts.AttemptTimeout})
	if err != nil {
		return 0, err
	}
	if res.ExitCode != 0 && res.ExitCode != rsyncVanishedFiles {
		return 0, fmt.Errorf("rsync exited %d: %s", res.ExitCode, process.FirstLine(res.Stderr))
	}
	n, ok := ParseRsyncStats(res.Stdout)
	if !ok {
		slog.Debug("rsync stats missing, reporting zero bytes")
	}
	return n, nil
}

func (r *Reconciler) scp(ctx context.Context, src Source, comp Compression) (int64, error) {
	stage := workspace.NewManager(filepath.Dir(r.opts.LocalDir))
	if err := stage.Create(); err != nil {
		return 0, err
	}
	defer func() {
		if err := stage.Cleanup(); err != nil {
			slog.Warn("Failed to remove staging directory", logfields.Error(err))
		}
	}()
	incoming := filepath.Join(stage.GetPath(), "incoming")

	args, err := SCPOptions{
		Binary:      r.opts.SCPBinary,
		SSH:         r.opts.SSH,
		Compression: comp,
		Source:      src.Host.PathSpec(src.Path),
		Dest:        incoming,
	}.Args()
	if err != nil {
		return 0, err
	}
	res, err := r.runner.Run(ctx, process.Command{Name: r.opts.SCPBinary, Args: args, Timeout: r.opts.AttemptTimeout})
	if err != nil {
		return 0, err
	}
	if !res.Success() {
		return 0, fmt.Errorf("scp exited %d: %s", res.ExitCode, process.FirstLine(res.Stderr))
	}
	n, err := treeSize(incoming)
	if err != nil {
		return 0, fmt.Errorf("scp produced no tree: %w", err)
	}
	if err := swapInto(incoming, r.opts.LocalDir, stage.GetPath()); err != nil {
		return 0, err
	}
	return n, nil
}

// swapInto replaces dest with incoming. The previous dest is parked inside
// stageDir and restored if the final rename fails.
func swapInto(incoming, dest, stageDir string) error {
	previous := filepath.Join(stageDir, "previous")
	hadPrevious := false
	if _, err := os.Stat(dest); err == nil {
		if err := os.Rename(dest, previous); err != nil {
			return fmt.Errorf("park previous data directory: %w", err)
		}
		hadPrevious = true
	}
	if err := os.Rename(incoming, dest); err != nil {
		if hadPrevious {
			_ = os.Rename(previous, dest)
		}
		return fmt.Errorf("install mirrored data directory: %w", err)
	}
	return nil
}

// treeSize sums the sizes of regular files under root.
func treeSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

var statsLine = regexp.MustCompile(`(?m)^Total transferred file size:\s*([\d,.']+)`)

// ParseRsyncStats extracts the transferred file size from rsync --stats output.
// Digit grouping separators of any locale are ignored.
func ParseRsyncStats(out string) (int64, bool) {
	m := statsLine.FindStringSubmatch(out)
	if m == nil {
		return 0, false
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, m[1])
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
