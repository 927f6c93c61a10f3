package handoff

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/handoff/internal/config"
	"git.home.luguber.info/inful/handoff/internal/foundation/errors"
	"git.home.luguber.info/inful/handoff/internal/history"
	"git.home.luguber.info/inful/handoff/internal/logfields"
	"git.home.luguber.info/inful/handoff/internal/metadata"
	"git.home.luguber.info/inful/handoff/internal/metrics"
	"git.home.luguber.info/inful/handoff/internal/observability"
	"git.home.luguber.info/inful/handoff/internal/overlay"
	"git.home.luguber.info/inful/handoff/internal/publish"
	"git.home.luguber.info/inful/handoff/internal/quiesce"
	"git.home.luguber.info/inful/handoff/internal/reconcile"
	"git.home.luguber.info/inful/handoff/internal/remote"
	"git.home.luguber.info/inful/handoff/internal/selector"
	"git.home.luguber.info/inful/handoff/internal/workspace"
)

// Joiner brings the local node onto the overlay, or checks that it already is.
type Joiner interface {
	Join(ctx context.Context, opts overlay.JoinOptions) error
	Verify(ctx context.Context) error
}

// Selector picks the predecessor, or nil when there is none.
type Selector interface {
	Select(ctx context.Context) (*selector.Candidate, error)
}

// Reconciler mirrors predecessor data locally.
type Reconciler interface {
	Reconcile(ctx context.Context, src reconcile.Source) (reconcile.Result, error)
}

// Quiescer stops predecessor services. It never fails.
type Quiescer interface {
	Quiesce(ctx context.Context, target remote.Host, services []string) quiesce.Result
}

// Publisher commits and pushes local data.
type Publisher interface {
	Publish(ctx context.Context, message string) (publish.Result, error)
}

// Journal records run history.
type Journal interface {
	RunStarted(ctx context.Context, runID string, ev history.RunStarted) error
	StageCompleted(ctx context.Context, runID string, ev history.StageCompleted) error
	RunFinished(ctx context.Context, runID string, ev history.RunFinished) error
}

// Notifier receives the final report.
type Notifier interface {
	Notify(ctx context.Context, v any) error
}

// Components are the collaborators driven by the orchestrator. Journal and
// Notifier are optional.
type Components struct {
	Joiner     Joiner
	Selector   Selector
	Reconciler Reconciler
	Quiescer   Quiescer
	Publisher  Publisher
	Journal    Journal
	Notifier   Notifier
}

// Orchestrator sequences the handoff stages.
type Orchestrator struct {
	cfg      *config.Config
	c        Components
	recorder metrics.Recorder
	now      func() time.Time
	newRunID func() string
}

// New returns an Orchestrator.
func New(cfg *config.Config, c Components) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		c:        c,
		recorder: metrics.NoopRecorder{},
		now:      time.Now,
		newRunID: uuid.NewString,
	}
}

// WithRecorder sets the metrics recorder.
func (o *Orchestrator) WithRecorder(r metrics.Recorder) *Orchestrator {
	if r != nil {
		o.recorder = r
	}
	return o
}

// WithClock replaces the time source.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// WithRunIDs replaces the run id generator.
func (o *Orchestrator) WithRunIDs(fn func() string) *Orchestrator {
	o.newRunID = fn
	return o
}

// Run executes the full pipeline.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	return o.Execute(ctx, string(config.OpRun), NewPlanBuilder(o.cfg).Build())
}

// RunDiscovery bootstraps, joins the overlay and reports the predecessor
// without touching it.
func (o *Orchestrator) RunDiscovery(ctx context.Context) (*Report, error) {
	plan := NewPlanBuilder(o.cfg).WithStages(DiscoveryPipeline...).Build()
	return o.Execute(ctx, string(config.OpDiscover), plan)
}

// RunPublish publishes the local working data.
func (o *Orchestrator) RunPublish(ctx context.Context) (*Report, error) {
	plan := NewPlanBuilder(o.cfg).WithStages(PublishPipeline...).ForcePublish().Build()
	return o.Execute(ctx, string(config.OpPublish), plan)
}

// runState is the in-memory state shared by the stages of one run.
type runState struct {
	report        *Report
	candidate     *selector.Candidate
	skipRemaining bool
}

// Execute runs plan. Stages run strictly in order; the first stage error
// aborts the rest and is returned together with the report.
func (o *Orchestrator) Execute(ctx context.Context, command string, plan Plan) (*Report, error) {
	runID := o.newRunID()
	ctx = observability.WithRunID(ctx, runID)
	rep := &Report{
		RunID:    runID,
		Command:  command,
		Hostname: o.cfg.Overlay.Hostname,
		Started:  o.now(),
		Results:  make(map[StageName]StageResult, len(plan.Stages)),
		Order:    plan.Names(),
	}
	st := &runState{report: rep}

	observability.InfoContext(ctx, "Handoff started", slog.String("command", command), slog.Any("stages", rep.Order))
	o.journal(ctx, "run started", func(j Journal) error {
		return j.RunStarted(ctx, runID, history.RunStarted{
			Command:        command,
			Hostname:       rep.Hostname,
			ConfigSnapshot: o.cfg.Snapshot(),
		})
	})

	var runErr error
	for _, stage := range plan.Stages {
		sctx := observability.WithStage(ctx, string(stage.Name))
		switch {
		case !stage.Enabled:
			o.complete(sctx, rep, StageResult{Stage: stage.Name, Status: StatusSkipped, Detail: "disabled"})
			continue
		case st.skipRemaining && needsPredecessor(stage.Name):
			o.complete(sctx, rep, StageResult{Stage: stage.Name, Status: StatusSkipped, Detail: "no predecessor"})
			continue
		}
		if err := ctx.Err(); err != nil {
			o.complete(sctx, rep, StageResult{Stage: stage.Name, Status: StatusCanceled, Error: err.Error()})
			runErr = err
			break
		}

		started := o.now()
		observability.InfoContext(sctx, "Stage started")
		detail, err := o.runStage(sctx, stage.Name, st)
		res := StageResult{Stage: stage.Name, Status: StatusSuccess, Duration: o.now().Sub(started), Detail: detail}
		if err != nil {
			res.Status = StatusFailed
			if ctx.Err() != nil {
				res.Status = StatusCanceled
			}
			res.Error = err.Error()
			observability.ErrorContext(sctx, "Stage failed", logfields.Error(err))
			o.complete(sctx, rep, res)
			runErr = err
			break
		}
		o.complete(sctx, rep, res)

		if stage.Name == StageDiscover && st.candidate != nil {
			ctx = observability.WithPeer(ctx, st.candidate.Name())
		}
	}

	rep.Finished = o.now()
	rep.Err = runErr
	if runErr != nil {
		rep.Error = runErr.Error()
	}
	rep.Outcome = outcomeOf(rep, plan)
	o.recorder.ObserveRunDuration(rep.Duration())
	o.recorder.IncRunOutcome(rep.Outcome)

	o.journal(ctx, "run finished", func(j Journal) error {
		return j.RunFinished(ctx, runID, history.RunFinished{
			Outcome:          string(rep.Outcome),
			Predecessor:      predecessorName(rep),
			TransferredBytes: rep.TransferredBytes(),
			DurationMS:       rep.Duration().Milliseconds(),
			Error:            rep.Error,
		})
	})
	if o.c.Notifier != nil {
		// The run context may already be canceled; delivery has its own timeout.
		if err := o.c.Notifier.Notify(context.WithoutCancel(ctx), rep); err != nil {
			observability.WarnContext(ctx, "Failed to publish run notification", logfields.Error(err))
		}
	}

	attrs := []slog.Attr{
		slog.String("outcome", string(rep.Outcome)),
		logfields.DurationMS(rep.Duration().Milliseconds()),
	}
	if runErr != nil {
		observability.ErrorContext(ctx, "Handoff failed", append(attrs, logfields.Error(runErr))...)
	} else {
		observability.InfoContext(ctx, "Handoff finished", attrs...)
	}
	return rep, runErr
}

func needsPredecessor(name StageName) bool {
	switch name {
	case StageReconcile, StageQuiesce, StagePublish:
		return true
	default:
		return false
	}
}

func outcomeOf(rep *Report, plan Plan) metrics.RunOutcomeLabel {
	switch {
	case rep.Err != nil:
		return metrics.RunOutcomeFailed
	case rep.Predecessor != nil && plan.Enabled(StageReconcile):
		return metrics.RunOutcomeHandedOff
	case rep.Predecessor != nil:
		return metrics.RunOutcomeCompleted
	case plan.Enabled(StageDiscover):
		return metrics.RunOutcomeNoPredecessor
	default:
		return metrics.RunOutcomeCompleted
	}
}

func predecessorName(rep *Report) string {
	if rep.Predecessor == nil {
		return ""
	}
	return rep.Predecessor.Name
}

// complete stores a stage result and forwards it to metrics and history.
func (o *Orchestrator) complete(ctx context.Context, rep *Report, res StageResult) {
	rep.Results[res.Stage] = res
	if res.Status != StatusSkipped {
		o.recorder.ObserveStageDuration(string(res.Stage), res.Duration)
	} else {
		observability.InfoContext(ctx, "Stage skipped", slog.String("reason", res.Detail))
	}
	o.recorder.IncStageResult(string(res.Stage), res.Status.label())
	if res.Status == StatusSuccess {
		observability.InfoContext(ctx, "Stage completed",
			logfields.DurationMS(res.Duration.Milliseconds()),
			slog.String("detail", res.Detail))
	}
	o.journal(ctx, "stage completed", func(j Journal) error {
		return j.StageCompleted(ctx, rep.RunID, history.StageCompleted{
			Stage:      string(res.Stage),
			Result:     string(res.Status),
			DurationMS: res.Duration.Milliseconds(),
			Detail:     res.Detail,
			Error:      res.Error,
		})
	})
}

// journal writes a history event. History is diagnostic; failures are logged.
func (o *Orchestrator) journal(ctx context.Context, what string, fn func(Journal) error) {
	if o.c.Journal == nil {
		return
	}
	if err := fn(o.c.Journal); err != nil {
		observability.WarnContext(ctx, "Failed to record history", slog.String("event", what), logfields.Error(err))
	}
}

func (o *Orchestrator) runStage(ctx context.Context, name StageName, st *runState) (string, error) {
	switch name {
	case StageBootstrap:
		return o.bootstrap(ctx)
	case StageJoinOverlay:
		return o.joinOverlay(ctx)
	case StageDiscover:
		return o.discover(ctx, st)
	case StageReconcile:
		return o.reconcile(ctx, st)
	case StageQuiesce:
		return o.quiesce(ctx, st)
	case StagePublish:
		return o.publish(ctx, st)
	default:
		return "", errors.InternalError(fmt.Sprintf("unknown stage %q", name)).Build()
	}
}

func (o *Orchestrator) bootstrap(ctx context.Context) (string, error) {
	layout := workspace.Layout{WorkDir: o.cfg.WorkDir, DataDir: o.cfg.DataDir, StateDir: o.cfg.StateDir}
	if err := workspace.Bootstrap(layout); err != nil {
		return "", errors.FileSystemError("failed to prepare local directories").
			WithCause(err).
			WithContext("data_dir", o.cfg.DataDir).
			Build()
	}
	if o.cfg.Metadata.Path == "" {
		return "directories ready", nil
	}

	rec := metadata.Capture(metadata.CaptureInput{
		User:        o.cfg.User,
		DataDir:     o.cfg.DataDir,
		WorkDir:     o.cfg.WorkDir,
		Hostname:    o.cfg.Overlay.Hostname,
		Environment: o.cfg.CIEnv,
		Now:         o.now,
	})
	if err := metadata.Write(o.cfg.Metadata.Path, rec); err != nil {
		// A successor can still find the data by probing.
		observability.WarnContext(ctx, "Could not write metadata record", logfields.Path(o.cfg.Metadata.Path), logfields.Error(err))
		return "directories ready, metadata record not written", nil
	}
	return "metadata record written to " + o.cfg.Metadata.Path, nil
}

func (o *Orchestrator) joinOverlay(ctx context.Context) (string, error) {
	if !o.cfg.Overlay.Join {
		if err := o.c.Joiner.Verify(ctx); err != nil {
			return "", err
		}
		return "already connected", nil
	}
	err := o.c.Joiner.Join(ctx, overlay.JoinOptions{
		AuthKey:  o.cfg.Overlay.AuthKey,
		Hostname: o.cfg.Overlay.Hostname,
		Tags:     o.cfg.Overlay.Tags,
		Timeout:  o.cfg.Overlay.JoinTimeout,
	})
	if err != nil {
		return "", err
	}
	return "joined as " + o.cfg.Overlay.Hostname, nil
}

func (o *Orchestrator) discover(ctx context.Context, st *runState) (string, error) {
	cand, err := o.c.Selector.Select(ctx)
	if err != nil {
		return "", err
	}
	if cand == nil {
		st.skipRemaining = true
		observability.InfoContext(ctx, "No predecessor found, nothing to hand off")
		return "no predecessor", nil
	}
	st.candidate = cand
	st.report.Predecessor = &Predecessor{
		Name:            cand.Name(),
		Address:         cand.Address.String(),
		User:            cand.User,
		WorkingDataPath: cand.WorkingDataPath,
		Source:          string(cand.Source),
		Created:         cand.Created,
	}
	return "predecessor " + cand.Name(), nil
}

func (o *Orchestrator) requireCandidate(st *runState) (*selector.Candidate, error) {
	if st.candidate == nil {
		return nil, errors.InternalError("stage requires a predecessor but discovery did not run").Build()
	}
	return st.candidate, nil
}

func (o *Orchestrator) reconcile(ctx context.Context, st *runState) (string, error) {
	cand, err := o.requireCandidate(st)
	if err != nil {
		return "", err
	}
	res, err := o.c.Reconciler.Reconcile(ctx, reconcile.Source{Host: cand.Host(), Path: cand.WorkingDataPath})
	if err != nil {
		return "", err
	}
	st.report.Transfer = &res
	return fmt.Sprintf("%d bytes via %s", res.TransferredBytes, res.Transport), nil
}

func (o *Orchestrator) quiesce(ctx context.Context, st *runState) (string, error) {
	cand, err := o.requireCandidate(st)
	if err != nil {
		return "", err
	}
	res := o.c.Quiescer.Quiesce(ctx, cand.Host(), o.cfg.Quiesce.Services)
	st.report.Quiesce = &res
	return fmt.Sprintf("stopped %d of %d services", len(res.Stopped), len(o.cfg.Quiesce.Services)), nil
}

func (o *Orchestrator) publish(ctx context.Context, st *runState) (string, error) {
	msg := "handoff: run " + st.report.RunID
	if st.candidate != nil {
		msg += " from " + st.candidate.Name()
	}
	res, err := o.c.Publisher.Publish(ctx, msg)
	if err != nil {
		return "", err
	}
	st.report.Publish = &res
	if res.UpToDate {
		return "remote already up to date", nil
	}
	return "pushed " + shortHash(res.Commit) + " to " + res.Branch, nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// IsNoPredecessor reports whether rep finished without a predecessor.
func IsNoPredecessor(rep *Report) bool {
	return rep != nil && rep.Outcome == metrics.RunOutcomeNoPredecessor
}

// Canceled reports whether err stems from context cancellation.
func Canceled(err error) bool {
	return stdErrors.Is(err, context.Canceled) || stdErrors.Is(err, context.DeadlineExceeded)
}
