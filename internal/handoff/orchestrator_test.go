package handoff

import (
	"context"
	stdErrors "errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/handoff/internal/config"
	"git.home.luguber.info/inful/handoff/internal/foundation/errors"
	"git.home.luguber.info/inful/handoff/internal/history"
	"git.home.luguber.info/inful/handoff/internal/metadata"
	"git.home.luguber.info/inful/handoff/internal/metrics"
	"git.home.luguber.info/inful/handoff/internal/overlay"
	"git.home.luguber.info/inful/handoff/internal/publish"
	"git.home.luguber.info/inful/handoff/internal/quiesce"
	"git.home.luguber.info/inful/handoff/internal/reconcile"
	"git.home.luguber.info/inful/handoff/internal/remote"
	"git.home.luguber.info/inful/handoff/internal/selector"
)

type fakeJoiner struct {
	calls     int
	opts      overlay.JoinOptions
	err       error
	verifies  int
	verifyErr error
}

func (f *fakeJoiner) Join(_ context.Context, opts overlay.JoinOptions) error {
	f.calls++
	f.opts = opts
	return f.err
}

func (f *fakeJoiner) Verify(context.Context) error {
	f.verifies++
	return f.verifyErr
}

type fakeSelector struct {
	calls     int
	candidate *selector.Candidate
	err       error
}

func (f *fakeSelector) Select(context.Context) (*selector.Candidate, error) {
	f.calls++
	return f.candidate, f.err
}

type fakeReconciler struct {
	calls int
	src   reconcile.Source
	res   reconcile.Result
	err   error
}

func (f *fakeReconciler) Reconcile(_ context.Context, src reconcile.Source) (reconcile.Result, error) {
	f.calls++
	f.src = src
	return f.res, f.err
}

type fakeQuiescer struct {
	calls    int
	target   remote.Host
	services []string
}

func (f *fakeQuiescer) Quiesce(_ context.Context, target remote.Host, services []string) quiesce.Result {
	f.calls++
	f.target = target
	f.services = services
	return quiesce.Result{Stopped: append([]string{}, services...)}
}

type fakePublisher struct {
	calls   int
	message string
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, message string) (publish.Result, error) {
	f.calls++
	f.message = message
	if f.err != nil {
		return publish.Result{}, f.err
	}
	return publish.Result{Commit: "0123456789abcdef0123", Branch: "handoff", Changed: true, Attempts: 1}, nil
}

type fakeNotifier struct {
	reports []*Report
	err     error
}

func (f *fakeNotifier) Notify(_ context.Context, v any) error {
	if rep, ok := v.(*Report); ok {
		f.reports = append(f.reports, rep)
	}
	return f.err
}

type countingRecorder struct {
	metrics.NoopRecorder
	stageResults map[string]metrics.ResultLabel
	outcomes     []metrics.RunOutcomeLabel
}

func (c *countingRecorder) IncStageResult(stage string, r metrics.ResultLabel) {
	if c.stageResults == nil {
		c.stageResults = map[string]metrics.ResultLabel{}
	}
	c.stageResults[stage] = r
}

func (c *countingRecorder) IncRunOutcome(o metrics.RunOutcomeLabel) {
	c.outcomes = append(c.outcomes, o)
}

type harness struct {
	cfg        *config.Config
	joiner     *fakeJoiner
	selector   *fakeSelector
	reconciler *fakeReconciler
	quiescer   *fakeQuiescer
	publisher  *fakePublisher
	notifier   *fakeNotifier
	recorder   *countingRecorder
}

var predecessorCreated = time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)

func predecessor() *selector.Candidate {
	return &selector.Candidate{
		PeerRecord: overlay.PeerRecord{
			ID:       "n2",
			Hostname: "ci-runner-2",
			Online:   true,
			Created:  predecessorCreated,
		},
		Address:         netip.MustParseAddr("100.101.1.3"),
		Reachable:       true,
		HasWorkingData:  true,
		WorkingDataPath: "/home/runner/work/data",
		User:            "runner",
		Source:          selector.SourceMetadata,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	cfg := config.Defaults()
	cfg.WorkDir = root
	cfg.DataDir = filepath.Join(root, "data")
	cfg.StateDir = filepath.Join(root, ".handoff")
	cfg.Metadata.Path = filepath.Join(root, "meta", "metadata.json")
	cfg.Overlay.Hostname = "ci-runner-3"
	cfg.Overlay.AuthKey = "tskey-secret"
	cfg.User = "runner"
	cfg.Quiesce.Services = []string{"actions.runner", "buildkitd"}

	return &harness{
		cfg:        cfg,
		joiner:     &fakeJoiner{},
		selector:   &fakeSelector{candidate: predecessor()},
		reconciler: &fakeReconciler{res: reconcile.Result{TransferredBytes: 4096, Transport: reconcile.TransportRsync}},
		quiescer:   &fakeQuiescer{},
		publisher:  &fakePublisher{},
		notifier:   &fakeNotifier{},
		recorder:   &countingRecorder{},
	}
}

func (h *harness) orchestrator(journal Journal) *Orchestrator {
	return New(h.cfg, Components{
		Joiner:     h.joiner,
		Selector:   h.selector,
		Reconciler: h.reconciler,
		Quiescer:   h.quiescer,
		Publisher:  h.publisher,
		Journal:    journal,
		Notifier:   h.notifier,
	}).WithRecorder(h.recorder).WithRunIDs(func() string { return "run-1" })
}

func statuses(rep *Report) map[StageName]StageStatus {
	out := map[StageName]StageStatus{}
	for name, res := range rep.Results {
		out[name] = res.Status
	}
	return out
}

func TestRunWithPublishDisabledReconcilesAndQuiesces(t *testing.T) {
	h := newHarness(t)
	h.cfg.Publish.Enabled = false

	rep, err := h.orchestrator(nil).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, map[StageName]StageStatus{
		StageBootstrap:   StatusSuccess,
		StageJoinOverlay: StatusSuccess,
		StageDiscover:    StatusSuccess,
		StageReconcile:   StatusSuccess,
		StageQuiesce:     StatusSuccess,
		StagePublish:     StatusSkipped,
	}, statuses(rep))
	require.Equal(t, "disabled", rep.Results[StagePublish].Detail)
	require.Zero(t, h.publisher.calls)

	require.Equal(t, 1, h.reconciler.calls)
	require.Equal(t, remote.Host{User: "runner", Addr: "100.101.1.3"}, h.reconciler.src.Host)
	require.Equal(t, "/home/runner/work/data", h.reconciler.src.Path)
	require.Equal(t, 1, h.quiescer.calls)
	require.Equal(t, []string{"actions.runner", "buildkitd"}, h.quiescer.services)

	require.Equal(t, metrics.RunOutcomeHandedOff, rep.Outcome)
	require.Equal(t, int64(4096), rep.TransferredBytes())
	require.NotNil(t, rep.Predecessor)
	require.Equal(t, "ci-runner-2", rep.Predecessor.Name)
	require.Equal(t, predecessorCreated, rep.Predecessor.Created)
	require.Equal(t, FullPipeline, rep.Order)
	require.Equal(t, []metrics.RunOutcomeLabel{metrics.RunOutcomeHandedOff}, h.recorder.outcomes)
	require.Equal(t, metrics.ResultSkipped, h.recorder.stageResults[string(StagePublish)])
}

func TestRunWithoutPredecessorSkipsDependentStages(t *testing.T) {
	h := newHarness(t)
	h.cfg.Publish.Enabled = true
	h.selector.candidate = nil

	rep, err := h.orchestrator(nil).Run(context.Background())
	require.NoError(t, err)

	for _, name := range []StageName{StageReconcile, StageQuiesce, StagePublish} {
		res, ok := rep.Result(name)
		require.True(t, ok, name)
		require.Equal(t, StatusSkipped, res.Status, name)
		require.Equal(t, "no predecessor", res.Detail, name)
	}
	require.Zero(t, h.reconciler.calls)
	require.Zero(t, h.quiescer.calls)
	require.Zero(t, h.publisher.calls)
	require.Nil(t, rep.Predecessor)
	require.Equal(t, metrics.RunOutcomeNoPredecessor, rep.Outcome)
	require.True(t, IsNoPredecessor(rep))
}

func TestRunPublishesAfterHandoff(t *testing.T) {
	h := newHarness(t)
	h.cfg.Publish.Enabled = true

	rep, err := h.orchestrator(nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, rep.Results[StagePublish].Status)
	require.Equal(t, "pushed 0123456789ab to handoff", rep.Results[StagePublish].Detail)
	require.Equal(t, "handoff: run run-1 from ci-runner-2", h.publisher.message)
	require.NotNil(t, rep.Publish)
}

func TestRunAbortsOnReconcileFailure(t *testing.T) {
	h := newHarness(t)
	h.cfg.Publish.Enabled = true
	h.reconciler.err = reconcile.ErrDataSync.WithCause(stdErrors.New("connection closed"))

	rep, err := h.orchestrator(nil).Run(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, reconcile.ErrDataSync)
	require.True(t, errors.HasCategory(err, errors.CategorySync))

	require.Equal(t, StatusFailed, rep.Results[StageReconcile].Status)
	require.Contains(t, rep.Results[StageReconcile].Error, "all transports exhausted")
	_, ran := rep.Result(StageQuiesce)
	require.False(t, ran)
	_, ran = rep.Result(StagePublish)
	require.False(t, ran)
	require.Zero(t, h.quiescer.calls)
	require.Zero(t, h.publisher.calls)
	require.Equal(t, metrics.RunOutcomeFailed, rep.Outcome)
	require.Equal(t, err, rep.Err)
	require.NotEmpty(t, rep.Error)
}

func TestRunAbortsOnJoinFailure(t *testing.T) {
	h := newHarness(t)
	h.joiner.err = errors.NetworkError("failed to join overlay").Build()

	rep, err := h.orchestrator(nil).Run(context.Background())
	require.Error(t, err)
	require.True(t, errors.HasCategory(err, errors.CategoryNetwork))
	require.Equal(t, StatusFailed, rep.Results[StageJoinOverlay].Status)
	require.Zero(t, h.selector.calls)
}

func TestJoinUsesOverlaySettings(t *testing.T) {
	h := newHarness(t)
	h.cfg.Overlay.Tags = []string{"tag:ci"}
	h.cfg.Overlay.JoinTimeout = time.Minute

	_, err := h.orchestrator(nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, overlay.JoinOptions{
		AuthKey:  "tskey-secret",
		Hostname: "ci-runner-3",
		Tags:     []string{"tag:ci"},
		Timeout:  time.Minute,
	}, h.joiner.opts)
}

func TestRunWithoutJoinVerifiesConnection(t *testing.T) {
	h := newHarness(t)
	h.cfg.Overlay.Join = false

	rep, err := h.orchestrator(nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, rep.Results[StageJoinOverlay].Status)
	require.Equal(t, "already connected", rep.Results[StageJoinOverlay].Detail)
	require.Zero(t, h.joiner.calls)
	require.Equal(t, 1, h.joiner.verifies)
	require.Equal(t, 1, h.selector.calls)
}

func TestRunAbortsWhenNotConnected(t *testing.T) {
	h := newHarness(t)
	h.cfg.Overlay.Join = false
	h.joiner.verifyErr = errors.NetworkError("overlay not connected").Build()

	rep, err := h.orchestrator(nil).Run(context.Background())
	require.Error(t, err)
	require.True(t, errors.HasCategory(err, errors.CategoryNetwork))
	require.Equal(t, StatusFailed, rep.Results[StageJoinOverlay].Status)
	require.Zero(t, h.selector.calls)
}

func TestRunWithOverlayDisabledOnlyPublishes(t *testing.T) {
	h := newHarness(t)
	h.cfg.Overlay.Enabled = false
	h.cfg.Publish.Enabled = true

	rep, err := h.orchestrator(nil).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[StageName]StageStatus{
		StageBootstrap:   StatusSuccess,
		StageJoinOverlay: StatusSkipped,
		StageDiscover:    StatusSkipped,
		StageReconcile:   StatusSkipped,
		StageQuiesce:     StatusSkipped,
		StagePublish:     StatusSuccess,
	}, statuses(rep))
	require.Zero(t, h.selector.calls)
	require.Equal(t, "handoff: run run-1", h.publisher.message)
	require.Equal(t, metrics.RunOutcomeCompleted, rep.Outcome)
}

func TestRunDiscoveryStopsAfterSelection(t *testing.T) {
	h := newHarness(t)
	h.cfg.Publish.Enabled = true

	rep, err := h.orchestrator(nil).RunDiscovery(context.Background())
	require.NoError(t, err)
	require.Equal(t, DiscoveryPipeline, rep.Order)
	require.Len(t, rep.Results, 3)
	require.Equal(t, "predecessor ci-runner-2", rep.Results[StageDiscover].Detail)
	require.Zero(t, h.reconciler.calls)
	require.Zero(t, h.quiescer.calls)
	require.Zero(t, h.publisher.calls)
	require.Equal(t, string(config.OpDiscover), rep.Command)
}

func TestRunPublishIgnoresPublishFlag(t *testing.T) {
	h := newHarness(t)
	h.cfg.Publish.Enabled = false

	rep, err := h.orchestrator(nil).RunPublish(context.Background())
	require.NoError(t, err)
	require.Equal(t, PublishPipeline, rep.Order)
	require.Equal(t, StatusSuccess, rep.Results[StagePublish].Status)
	require.Equal(t, 1, h.publisher.calls)
	require.Equal(t, metrics.RunOutcomeCompleted, rep.Outcome)
}

func TestRunPublishFailureIsReported(t *testing.T) {
	h := newHarness(t)
	h.publisher.err = errors.GitError("failed to push working data").Build()

	rep, err := h.orchestrator(nil).RunPublish(context.Background())
	require.Error(t, err)
	require.True(t, errors.HasCategory(err, errors.CategoryGit))
	require.Equal(t, StatusFailed, rep.Results[StagePublish].Status)
	require.Equal(t, metrics.RunOutcomeFailed, rep.Outcome)
}

func TestBootstrapWritesMetadataRecord(t *testing.T) {
	h := newHarness(t)
	h.cfg.CIEnv = map[string]string{"GITHUB_RUN_ID": "42"}

	_, err := h.orchestrator(nil).RunDiscovery(context.Background())
	require.NoError(t, err)

	for _, dir := range []string{h.cfg.DataDir, h.cfg.StateDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
	rec, err := metadata.Read(h.cfg.Metadata.Path)
	require.NoError(t, err)
	require.Equal(t, h.cfg.DataDir, rec.WorkingDataPath)
	require.Equal(t, "runner", rec.User)
	require.Equal(t, "ci-runner-3", rec.Hostname)
	require.Equal(t, "42", rec.Environment["GITHUB_RUN_ID"])
}

func TestBootstrapToleratesUnwritableMetadata(t *testing.T) {
	h := newHarness(t)
	blocker := filepath.Join(h.cfg.WorkDir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	h.cfg.Metadata.Path = filepath.Join(blocker, "metadata.json")

	rep, err := h.orchestrator(nil).RunDiscovery(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, rep.Results[StageBootstrap].Status)
	require.Contains(t, rep.Results[StageBootstrap].Detail, "not written")
}

func TestCanceledContextStopsBeforeFirstStage(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := h.orchestrator(nil).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, Canceled(err))
	require.Equal(t, StatusCanceled, rep.Results[StageBootstrap].Status)
	require.Len(t, rep.Results, 1)
	require.Equal(t, metrics.RunOutcomeFailed, rep.Outcome)
}

func TestNotifierReceivesReportAndFailureIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.NotifyError("broker down").Build()

	rep, err := h.orchestrator(nil).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, h.notifier.reports, 1)
	require.Same(t, rep, h.notifier.reports[0])
}

func TestRunIsRecordedInHistory(t *testing.T) {
	h := newHarness(t)
	store, err := history.Open(history.MemoryPath)
	require.NoError(t, err)
	journal := history.NewJournal(store)
	t.Cleanup(func() { _ = journal.Close() })

	_, err = h.orchestrator(journal).Run(context.Background())
	require.NoError(t, err)

	runs, err := journal.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	require.Equal(t, "run-1", run.RunID)
	require.Equal(t, "run", run.Command)
	require.Equal(t, string(metrics.RunOutcomeHandedOff), run.Status)
	require.Equal(t, "ci-runner-2", run.Predecessor)
	require.Equal(t, int64(4096), run.TransferredBytes)
	require.Equal(t, h.cfg.Snapshot(), run.ConfigSnapshot)
	require.Len(t, run.Stages, len(FullPipeline))
	require.Equal(t, string(StageBootstrap), run.Stages[0].Stage)
	require.Equal(t, string(StatusSkipped), run.Stages[5].Result)
}

func TestCollectStatus(t *testing.T) {
	h := newHarness(t)
	store, err := history.Open(history.MemoryPath)
	require.NoError(t, err)
	journal := history.NewJournal(store)
	t.Cleanup(func() { _ = journal.Close() })

	st, err := CollectStatus(context.Background(), h.cfg, journal, 5)
	require.NoError(t, err)
	require.Nil(t, st.Metadata)
	require.NotEmpty(t, st.MetadataError)
	require.Empty(t, st.Runs)

	_, err = h.orchestrator(journal).RunDiscovery(context.Background())
	require.NoError(t, err)

	st, err = CollectStatus(context.Background(), h.cfg, journal, 5)
	require.NoError(t, err)
	require.NotNil(t, st.Metadata)
	require.Equal(t, h.cfg.DataDir, st.Metadata.WorkingDataPath)
	require.Len(t, st.Runs, 1)
	require.Equal(t, string(metrics.RunOutcomeCompleted), st.Runs[0].Status)
	require.Equal(t, "ci-runner-2", st.Runs[0].Predecessor)
}
