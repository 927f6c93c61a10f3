package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultSkipped  ResultLabel = "skipped"
	ResultFatal    ResultLabel = "fatal"
	ResultCanceled ResultLabel = "canceled"
)

// RunOutcomeLabel enumerates final run outcomes.
type RunOutcomeLabel string

const (
	RunOutcomeHandedOff     RunOutcomeLabel = "handed_off"
	RunOutcomeNoPredecessor RunOutcomeLabel = "no_predecessor"
	RunOutcomeCompleted     RunOutcomeLabel = "completed"
	RunOutcomeFailed        RunOutcomeLabel = "failed"
)

// Recorder defines observability hooks for run and stage metrics. Implementations
// may forward to Prometheus or anything else. NoopRecorder is the default.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveRunDuration(d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	IncRunOutcome(outcome RunOutcomeLabel)
	AddTransferredBytes(transport string, n int64)
	IncTransferAttempt(transport string, success bool)
	SetCandidatePeers(n int)
	IncServiceStop(method string)
	IncPublishRetry()
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) ObserveRunDuration(time.Duration)           {}
func (NoopRecorder) IncStageResult(string, ResultLabel)         {}
func (NoopRecorder) IncRunOutcome(RunOutcomeLabel)              {}
func (NoopRecorder) AddTransferredBytes(string, int64)          {}
func (NoopRecorder) IncTransferAttempt(string, bool)            {}
func (NoopRecorder) SetCandidatePeers(int)                      {}
func (NoopRecorder) IncServiceStop(string)                      {}
func (NoopRecorder) IncPublishRetry()                           {}
