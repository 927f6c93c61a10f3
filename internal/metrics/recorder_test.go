package metrics

import (
	"time"
)

// recorder used to check that a type satisfying the interface can count calls.
type testRecorder struct {
	NoopRecorder
	stageDurations map[string]int
	stageResults   map[string]map[ResultLabel]int
	outcomes       map[RunOutcomeLabel]int
}

func newTestRecorder() *testRecorder {
	return &testRecorder{
		stageDurations: map[string]int{},
		stageResults:   map[string]map[ResultLabel]int{},
		outcomes:       map[RunOutcomeLabel]int{},
	}
}

func (t *testRecorder) ObserveStageDuration(stage string, _ time.Duration) {
	t.stageDurations[stage]++
}

func (t *testRecorder) IncStageResult(stage string, result ResultLabel) {
	m, ok := t.stageResults[stage]
	if !ok {
		m = map[ResultLabel]int{}
		t.stageResults[stage] = m
	}
	m[result]++
}

func (t *testRecorder) IncRunOutcome(outcome RunOutcomeLabel) { t.outcomes[outcome]++ }

var (
	_ Recorder = NoopRecorder{}
	_ Recorder = (*PrometheusRecorder)(nil)
	_ Recorder = (*testRecorder)(nil)
)
