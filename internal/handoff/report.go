package handoff

import (
	"time"

	"git.home.luguber.info/inful/handoff/internal/metrics"
	"git.home.luguber.info/inful/handoff/internal/publish"
	"git.home.luguber.info/inful/handoff/internal/quiesce"
	"git.home.luguber.info/inful/handoff/internal/reconcile"
)

// StageStatus is the outcome of one stage.
type StageStatus string

const (
	StatusSuccess  StageStatus = "success"
	StatusSkipped  StageStatus = "skipped"
	StatusFailed   StageStatus = "failed"
	StatusCanceled StageStatus = "canceled"
)

func (s StageStatus) label() metrics.ResultLabel {
	switch s {
	case StatusSuccess:
		return metrics.ResultSuccess
	case StatusSkipped:
		return metrics.ResultSkipped
	case StatusCanceled:
		return metrics.ResultCanceled
	default:
		return metrics.ResultFatal
	}
}

// StageResult is written once when a stage completes.
type StageResult struct {
	Stage    StageName     `json:"stage" yaml:"stage"`
	Status   StageStatus   `json:"status" yaml:"status"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Detail   string        `json:"detail,omitempty" yaml:"detail,omitempty"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Predecessor describes the selected peer.
type Predecessor struct {
	Name            string    `json:"name" yaml:"name"`
	Address         string    `json:"address" yaml:"address"`
	User            string    `json:"user" yaml:"user"`
	WorkingDataPath string    `json:"working_data_path" yaml:"working_data_path"`
	Source          string    `json:"source" yaml:"source"`
	Created         time.Time `json:"created" yaml:"created"`
}

// Report aggregates one invocation.
type Report struct {
	RunID       string                    `json:"run_id" yaml:"run_id"`
	Command     string                    `json:"command" yaml:"command"`
	Hostname    string                    `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	Started     time.Time                 `json:"started" yaml:"started"`
	Finished    time.Time                 `json:"finished" yaml:"finished"`
	Outcome     metrics.RunOutcomeLabel   `json:"outcome" yaml:"outcome"`
	Predecessor *Predecessor              `json:"predecessor,omitempty" yaml:"predecessor,omitempty"`
	Transfer    *reconcile.Result         `json:"transfer,omitempty" yaml:"transfer,omitempty"`
	Quiesce     *quiesce.Result           `json:"quiesce,omitempty" yaml:"quiesce,omitempty"`
	Publish     *publish.Result           `json:"publish,omitempty" yaml:"publish,omitempty"`
	Results     map[StageName]StageResult `json:"results" yaml:"results"`
	Order       []StageName               `json:"order" yaml:"order"`
	Error       string                    `json:"error,omitempty" yaml:"error,omitempty"`
	Err         error                     `json:"-" yaml:"-"`
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// TransferredBytes is the reconciled byte count, zero when nothing was pulled.
func (r *Report) TransferredBytes() int64 {
	if r.Transfer == nil {
		return 0
	}
	return r.Transfer.TransferredBytes
}

// Result returns the result of a stage and whether it ran or was skipped.
func (r *Report) Result(name StageName) (StageResult, bool) {
	res, ok := r.Results[name]
	return res, ok
}
