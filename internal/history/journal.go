package history

import (
	"context"
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/handoff/internal/foundation/errors"
)

// Run statuses reported by a RunSummary.
const (
	StatusRunning = "running"
)

// Store is the event persistence the Journal writes through.
type Store interface {
	Append(ctx context.Context, runID, eventType string, payload []byte, metadata map[string]string) error
	GetByRunID(ctx context.Context, runID string) ([]Event, error)
	RecentRunIDs(ctx context.Context, limit int) ([]string, error)
	Close() error
}

// StageSummary is one completed stage of a run.
type StageSummary struct {
	Stage    string        `json:"stage" yaml:"stage"`
	Result   string        `json:"result" yaml:"result"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Detail   string        `json:"detail,omitempty" yaml:"detail,omitempty"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunSummary is the read model of a run.
type RunSummary struct {
	RunID            string         `json:"run_id" yaml:"run_id"`
	Command          string         `json:"command" yaml:"command"`
	Hostname         string         `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	Status           string         `json:"status" yaml:"status"`
	StartedAt        time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt       *time.Time     `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Duration         time.Duration  `json:"duration,omitempty" yaml:"duration,omitempty"`
	Predecessor      string         `json:"predecessor,omitempty" yaml:"predecessor,omitempty"`
	TransferredBytes int64          `json:"transferred_bytes" yaml:"transferred_bytes"`
	Error            string         `json:"error,omitempty" yaml:"error,omitempty"`
	ConfigSnapshot   string         `json:"config_snapshot,omitempty" yaml:"config_snapshot,omitempty"`
	Stages           []StageSummary `json:"stages" yaml:"stages"`
}

// Journal records typed run events and reads run summaries back.
type Journal struct {
	store Store
}

// NewJournal wraps a store.
func NewJournal(store Store) *Journal {
	return &Journal{store: store}
}

// RunStarted records the start of a run.
func (j *Journal) RunStarted(ctx context.Context, runID string, ev RunStarted) error {
	return j.append(ctx, runID, TypeRunStarted, ev)
}

// StageCompleted records the result of one stage.
func (j *Journal) StageCompleted(ctx context.Context, runID string, ev StageCompleted) error {
	return j.append(ctx, runID, TypeStageCompleted, ev)
}

// RunFinished records the end of a run.
func (j *Journal) RunFinished(ctx context.Context, runID string, ev RunFinished) error {
	return j.append(ctx, runID, TypeRunFinished, ev)
}

func (j *Journal) append(ctx context.Context, runID, eventType string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.HistoryError("failed to marshal event payload").
			WithCause(err).
			WithContext("run_id", runID).
			WithContext("type", eventType).
			Build()
	}
	return j.store.Append(ctx, runID, eventType, payload, nil)
}

// Recent returns summaries of the last limit runs, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	ids, err := j.store.RecentRunIDs(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunSummary, 0, len(ids))
	for _, id := range ids {
		events, err := j.store.GetByRunID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, Project(id, events))
	}
	return out, nil
}

// Close closes the underlying store.
func (j *Journal) Close() error {
	return j.store.Close()
}

// Project folds the events of one run into a summary. Payloads that fail to
// decode are skipped.
func Project(runID string, events []Event) RunSummary {
	s := RunSummary{RunID: runID, Status: StatusRunning, Stages: []StageSummary{}}
	for _, e := range events {
		switch e.Type {
		case TypeRunStarted:
			s.StartedAt = e.Timestamp
			var p RunStarted
			if json.Unmarshal(e.Payload, &p) == nil {
				s.Command = p.Command
				s.Hostname = p.Hostname
				s.ConfigSnapshot = p.ConfigSnapshot
			}
		case TypeStageCompleted:
			var p StageCompleted
			if json.Unmarshal(e.Payload, &p) == nil {
				s.Stages = append(s.Stages, StageSummary{
					Stage:    p.Stage,
					Result:   p.Result,
					Duration: time.Duration(p.DurationMS) * time.Millisecond,
					Detail:   p.Detail,
					Error:    p.Error,
				})
			}
		case TypeRunFinished:
			finished := e.Timestamp
			s.FinishedAt = &finished
			var p RunFinished
			if json.Unmarshal(e.Payload, &p) == nil {
				s.Status = p.Outcome
				s.Predecessor = p.Predecessor
				s.TransferredBytes = p.TransferredBytes
				s.Error = p.Error
				s.Duration = time.Duration(p.DurationMS) * time.Millisecond
			}
		}
	}
	return s
}
