// Package history persists handoff run events in SQLite and projects them
// into run summaries for the status command.
package history

import "time"

// Event types.
const (
	TypeRunStarted     = "RunStarted"
	TypeStageCompleted = "StageCompleted"
	TypeRunFinished    = "RunFinished"
)

// Event is one stored row.
type Event struct {
	ID        int64
	RunID     string
	Type      string
	Timestamp time.Time
	Payload   []byte
	Metadata  map[string]string
}

// RunStarted is the payload of TypeRunStarted.
type RunStarted struct {
	Command        string `json:"command"`
	Hostname       string `json:"hostname,omitempty"`
	ConfigSnapshot string `json:"config_snapshot,omitempty"`
}

// StageCompleted is the payload of TypeStageCompleted.
type StageCompleted struct {
	Stage      string `json:"stage"`
	Result     string `json:"result"`
	DurationMS int64  `json:"duration_ms"`
	Detail     string `json:"detail,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RunFinished is the payload of TypeRunFinished.
type RunFinished struct {
	Outcome          string `json:"outcome"`
	Predecessor      string `json:"predecessor,omitempty"`
	TransferredBytes int64  `json:"transferred_bytes"`
	DurationMS       int64  `json:"duration_ms"`
	Error            string `json:"error,omitempty"`
}
