package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/handoff/internal/foundation/errors"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore stores events in a single SQLite table.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// Open opens (creating when needed) the database at path.
func Open(path string) (*SQLiteStore, error) {
	if path != MemoryPath {
		// #nosec G301 -- state directory
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.HistoryError("could not create history directory").
				WithCause(err).
				WithContext("path", path).
				Build()
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.HistoryError("could not open history database").
			WithCause(err).
			WithContext("path", path).
			Build()
	}
	// One connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, errors.HistoryError("failed to initialize history schema").
			WithCause(err).
			WithContext("path", path).
			Build()
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		payload BLOB NOT NULL,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_run_id ON events(run_id);
	CREATE INDEX IF NOT EXISTS idx_event_type ON events(event_type);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append stores one event.
func (s *SQLiteStore) Append(ctx context.Context, runID, eventType string, payload []byte, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var metadataJSON []byte
	if metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return errors.HistoryError("failed to marshal event metadata").WithCause(err).Build()
		}
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO events (run_id, event_type, timestamp, payload, metadata) VALUES (?, ?, ?, ?, ?)",
		runID, eventType, s.now().UnixMilli(), payload, metadataJSON,
	)
	if err != nil {
		return errors.HistoryError("failed to append event").
			WithCause(err).
			WithContext("run_id", runID).
			WithContext("type", eventType).
			Build()
	}
	return nil
}

// GetByRunID returns the events of one run in insertion order.
func (s *SQLiteStore) GetByRunID(ctx context.Context, runID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, run_id, event_type, timestamp, payload, metadata FROM events WHERE run_id = ? ORDER BY id",
		runID,
	)
	if err != nil {
		return nil, errors.HistoryError("failed to query events").WithCause(err).Build()
	}
	defer rows.Close()

	return scanEvents(rows)
}

// RecentRunIDs returns the ids of the last limit started runs, newest first.
func (s *SQLiteStore) RecentRunIDs(ctx context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id FROM events WHERE event_type = ? ORDER BY id DESC LIMIT ?",
		TypeRunStarted, limit,
	)
	if err != nil {
		return nil, errors.HistoryError("failed to query runs").WithCause(err).Build()
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.HistoryError("failed to scan run id").WithCause(err).Build()
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.HistoryError("failed to iterate runs").WithCause(err).Build()
	}
	return ids, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var ts int64
		var metadataJSON []byte

		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &ts, &e.Payload, &metadataJSON); err != nil {
			return nil, errors.HistoryError("failed to scan event").WithCause(err).Build()
		}
		e.Timestamp = time.UnixMilli(ts)

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, errors.HistoryError("failed to unmarshal event metadata").WithCause(err).Build()
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.HistoryError("failed to iterate events").WithCause(err).Build()
	}
	return events, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
