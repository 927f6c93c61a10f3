// Package metadata reads and writes the record a runner publishes about itself
// so its successor can find its working data without guessing paths.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"git.home.luguber.info/inful/handoff/internal/foundation/errors"
)

// SchemaVersion is written into every record.
const SchemaVersion = 1

// Record describes where a runner keeps its working data.
type Record struct {
	Version         int               `json:"version" yaml:"version"`
	User            string            `json:"user" yaml:"user"`
	WorkingDataPath string            `json:"working_data_path" yaml:"working_data_path"`
	HostWorkDir     string            `json:"host_work_dir" yaml:"host_work_dir"`
	Platform        string            `json:"platform" yaml:"platform"`
	Hostname        string            `json:"hostname" yaml:"hostname"`
	CapturedAt      time.Time         `json:"captured_at" yaml:"captured_at"`
	Environment     map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
}

// CaptureInput is the local state a record is built from.
type CaptureInput struct {
	User        string
	DataDir     string
	WorkDir     string
	Hostname    string
	Environment map[string]string
	Now         func() time.Time
}

// Capture builds a record for the local node.
func Capture(in CaptureInput) Record {
	now := time.Now
	if in.Now != nil {
		now = in.Now
	}
	env := make(map[string]string, len(in.Environment))
	for k, v := range in.Environment {
		env[k] = v
	}
	return Record{
		Version:         SchemaVersion,
		User:            in.User,
		WorkingDataPath: in.DataDir,
		HostWorkDir:     in.WorkDir,
		Platform:        runtime.GOOS + "/" + runtime.GOARCH,
		Hostname:        in.Hostname,
		CapturedAt:      now().UTC(),
		Environment:     env,
	}
}

// Validate checks the fields a successor relies on.
func (r Record) Validate() error {
	if strings.TrimSpace(r.WorkingDataPath) == "" {
		return fmt.Errorf("working_data_path is empty")
	}
	if !strings.HasPrefix(r.WorkingDataPath, "/") {
		return fmt.Errorf("working_data_path %q is not absolute", r.WorkingDataPath)
	}
	if r.Version > SchemaVersion {
		return fmt.Errorf("unsupported record version %d", r.Version)
	}
	return nil
}

// Parse decodes and validates a record.
func Parse(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("decode metadata record: %w", err)
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Read loads the record at path.
func Read(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, errors.FileSystemError("failed to read metadata record").
			WithCause(err).
			WithContext("path", path).
			Build()
	}
	r, err := Parse(data)
	if err != nil {
		return Record{}, errors.ValidationError("invalid metadata record").
			WithCause(err).
			WithContext("path", path).
			Build()
	}
	return r, nil
}

// Write stores the record at path atomically. The file is world readable:
// successors read it over ssh as an unprivileged account.
func Write(path string, r Record) error {
	if err := r.Validate(); err != nil {
		return errors.ValidationError("refusing to write invalid metadata record").WithCause(err).Build()
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.InternalError("failed to encode metadata record").WithCause(err).Build()
	}
	dir := filepath.Dir(path)
	fsErr := func(msg string, cause error) error {
		return errors.FileSystemError(msg).
			WithCause(cause).
			WithContext("path", path).
			WithHint("run the record step with write access to " + dir + " or set HANDOFF_METADATA_PATH").
			Build()
	}
	// #nosec G301 -- successors must be able to traverse the directory
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fsErr("failed to create metadata directory", err)
	}
	tmp, err := os.CreateTemp(dir, ".metadata-*.json")
	if err != nil {
		return fsErr("failed to create metadata record", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fsErr("failed to write metadata record", err)
	}
	if err := tmp.Close(); err != nil {
		return fsErr("failed to write metadata record", err)
	}
	// #nosec G302 -- record holds no secrets and must be readable remotely
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fsErr("failed to set metadata record permissions", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fsErr("failed to install metadata record", err)
	}
	return nil
}
