package metadata

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/handoff/internal/foundation/errors"
)

func TestCaptureWriteRead(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	env := map[string]string{"GITHUB_RUN_ID": "42", "CI": "true"}
	rec := Capture(CaptureInput{
		User:        "runner",
		DataDir:     "/home/runner/work/data",
		WorkDir:     "/home/runner/work",
		Hostname:    "runner-a",
		Environment: env,
		Now:         func() time.Time { return at },
	})
	env["CI"] = "mutated"

	require.Equal(t, SchemaVersion, rec.Version)
	require.Equal(t, "true", rec.Environment["CI"], "capture must copy the environment")
	require.NotEmpty(t, rec.Platform)

	path := filepath.Join(t.TempDir(), "nested", "metadata.json")
	require.NoError(t, Write(path, rec))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	got, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, rec, got)
}

func TestWriteRejectsInvalid(t *testing.T) {
	err := Write(filepath.Join(t.TempDir(), "m.json"), Record{WorkingDataPath: "relative/data"})
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"valid", `{"version":1,"user":"runner","working_data_path":"/srv/data"}`, false},
		{"legacy without version", `{"user":"runner","working_data_path":"/srv/data"}`, false},
		{"empty path", `{"version":1,"user":"runner"}`, true},
		{"future version", `{"version":9,"working_data_path":"/srv/data"}`, true},
		{"not json", `nope`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestReadMissing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryFileSystem))
}
