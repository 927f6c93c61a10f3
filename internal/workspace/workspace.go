package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/handoff/internal/logfields"
)

// Manager handles workspace operations (both temporary and persistent).
type Manager struct {
	baseDir    string
	dir        string
	persistent bool // If true, use baseDir/subdir directly without timestamps
}

// NewManager creates a new workspace manager with ephemeral timestamped directories.
func NewManager(baseDir string) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Manager{baseDir: baseDir}
}

// NewPersistentManager creates a workspace manager that uses a persistent directory.
// The directory is fixed (baseDir/subdirName) and never removed by Cleanup.
// An empty subdirName uses baseDir itself.
func NewPersistentManager(baseDir, subdirName string) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Manager{
		baseDir:    baseDir,
		dir:        filepath.Join(baseDir, subdirName),
		persistent: true,
	}
}

// Create creates the workspace directory.
// For ephemeral mode: creates a unique timestamped directory.
// For persistent mode: ensures the fixed directory exists.
func (m *Manager) Create() error {
	if m.persistent {
		if err := os.MkdirAll(m.dir, 0o750); err != nil {
			return fmt.Errorf("failed to create persistent workspace directory: %w", err)
		}
		slog.Debug("Using persistent workspace", logfields.Path(m.dir))
		return nil
	}

	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return fmt.Errorf("failed to create workspace base directory: %w", err)
	}
	timestamp := time.Now().Format("20060102-150405")
	dir, err := os.MkdirTemp(m.baseDir, fmt.Sprintf("handoff-%s-", timestamp))
	if err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	m.dir = dir
	slog.Debug("Created workspace", logfields.Path(dir))
	return nil
}

// GetPath returns the path to the workspace directory.
func (m *Manager) GetPath() string {
	return m.dir
}

// Cleanup removes the workspace directory.
// For persistent mode it does nothing.
func (m *Manager) Cleanup() error {
	if m.dir == "" || m.persistent {
		return nil
	}

	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("failed to cleanup workspace: %w", err)
	}

	slog.Debug("Cleaned up workspace", logfields.Path(m.dir))
	m.dir = ""
	return nil
}

// CreateSubdir creates a subdirectory within the workspace.
func (m *Manager) CreateSubdir(name string) (string, error) {
	if m.dir == "" {
		return "", fmt.Errorf("workspace not created")
	}

	subdir := filepath.Join(m.dir, name)
	if err := os.MkdirAll(subdir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create subdirectory: %w", err)
	}

	return subdir, nil
}

// Layout is the set of local directories a handoff run relies on.
type Layout struct {
	WorkDir  string
	DataDir  string
	StateDir string
}

// Bootstrap ensures every directory of the layout exists. The data directory may
// live outside the work directory.
func Bootstrap(l Layout) error {
	for _, dir := range []string{l.WorkDir, l.DataDir, l.StateDir} {
		if dir == "" {
			continue
		}
		if err := NewPersistentManager(dir, "").Create(); err != nil {
			return err
		}
	}
	return nil
}
