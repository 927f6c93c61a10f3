package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/handoff/internal/foundation/errors"
)

func TestLoadDefaults(t *testing.T) {
	work := t.TempDir()
	cfg, err := Load(Source{Hostname: "runner-7"}, WithWorkDir(work))
	require.NoError(t, err)

	require.Equal(t, work, cfg.WorkDir)
	require.Equal(t, filepath.Join(work, "data"), cfg.DataDir)
	require.Equal(t, filepath.Join(work, ".handoff", "history.db"), cfg.History.DBPath)
	require.True(t, cfg.Overlay.Enabled)
	require.Equal(t, "runner-7", cfg.Overlay.Hostname)
	require.Equal(t, []string{"runner", "root"}, cfg.SSH.Users)
	require.Equal(t, "handoff", cfg.Publish.Branch)
	require.False(t, cfg.Publish.Enabled)
	require.Equal(t, 2*time.Minute, cfg.Publish.Timeout)
	require.Equal(t, DefaultMetadataPath, cfg.Metadata.Path)
	require.Equal(t, DefaultNATSSubject, cfg.Notify.Subject)
	require.Equal(t, DefaultSearchRoots, cfg.Discovery.SearchRoots)
}

func TestLoadEnvironment(t *testing.T) {
	work := t.TempDir()
	cfg, err := Load(Source{Environ: []string{
		EnvOverlay + "=false",
		EnvTags + "=ci, tag:linux ,ci",
		EnvStopServices + "=docker,actions.runner",
		EnvPublish + "=yes",
		EnvPublishRemote + "=https://git.example.com/fleet/state.git",
		EnvSSHUsers + "=ci,admin",
		EnvRsyncBin + "=/opt/bin/rsync",
		EnvDataDir + "=state",
		EnvConnectTimeout + "=3",
		EnvPublishTimeout + "=45s",
		"GITHUB_RUN_ID=42",
		"GITHUB_TOKEN=secret",
		"CI=true",
		"USER=runner",
		"HOME=/home/runner",
	}}, WithWorkDir(work))
	require.NoError(t, err)

	require.False(t, cfg.Overlay.Enabled)
	require.Equal(t, []string{"ci", "tag:linux"}, cfg.Overlay.Tags)
	require.Equal(t, []string{"docker", "actions.runner"}, cfg.Quiesce.Services)
	require.True(t, cfg.Publish.Enabled)
	require.Equal(t, []string{"ci", "admin"}, cfg.SSH.Users)
	require.Equal(t, "/opt/bin/rsync", cfg.Transfer.RsyncBinary)
	require.Equal(t, filepath.Join(work, "state"), cfg.DataDir)
	require.Equal(t, 3*time.Second, cfg.SSH.ConnectTimeout)
	require.Equal(t, 45*time.Second, cfg.Publish.Timeout)
	require.Equal(t, "runner", cfg.User)

	require.Equal(t, "42", cfg.CIEnv["GITHUB_RUN_ID"])
	require.Equal(t, "true", cfg.CIEnv["CI"])
	require.NotContains(t, cfg.CIEnv, "GITHUB_TOKEN")
	require.NotContains(t, cfg.CIEnv, "HOME")
}

func TestLoadRejectsBadFlag(t *testing.T) {
	_, err := Load(Source{Environ: []string{EnvPublish + "=maybe"}}, WithWorkDir(t.TempDir()))
	require.Error(t, err)
	require.True(t, errors.HasCategory(err, errors.CategoryConfig))
}

func TestLayerPrecedence(t *testing.T) {
	work := t.TempDir()
	yamlPath := filepath.Join(work, "handoff.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
publish:
  branch: from-yaml
  remote: git@example.com:fleet/state.git
quiesce:
  services: [docker]
  dispatch_wait: 2s
ssh:
  connect_timeout: 7s
`), 0o600))

	envPath := filepath.Join(work, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte(
		EnvPublishBranch+"=from-dotenv\n"+
			EnvNATSSubject+"=fleet.handoff\n"+
			EnvPublishToken+"=dotenv-token\n"), 0o600))

	cfg, err := Load(Source{
		File:     yamlPath,
		EnvFiles: []string{envPath, filepath.Join(work, ".env.local")},
		Environ:  []string{EnvPublishToken + "=real-token"},
	}, WithWorkDir(work))
	require.NoError(t, err)

	// .env overrides YAML
	require.Equal(t, "from-dotenv", cfg.Publish.Branch)
	// YAML overrides defaults
	require.Equal(t, "git@example.com:fleet/state.git", cfg.Publish.Remote)
	require.Equal(t, []string{"docker"}, cfg.Quiesce.Services)
	require.Equal(t, 2*time.Second, cfg.Quiesce.DispatchWait)
	require.Equal(t, 7*time.Second, cfg.SSH.ConnectTimeout)
	// dotenv-only value applies
	require.Equal(t, "fleet.handoff", cfg.Notify.Subject)
	// real environment is never overridden by .env
	require.Equal(t, "real-token", cfg.Publish.Token)
}

func TestOverrideWinsOverEnvironment(t *testing.T) {
	envWork := t.TempDir()
	flagWork := t.TempDir()
	cfg, err := Load(Source{Environ: []string{EnvWorkDir + "=" + envWork}}, WithWorkDir(flagWork))
	require.NoError(t, err)
	require.Equal(t, flagWork, cfg.WorkDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(Source{File: filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
	require.True(t, errors.HasCategory(err, errors.CategoryConfig))
}

func TestValidateByOperation(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(Source{}, WithWorkDir(t.TempDir()))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		op      Operation
		wantErr bool
	}{
		{"run needs authkey when joining", func(*Config) {}, OpRun, true},
		{"run without overlay join is fine", func(c *Config) { c.Overlay.Join = false }, OpRun, false},
		{"run with authkey", func(c *Config) { c.Overlay.AuthKey = "tskey-1" }, OpRun, false},
		{"status never needs authkey", func(*Config) {}, OpStatus, false},
		{"record never needs authkey", func(*Config) {}, OpRecord, false},
		{"publish requires remote", func(*Config) {}, OpPublish, true},
		{"publish with remote", func(c *Config) { c.Publish.Remote = "https://example.com/x.git" }, OpPublish, false},
		{"run with publish enabled requires remote", func(c *Config) {
			c.Overlay.Join = false
			c.Publish.Enabled = true
		}, OpRun, true},
		{"empty ssh users", func(c *Config) {
			c.Overlay.Join = false
			c.SSH.Users = nil
		}, OpDiscover, true},
		{"bad tag", func(c *Config) {
			c.Overlay.Join = false
			c.Overlay.Tags = []string{"tag:"}
		}, OpDiscover, true},
		{"shell metacharacters in service", func(c *Config) {
			c.Overlay.Join = false
			c.Quiesce.Services = []string{"docker; rm -rf /"}
		}, OpRun, true},
		{"publish without push timeout", func(c *Config) {
			c.Publish.Remote = "https://example.com/x.git"
			c.Publish.Timeout = 0
		}, OpPublish, true},
		{"bad branch", func(c *Config) {
			c.Publish.Remote = "https://example.com/x.git"
			c.Publish.Branch = "a b"
		}, OpPublish, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate(tt.op)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.True(t, errors.HasCategory(err, errors.CategoryValidation))
		})
	}
}

func TestSnapshotStable(t *testing.T) {
	a := Defaults()
	a.Overlay.Tags = []string{"ci", "linux"}
	b := Defaults()
	b.Overlay.Tags = []string{"linux", "ci"}
	require.Equal(t, a.Snapshot(), b.Snapshot())

	b.Publish.Token = "changes nothing"
	require.Equal(t, a.Snapshot(), b.Snapshot())

	b.SSH.Users = []string{"root", "runner"}
	require.NotEqual(t, a.Snapshot(), b.Snapshot())
}
