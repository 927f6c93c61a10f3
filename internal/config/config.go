// Package config assembles the single handoff configuration object.
//
// Sources are layered, lowest precedence first: built-in defaults, an optional
// YAML file, .env files, the process environment snapshot and CLI overrides.
// Components receive the resulting *Config and never read the environment.
package config

import (
	"path/filepath"
	"time"
)

// Default values.
const (
	DefaultPublishBranch   = "handoff"
	DefaultMetadataPath    = "/var/lib/handoff/metadata.json"
	DefaultNATSSubject     = "handoff.reports"
	DefaultStateDirName    = ".handoff"
	DefaultDataDirName     = "data"
	DefaultHistoryFileName = "history.db"
)

// Config is the fully resolved configuration of one handoff invocation.
type Config struct {
	WorkDir  string `yaml:"workdir"`
	DataDir  string `yaml:"data_dir"`
	StateDir string `yaml:"state_dir"`

	Overlay   OverlayConfig   `yaml:"overlay"`
	SSH       SSHConfig       `yaml:"ssh"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Transfer  TransferConfig  `yaml:"transfer"`
	Quiesce   QuiesceConfig   `yaml:"quiesce"`
	Publish   PublishConfig   `yaml:"publish"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	History   HistoryConfig   `yaml:"history"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Notify    NotifyConfig    `yaml:"notify"`

	// CIEnv is the CI provider fingerprint captured from the environment snapshot.
	CIEnv map[string]string `yaml:"-"`
	// User is the account running the invocation.
	User string `yaml:"-"`
}

// OverlayConfig controls participation in the overlay network.
type OverlayConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Join     bool     `yaml:"join"`
	AuthKey  string   `yaml:"authkey"`
	Hostname string   `yaml:"hostname"`
	Tags     []string `yaml:"tags"`
	Binary   string   `yaml:"binary"`
	// JoinTimeout bounds `tailscale up`.
	JoinTimeout time.Duration `yaml:"join_timeout"`
}

// SSHConfig configures the remote shell channel.
type SSHConfig struct {
	Binary         string        `yaml:"binary"`
	Users          []string      `yaml:"users"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// DiscoveryConfig bounds predecessor selection.
type DiscoveryConfig struct {
	Concurrency int `yaml:"concurrency"`
	// SearchRoots are the conventional work directories searched when a peer
	// carries no metadata record, in order.
	SearchRoots []string `yaml:"search_roots"`
}

// TransferConfig configures the data reconciler transports.
type TransferConfig struct {
	RsyncBinary    string        `yaml:"rsync_binary"`
	SCPBinary      string        `yaml:"scp_binary"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// QuiesceConfig lists predecessor services to stop.
type QuiesceConfig struct {
	Services     []string      `yaml:"services"`
	DispatchWait time.Duration `yaml:"dispatch_wait"`
	Timeout      time.Duration `yaml:"timeout"`
}

// PublishConfig configures pushing the recovered data to a git remote.
type PublishConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Branch      string        `yaml:"branch"`
	Remote      string        `yaml:"remote"`
	Token       string        `yaml:"token"`
	AuthorName  string        `yaml:"author_name"`
	AuthorEmail string        `yaml:"author_email"`
	Retries     int           `yaml:"retries"`
	Backoff     time.Duration `yaml:"backoff"`
	Timeout     time.Duration `yaml:"timeout"`
}

// MetadataConfig locates the local metadata record.
type MetadataConfig struct {
	Path string `yaml:"path"`
}

// HistoryConfig locates the run history database.
type HistoryConfig struct {
	DBPath string `yaml:"db_path"`
}

// MetricsConfig configures the Prometheus textfile output.
type MetricsConfig struct {
	File string `yaml:"file"`
}

// NotifyConfig configures completion notifications.
type NotifyConfig struct {
	NATSURL string        `yaml:"nats_url"`
	Subject string        `yaml:"subject"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultSearchRoots are the conventional runner work directories, most common first.
var DefaultSearchRoots = []string{
	"/home/runner/work",
	"/opt/actions-runner/_work",
	"/actions-runner/_work",
	"/runner/_work",
	"/home/runner/actions-runner/_work",
}

// Defaults returns the built-in configuration. Path fields depending on the
// work directory are left empty and derived after all layers are applied.
func Defaults() *Config {
	return &Config{
		Overlay: OverlayConfig{
			Enabled:     true,
			Join:        true,
			Binary:      "tailscale",
			JoinTimeout: 2 * time.Minute,
		},
		SSH: SSHConfig{
			Binary:         "ssh",
			Users:          []string{"runner", "root"},
			ConnectTimeout: 10 * time.Second,
			CommandTimeout: 30 * time.Second,
		},
		Discovery: DiscoveryConfig{
			Concurrency: 4,
			SearchRoots: append([]string(nil), DefaultSearchRoots...),
		},
		Transfer: TransferConfig{
			RsyncBinary:    "rsync",
			SCPBinary:      "scp",
			AttemptTimeout: 30 * time.Minute,
		},
		Quiesce: QuiesceConfig{
			DispatchWait: 5 * time.Second,
			Timeout:      time.Minute,
		},
		Publish: PublishConfig{
			Branch:      DefaultPublishBranch,
			AuthorName:  "handoff",
			AuthorEmail: "handoff@localhost",
			Retries:     3,
			Backoff:     5 * time.Second,
			Timeout:     2 * time.Minute,
		},
		Metadata: MetadataConfig{Path: DefaultMetadataPath},
		Notify: NotifyConfig{
			Subject: DefaultNATSSubject,
			Timeout: 5 * time.Second,
		},
	}
}

// deriveDefaults fills the fields whose defaults depend on other fields.
func (c *Config) deriveDefaults() error {
	if c.WorkDir == "" {
		c.WorkDir = "."
	}
	abs, err := filepath.Abs(c.WorkDir)
	if err != nil {
		return err
	}
	c.WorkDir = abs
	if c.DataDir == "" {
		c.DataDir = filepath.Join(c.WorkDir, DefaultDataDirName)
	} else if !filepath.IsAbs(c.DataDir) {
		c.DataDir = filepath.Join(c.WorkDir, c.DataDir)
	}
	if c.StateDir == "" {
		c.StateDir = filepath.Join(c.WorkDir, DefaultStateDirName)
	}
	if c.History.DBPath == "" {
		c.History.DBPath = filepath.Join(c.StateDir, DefaultHistoryFileName)
	}
	if c.Publish.Branch == "" {
		c.Publish.Branch = DefaultPublishBranch
	}
	if c.Notify.Subject == "" {
		c.Notify.Subject = DefaultNATSSubject
	}
	return nil
}
