package handoff

import (
	"path/filepath"

	"git.home.luguber.info/inful/handoff/internal/config"
	"git.home.luguber.info/inful/handoff/internal/metrics"
	"git.home.luguber.info/inful/handoff/internal/notify"
	"git.home.luguber.info/inful/handoff/internal/overlay"
	"git.home.luguber.info/inful/handoff/internal/process"
	"git.home.luguber.info/inful/handoff/internal/publish"
	"git.home.luguber.info/inful/handoff/internal/quiesce"
	"git.home.luguber.info/inful/handoff/internal/reconcile"
	"git.home.luguber.info/inful/handoff/internal/remote"
	"git.home.luguber.info/inful/handoff/internal/retry"
	"git.home.luguber.info/inful/handoff/internal/selector"
)

// SSHOptions derives the remote shell options from cfg.
func SSHOptions(cfg *config.Config) remote.SSHOptions {
	opts := remote.DefaultSSHOptions()
	opts.Binary = cfg.SSH.Binary
	if cfg.SSH.ConnectTimeout > 0 {
		opts.ConnectTimeout = cfg.SSH.ConnectTimeout
	}
	return opts
}

// PublishPolicy is the fixed-backoff retry policy for pushes.
func PublishPolicy(cfg *config.Config) retry.Policy {
	return retry.NewPolicy(retry.BackoffFixed, cfg.Publish.Backoff, cfg.Publish.Backoff, cfg.Publish.Retries)
}

// NewComponents wires the production collaborators. Every external program
// runs through runner. The journal is left to the caller, who owns its lifetime.
func NewComponents(cfg *config.Config, runner process.Runner, rec metrics.Recorder) Components {
	sshOpts := SSHOptions(cfg)
	exec := remote.NewExecutor(runner, sshOpts, cfg.SSH.CommandTimeout)
	dir := overlay.NewTailscaleDirectory(runner, cfg.Overlay.Binary)

	return Components{
		Joiner: overlay.NewJoiner(runner, cfg.Overlay.Binary),
		Selector: selector.New(dir, exec, selector.Options{
			Tags:         cfg.Overlay.Tags,
			Users:        cfg.SSH.Users,
			MetadataPath: cfg.Metadata.Path,
			SearchRoots:  cfg.Discovery.SearchRoots,
			DataDirName:  filepath.Base(cfg.DataDir),
			Concurrency:  cfg.Discovery.Concurrency,
		}).WithRecorder(rec),
		Reconciler: reconcile.New(runner, exec, reconcile.Options{
			LocalDir:       cfg.DataDir,
			RsyncBinary:    cfg.Transfer.RsyncBinary,
			SCPBinary:      cfg.Transfer.SCPBinary,
			SSH:            sshOpts,
			AttemptTimeout: cfg.Transfer.AttemptTimeout,
		}).WithRecorder(rec),
		Quiescer: quiesce.New(exec, quiesce.Options{
			DispatchWait: cfg.Quiesce.DispatchWait,
			ForceTimeout: cfg.Quiesce.Timeout,
		}).WithRecorder(rec),
		Publisher: publish.New(publish.Options{
			Dir:         cfg.DataDir,
			RemoteURL:   cfg.Publish.Remote,
			Branch:      cfg.Publish.Branch,
			Token:       cfg.Publish.Token,
			AuthorName:  cfg.Publish.AuthorName,
			AuthorEmail: cfg.Publish.AuthorEmail,
			Policy:      PublishPolicy(cfg),
			Timeout:     cfg.Publish.Timeout,
		}).WithRecorder(rec),
		Notifier: notify.New(notify.Options{
			URL:     cfg.Notify.NATSURL,
			Subject: cfg.Notify.Subject,
			Timeout: cfg.Notify.Timeout,
		}),
	}
}
