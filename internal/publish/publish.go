// Package publish commits the working-data directory and pushes it to a git
// remote so the next runner (or a human) can recover it without a live peer.
package publish

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	ggitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"git.home.luguber.info/inful/handoff/internal/foundation/errors"
	"git.home.luguber.info/inful/handoff/internal/logfields"
	"git.home.luguber.info/inful/handoff/internal/metrics"
	"git.home.luguber.info/inful/handoff/internal/retry"
)

// RemoteName is the remote the publisher manages inside the data directory.
const RemoteName = "origin"

// DefaultBranchName is the branch used when none is configured.
const DefaultBranchName = "handoff"

// DefaultMessage is used when Publish is called without a commit message.
const DefaultMessage = "handoff: sync working data"

// DefaultTimeout bounds one push attempt when none is configured.
const DefaultTimeout = 2 * time.Minute

// Options configures a Publisher. Timeout bounds each push attempt
// independently of the caller's context.
type Options struct {
	Dir         string
	RemoteURL   string
	Branch      string
	Token       string
	AuthorName  string
	AuthorEmail string
	Policy      retry.Policy
	Timeout     time.Duration
	Now         func() time.Time
}

// Result describes a publish.
type Result struct {
	Commit   string `json:"commit" yaml:"commit"`
	Branch   string `json:"branch" yaml:"branch"`
	Changed  bool   `json:"changed" yaml:"changed"`
	UpToDate bool   `json:"up_to_date" yaml:"up_to_date"`
	Attempts int    `json:"attempts" yaml:"attempts"`
}

// Publisher commits and pushes the working data.
type Publisher struct {
	opts     Options
	recorder metrics.Recorder
}

// New returns a Publisher.
func New(opts Options) *Publisher {
	if opts.Branch == "" {
		opts.Branch = DefaultBranchName
	}
	if opts.AuthorName == "" {
		opts.AuthorName = "handoff"
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = "handoff@localhost"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Publisher{opts: opts, recorder: metrics.NoopRecorder{}}
}

// WithRecorder sets the metrics recorder.
func (p *Publisher) WithRecorder(rec metrics.Recorder) *Publisher {
	if rec != nil {
		p.recorder = rec
	}
	return p
}

// Publish stages every change in the data directory, commits it when the
// tree differs from HEAD and pushes the branch. Push failures are retried
// according to the policy unless they are permanent.
func (p *Publisher) Publish(ctx context.Context, message string) (Result, error) {
	if p.opts.RemoteURL == "" {
		return Result{}, errors.ConfigError("publish remote is not configured").
			WithHint("set HANDOFF_PUBLISH_REMOTE or disable publishing").
			Build()
	}
	if message == "" {
		message = DefaultMessage
	}
	log := slog.With(logfields.Path(p.opts.Dir), logfields.Branch(p.opts.Branch))

	repo, err := p.open()
	if err != nil {
		return Result{}, err
	}
	if err := p.ensureRemote(repo); err != nil {
		return Result{}, err
	}
	if err := p.switchBranch(repo); err != nil {
		return Result{}, err
	}

	res := Result{Branch: p.opts.Branch}
	hash, changed, err := p.commit(repo, message)
	if err != nil {
		return res, err
	}
	res.Commit = hash.String()
	res.Changed = changed
	if changed {
		log.Info("Committed working data", slog.String("commit", res.Commit))
	} else {
		log.Info("Working data unchanged since last commit", slog.String("commit", res.Commit))
	}

	err = p.opts.Policy.Do(ctx, func(attempt int) error {
		res.Attempts = attempt + 1
		return p.push(ctx, repo)
	}, func(err error) bool {
		return !isPermanentPushError(err)
	}, func(attempt int, err error) {
		p.recorder.IncPublishRetry()
		log.Warn("Push failed, retrying", slog.Int("attempt", attempt), logfields.Error(err))
	})
	switch {
	case err == nil:
	case stdErrors.Is(err, git.NoErrAlreadyUpToDate):
		res.UpToDate = true
	default:
		return res, errors.GitError("failed to push working data").
			WithCause(err).
			WithContext("remote", redactURL(p.opts.RemoteURL)).
			WithContext("branch", p.opts.Branch).
			WithContext("attempts", res.Attempts).
			WithHint("check the remote URL and HANDOFF_PUBLISH_TOKEN").
			Build()
	}
	log.Info("Published working data", slog.Bool("up_to_date", res.UpToDate), slog.Int("attempts", res.Attempts))
	return res, nil
}

func (p *Publisher) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(p.opts.Dir)
	if err == nil {
		return repo, nil
	}
	if !stdErrors.Is(err, git.ErrRepositoryNotExists) {
		return nil, errors.GitError("failed to open data repository").
			WithCause(err).
			WithContext("path", p.opts.Dir).
			Build()
	}
	repo, err = git.PlainInitWithOptions(p.opts.Dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(p.opts.Branch)},
	})
	if err != nil {
		return nil, errors.GitError("failed to initialize data repository").
			WithCause(err).
			WithContext("path", p.opts.Dir).
			Build()
	}
	return repo, nil
}

// ensureRemote makes origin point at the configured URL.
func (p *Publisher) ensureRemote(repo *git.Repository) error {
	existing, err := repo.Remote(RemoteName)
	switch {
	case err == nil:
		urls := existing.Config().URLs
		if len(urls) == 1 && urls[0] == p.opts.RemoteURL {
			return nil
		}
		if err := repo.DeleteRemote(RemoteName); err != nil {
			return errors.GitError("failed to replace remote").WithCause(err).Build()
		}
	case !stdErrors.Is(err, git.ErrRemoteNotFound):
		return errors.GitError("failed to read remote").WithCause(err).Build()
	}
	if _, err := repo.CreateRemote(&ggitcfg.RemoteConfig{Name: RemoteName, URLs: []string{p.opts.RemoteURL}}); err != nil {
		return errors.GitError("failed to configure remote").
			WithCause(err).
			WithContext("remote", redactURL(p.opts.RemoteURL)).
			Build()
	}
	return nil
}

// switchBranch points HEAD at the publish branch without touching the work
// tree. A missing branch is created at the current commit.
func (p *Publisher) switchBranch(repo *git.Repository) error {
	branch := plumbing.NewBranchReferenceName(p.opts.Branch)
	head, err := repo.Storer.Reference(plumbing.HEAD)
	if err == nil && head.Type() == plumbing.SymbolicReference && head.Target() == branch {
		return nil
	}
	if current, err := repo.Head(); err == nil {
		if _, err := repo.Reference(branch, false); stdErrors.Is(err, plumbing.ErrReferenceNotFound) {
			if err := repo.Storer.SetReference(plumbing.NewHashReference(branch, current.Hash())); err != nil {
				return errors.GitError("failed to create publish branch").WithCause(err).Build()
			}
		}
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branch)); err != nil {
		return errors.GitError("failed to switch to publish branch").WithCause(err).Build()
	}
	return nil
}

func (p *Publisher) commit(repo *git.Repository, message string) (plumbing.Hash, bool, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, false, errors.GitError("failed to open work tree").WithCause(err).Build()
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return plumbing.ZeroHash, false, errors.GitError("failed to stage working data").WithCause(err).Build()
	}

	head, headErr := repo.Head()
	if headErr == nil {
		status, err := wt.Status()
		if err != nil {
			return plumbing.ZeroHash, false, errors.GitError("failed to read work tree status").WithCause(err).Build()
		}
		if status.IsClean() {
			return head.Hash(), false, nil
		}
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  p.opts.AuthorName,
			Email: p.opts.AuthorEmail,
			When:  p.opts.Now(),
		},
		AllowEmptyCommits: headErr != nil,
	})
	if err != nil {
		return plumbing.ZeroHash, false, errors.GitError("failed to commit working data").WithCause(err).Build()
	}
	return hash, true, nil
}

func (p *Publisher) push(ctx context.Context, repo *git.Repository) error {
	ref := "refs/heads/" + p.opts.Branch
	opts := &git.PushOptions{
		RemoteName: RemoteName,
		RefSpecs:   []ggitcfg.RefSpec{ggitcfg.RefSpec(ref + ":" + ref)},
	}
	if p.opts.Token != "" {
		opts.Auth = &http.BasicAuth{Username: "token", Password: p.opts.Token}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()
	err := repo.PushContext(attemptCtx, opts)
	if err != nil && ctx.Err() == nil && stdErrors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("push timed out after %s: %w", p.opts.Timeout, context.DeadlineExceeded)
	}
	return err
}

// isPermanentPushError reports failures a retry cannot fix.
func isPermanentPushError(err error) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, git.NoErrAlreadyUpToDate) ||
		stdErrors.Is(err, transport.ErrAuthenticationRequired) ||
		stdErrors.Is(err, transport.ErrAuthorizationFailed) ||
		stdErrors.Is(err, transport.ErrRepositoryNotFound) ||
		stdErrors.Is(err, transport.ErrInvalidAuthMethod) ||
		stdErrors.Is(err, git.ErrNonFastForwardUpdate) ||
		stdErrors.Is(err, context.Canceled) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"authentication", "authorization", "permission", "denied",
		"not found", "no such remote", "invalid reference",
		"unsupported protocol", "non-fast-forward",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// redactURL strips userinfo from a remote URL.
func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		if slash := strings.Index(rest, "/"); slash < 0 || at < slash {
			rest = "***@" + rest[at+1:]
		}
	}
	return scheme + "://" + rest
}
