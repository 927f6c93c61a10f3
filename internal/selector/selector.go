package selector

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/handoff/internal/logfields"
	"git.home.luguber.info/inful/handoff/internal/metadata"
	"git.home.luguber.info/inful/handoff/internal/metrics"
	"git.home.luguber.info/inful/handoff/internal/overlay"
	"git.home.luguber.info/inful/handoff/internal/remote"
)

// RemoteShell is the subset of remote.Executor the selector needs.
type RemoteShell interface {
	Capture(ctx context.Context, host remote.Host, command string) *string
	Reachable(ctx context.Context, host remote.Host) bool
}

// DataSource tells how a candidate's working data was located.
type DataSource string

const (
	SourceMetadata DataSource = "metadata"
	SourceSearch   DataSource = "search"
)

// Candidate is a peer under evaluation.
type Candidate struct {
	overlay.PeerRecord

	Address         netip.Addr
	Reachable       bool
	HasWorkingData  bool
	Metadata        *metadata.Record
	WorkingDataPath string
	User            string
	Source          DataSource
}

// Host returns the remote account holding the candidate's data.
func (c *Candidate) Host() remote.Host {
	return remote.NewHost(c.User, c.Address)
}

// Options configures selection.
type Options struct {
	Tags         []string
	Users        []string
	MetadataPath string
	SearchRoots  []string
	// DataDirName is the directory name searched for beneath a work directory.
	DataDirName string
	Concurrency int
	Strategies  []ReadStrategy
}

// Selector runs predecessor discovery.
type Selector struct {
	dir        overlay.Directory
	shell      RemoteShell
	opts       Options
	localAddrs func() []netip.Addr
	recorder   metrics.Recorder
}

// New returns a Selector. Empty Strategies default to DefaultStrategies(opts.Users).
func New(dir overlay.Directory, shell RemoteShell, opts Options) *Selector {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if len(opts.Strategies) == 0 {
		opts.Strategies = DefaultStrategies(opts.Users)
	}
	return &Selector{
		dir:        dir,
		shell:      shell,
		opts:       opts,
		localAddrs: overlay.LocalAddresses,
		recorder:   metrics.NoopRecorder{},
	}
}

// WithRecorder sets the metrics recorder.
func (s *Selector) WithRecorder(r metrics.Recorder) *Selector {
	if r != nil {
		s.recorder = r
	}
	return s
}

// WithLocalAddresses replaces the source of local interface addresses.
func (s *Selector) WithLocalAddresses(fn func() []netip.Addr) *Selector {
	s.localAddrs = fn
	return s
}

// Select returns the predecessor or nil. Directory and peer failures are
// logged and absorbed; the only error is cancellation of ctx.
func (s *Selector) Select(ctx context.Context) (*Candidate, error) {
	peers, err := s.dir.ListPeers(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("Peer directory unavailable, assuming no predecessor", logfields.Error(err))
		return nil, nil
	}

	self, err := s.dir.SelfAddresses(ctx)
	if err != nil {
		slog.Debug("Could not read own overlay addresses, using interface addresses only", logfields.Error(err))
	}
	if s.localAddrs != nil {
		self = append(self, s.localAddrs()...)
	}

	candidates := s.filter(peers, self)
	s.recorder.SetCandidatePeers(len(candidates))
	slog.Info("Evaluating peers", slog.Int("peers", len(peers)), slog.Int("candidates", len(candidates)))
	if len(candidates) == 0 {
		return nil, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, c := range candidates {
		g.Go(func() error {
			s.evaluate(gctx, c)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	best := pickLatest(candidates)
	if best == nil {
		slog.Info("No peer holds working data, no predecessor")
		return nil, nil
	}
	slog.Info("Selected predecessor",
		logfields.Peer(best.Name()),
		logfields.Host(best.Host().String()),
		logfields.Path(best.WorkingDataPath),
		slog.String("source", string(best.Source)),
		slog.Time("created", best.Created))
	return best, nil
}

// filter drops self, tag mismatches, offline peers and peers without an address.
func (s *Selector) filter(peers []overlay.PeerRecord, self []netip.Addr) []*Candidate {
	others := overlay.ExcludeSelf(peers, self)
	if n := len(peers) - len(others); n > 0 {
		slog.Debug("Skipping self", slog.Int("records", n))
	}
	wanted := overlay.NewTagSet(s.opts.Tags...)
	out := make([]*Candidate, 0, len(others))
	for _, p := range others {
		switch {
		case !p.Online:
			slog.Debug("Skipping offline peer", logfields.Peer(p.Name()))
			continue
		case !MatchesTags(p.Tags, wanted):
			slog.Debug("Skipping peer with non-matching tags", logfields.Peer(p.Name()), slog.Any("tags", p.Tags.Sorted()))
			continue
		}
		addr, ok := p.PrimaryAddress()
		if !ok {
			continue
		}
		out = append(out, &Candidate{PeerRecord: p, Address: addr})
	}
	return out
}

// MatchesTags reports whether peer carries at least one wanted tag. An empty
// filter matches every peer.
func MatchesTags(peer, wanted overlay.TagSet) bool {
	if len(wanted) == 0 {
		return true
	}
	for t := range wanted {
		if peer.Has(t) {
			return true
		}
	}
	return false
}

// evaluate fills reachability and data presence for c. Failures only
// downgrade the candidate.
func (s *Selector) evaluate(ctx context.Context, c *Candidate) {
	log := slog.With(logfields.Peer(c.Name()))

	for _, u := range s.opts.Users {
		if s.shell.Reachable(ctx, remote.NewHost(u, c.Address)) {
			c.Reachable = true
			c.User = u
			break
		}
	}
	if !c.Reachable {
		log.Info("Peer unreachable, skipping")
		return
	}

	if rec := s.readMetadata(ctx, c); rec != nil {
		c.Metadata = rec
		c.Source = SourceMetadata
		c.WorkingDataPath = rec.WorkingDataPath
		// the record is authoritative; no path probing when it points nowhere
		c.HasWorkingData = s.dirExists(ctx, c.Host(), rec.WorkingDataPath)
		if !c.HasWorkingData {
			log.Info("Metadata points to a missing directory", logfields.Path(rec.WorkingDataPath))
		}
		return
	}

	if path := s.searchWorkDirs(ctx, c.Host()); path != "" {
		c.Source = SourceSearch
		c.WorkingDataPath = path
		c.HasWorkingData = true
		return
	}
	log.Info("No working data found on peer")
}

func (s *Selector) readMetadata(ctx context.Context, c *Candidate) *metadata.Record {
	if s.opts.MetadataPath == "" {
		return nil
	}
	res, ok := readFirst(ctx, s.shell, c.Address.String(), s.opts.MetadataPath, s.opts.Strategies)
	if !ok {
		return nil
	}
	rec, err := metadata.Parse([]byte(res.raw))
	if err != nil {
		slog.Warn("Ignoring unreadable metadata record",
			logfields.Peer(c.Name()),
			slog.String("strategy", res.strategy.Name),
			logfields.Error(err))
		return nil
	}
	c.User = res.strategy.User
	return &rec
}

func (s *Selector) dirExists(ctx context.Context, host remote.Host, path string) bool {
	out := s.shell.Capture(ctx, host, fmt.Sprintf("test -d %s && echo yes", remote.ShellQuote(path)))
	return out != nil && strings.TrimSpace(*out) == "yes"
}

// searchWorkDirs finds the first existing conventional work directory and
// searches beneath it for the working-data directory.
func (s *Selector) searchWorkDirs(ctx context.Context, host remote.Host) string {
	if len(s.opts.SearchRoots) == 0 || s.opts.DataDirName == "" {
		return ""
	}
	quoted := make([]string, len(s.opts.SearchRoots))
	for i, r := range s.opts.SearchRoots {
		quoted[i] = remote.ShellQuote(r)
	}
	firstHit := s.shell.Capture(ctx, host,
		"for d in "+strings.Join(quoted, " ")+"; do if [ -d \"$d\" ]; then echo \"$d\"; break; fi; done")
	if firstHit == nil || strings.TrimSpace(*firstHit) == "" {
		return ""
	}
	root := strings.TrimSpace(*firstHit)
	found := s.shell.Capture(ctx, host, fmt.Sprintf(
		"find %s -maxdepth 4 -type d -name %s -print 2>/dev/null | head -n 1",
		remote.ShellQuote(root), remote.ShellQuote(s.opts.DataDirName)))
	if found == nil {
		return ""
	}
	return strings.TrimSpace(*found)
}

// pickLatest returns the data-holding candidate with the latest Created time.
// Iteration is in directory order and only a strictly later time replaces the
// current best, so ties keep the earlier peer.
func pickLatest(candidates []*Candidate) *Candidate {
	var best *Candidate
	for _, c := range candidates {
		if !c.Reachable || !c.HasWorkingData {
			continue
		}
		if best == nil || c.Created.After(best.Created) {
			best = c
		}
	}
	return best
}
