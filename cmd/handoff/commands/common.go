package commands

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/handoff/internal/config"
	"git.home.luguber.info/inful/handoff/internal/handoff"
	"git.home.luguber.info/inful/handoff/internal/history"
	"git.home.luguber.info/inful/handoff/internal/logfields"
	"git.home.luguber.info/inful/handoff/internal/metrics"
	"git.home.luguber.info/inful/handoff/internal/process"
)

// Global carries the process-level collaborators shared by every command.
type Global struct {
	Stdout io.Writer
	// Environ replaces os.Environ when set.
	Environ []string
	// Hostname replaces the OS hostname when set.
	Hostname string
	Runner   process.Runner
}

// NewGlobal returns the Global for the running process.
func NewGlobal() *Global {
	return &Global{
		Stdout: os.Stdout,
		Runner: process.NewExecRunner(),
	}
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Optional YAML configuration file" type:"path"`
	WorkDir string           `name:"workdir" short:"w" help:"Work directory (default: current directory)" type:"path"`
	Verbose bool             `short:"v" xor:"verbosity" help:"Enable debug logging"`
	Quiet   bool             `short:"q" xor:"verbosity" help:"Only log warnings and errors"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Run      RunCmd      `cmd:"" default:"1" help:"Join the overlay, pull the predecessor's working data, stop its services and publish (default)"`
	Discover DiscoverCmd `cmd:"" help:"Report the predecessor without touching it"`
	Publish  PublishCmd  `cmd:"" help:"Commit and push the local working data"`
	Status   StatusCmd   `cmd:"" help:"Show the local metadata record and recent runs"`
	Record   RecordCmd   `cmd:"" help:"Write the local metadata record"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:       c.logLevel(),
		ReplaceAttr: logfields.MaskSecrets,
	})))
	return nil
}

func (c *CLI) logLevel() slog.Level {
	switch {
	case c.Verbose:
		return slog.LevelDebug
	case c.Quiet:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// loadConfig resolves the configuration and validates it for op.
func (c *CLI) loadConfig(g *Global, op config.Operation) (*config.Config, error) {
	src := config.ProcessSource(c.Config)
	if g.Environ != nil {
		src.Environ = g.Environ
	}
	if g.Hostname != "" {
		src.Hostname = g.Hostname
	}
	cfg, err := config.Load(src, config.WithWorkDir(c.WorkDir))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(op); err != nil {
		return nil, err
	}
	return cfg, nil
}

// session is one wired orchestrator plus the resources it owns.
type session struct {
	cfg      *config.Config
	registry *prom.Registry
	journal  *history.Journal
	orch     *handoff.Orchestrator
}

func (c *CLI) openSession(g *Global, op config.Operation) (*session, error) {
	cfg, err := c.loadConfig(g, op)
	if err != nil {
		return nil, err
	}

	reg := prom.NewRegistry()
	rec := metrics.NewPrometheusRecorder(reg)

	components := handoff.NewComponents(cfg, g.Runner, rec)
	journal := openJournal(cfg.History.DBPath)
	if journal != nil {
		components.Journal = journal
	}

	return &session{
		cfg:      cfg,
		registry: reg,
		journal:  journal,
		orch:     handoff.New(cfg, components).WithRecorder(rec),
	}, nil
}

// close flushes the metrics textfile and releases the history store. Neither
// failure changes the outcome of the run.
func (s *session) close() {
	if err := metrics.WriteTextfile(s.registry, s.cfg.Metrics.File); err != nil {
		slog.Warn("Could not write metrics textfile", logfields.Path(s.cfg.Metrics.File), logfields.Error(err))
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			slog.Warn("Could not close run history", logfields.Error(err))
		}
	}
}

// openJournal opens the run history. History is diagnostic, so a store that
// cannot be opened only disables it.
func openJournal(path string) *history.Journal {
	if path == "" {
		return nil
	}
	store, err := history.Open(path)
	if err != nil {
		slog.Warn("Run history disabled", logfields.Path(path), logfields.Error(err))
		return nil
	}
	return history.NewJournal(store)
}

// runPipeline executes one orchestrator entry point and prints its report. The
// report is printed even when the run failed.
func (c *CLI) runPipeline(
	ctx context.Context,
	g *Global,
	op config.Operation,
	format string,
	exec func(*handoff.Orchestrator, context.Context) (*handoff.Report, error),
) error {
	s, err := c.openSession(g, op)
	if err != nil {
		return err
	}
	defer s.close()

	rep, runErr := exec(s.orch, ctx)
	if rep != nil {
		if err := render(g.Stdout, format, rep, func(w io.Writer) error { return writeReport(w, rep) }); err != nil {
			slog.Warn("Could not print report", logfields.Error(err))
		}
	}
	return runErr
}
