package commands

import (
	"context"
	"io"
	"os"

	"git.home.luguber.info/inful/handoff/internal/config"
	"git.home.luguber.info/inful/handoff/internal/handoff"
)

// StatusCmd prints the local metadata record and the most recent runs.
type StatusCmd struct {
	Limit  int    `short:"n" default:"10" help:"Number of runs to show"`
	Format string `short:"f" enum:"text,json,yaml" default:"text" help:"Output format (text, json, yaml)"`
}

func (s *StatusCmd) Run(ctx context.Context, g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g, config.OpStatus)
	if err != nil {
		return err
	}

	// Reading status never creates the history database.
	var runs handoff.RunHistory
	if _, statErr := os.Stat(cfg.History.DBPath); statErr == nil {
		if j := openJournal(cfg.History.DBPath); j != nil {
			defer func() { _ = j.Close() }()
			runs = j
		}
	}

	st, err := handoff.CollectStatus(ctx, cfg, runs, s.Limit)
	if err != nil {
		return err
	}
	return render(g.Stdout, s.Format, st, func(w io.Writer) error { return writeStatus(w, st) })
}
