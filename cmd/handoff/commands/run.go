package commands

import (
	"context"

	"git.home.luguber.info/inful/handoff/internal/config"
	"git.home.luguber.info/inful/handoff/internal/handoff"
)

// RunCmd implements the default full handoff.
type RunCmd struct {
	Format string `short:"f" enum:"text,json,yaml" default:"text" help:"Report format (text, json, yaml)"`
}

func (r *RunCmd) Run(ctx context.Context, g *Global, root *CLI) error {
	return root.runPipeline(ctx, g, config.OpRun, r.Format, (*handoff.Orchestrator).Run)
}
