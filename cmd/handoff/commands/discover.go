package commands

import (
	"context"

	"git.home.luguber.info/inful/handoff/internal/config"
	"git.home.luguber.info/inful/handoff/internal/handoff"
)

// DiscoverCmd bootstraps, joins the overlay and reports the predecessor.
// Finding none is not an error.
type DiscoverCmd struct {
	Format string `short:"f" enum:"text,json,yaml" default:"text" help:"Report format (text, json, yaml)"`
}

func (d *DiscoverCmd) Run(ctx context.Context, g *Global, root *CLI) error {
	return root.runPipeline(ctx, g, config.OpDiscover, d.Format, (*handoff.Orchestrator).RunDiscovery)
}
