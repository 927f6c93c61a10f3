package commands

import (
	"context"

	"git.home.luguber.info/inful/handoff/internal/config"
	"git.home.luguber.info/inful/handoff/internal/handoff"
)

// PublishCmd pushes the local working data regardless of HANDOFF_PUBLISH.
type PublishCmd struct {
	Format string `short:"f" enum:"text,json,yaml" default:"text" help:"Report format (text, json, yaml)"`
}

func (p *PublishCmd) Run(ctx context.Context, g *Global, root *CLI) error {
	return root.runPipeline(ctx, g, config.OpPublish, p.Format, (*handoff.Orchestrator).RunPublish)
}
