package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/handoff/cmd/handoff/commands"
	"git.home.luguber.info/inful/handoff/internal/foundation/errors"
	"git.home.luguber.info/inful/handoff/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cli := &commands.CLI{}
	parser := kong.Parse(cli,
		kong.Name("handoff"),
		kong.Description("Hand a CI runner's working data over from its predecessor."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.Bind(commands.NewGlobal()),
	)

	err := parser.Run(cli)
	stop()
	if err != nil {
		errors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
	}
}
