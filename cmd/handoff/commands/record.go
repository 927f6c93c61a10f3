package commands

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/handoff/internal/config"
	"git.home.luguber.info/inful/handoff/internal/foundation/errors"
	"git.home.luguber.info/inful/handoff/internal/metadata"
)

// RecordCmd writes the metadata record a successor reads to locate this
// runner's working data.
type RecordCmd struct {
	Path string `short:"o" help:"Write the record here instead of the configured metadata path" type:"path"`
}

func (r *RecordCmd) Run(_ context.Context, g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g, config.OpRecord)
	if err != nil {
		return err
	}
	path := cfg.Metadata.Path
	if r.Path != "" {
		path = r.Path
	}
	if path == "" {
		return errors.ConfigError("no metadata path configured").
			WithHint("set " + config.EnvMetadataPath + " or pass --path").
			Build()
	}

	rec := metadata.Capture(metadata.CaptureInput{
		User:        cfg.User,
		DataDir:     cfg.DataDir,
		WorkDir:     cfg.WorkDir,
		Hostname:    cfg.Overlay.Hostname,
		Environment: cfg.CIEnv,
	})
	if err := metadata.Write(path, rec); err != nil {
		return err
	}
	_, err = fmt.Fprintf(g.Stdout, "metadata record written to %s\n", path)
	return err
}
