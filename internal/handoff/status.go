package handoff

import (
	"context"

	"git.home.luguber.info/inful/handoff/internal/config"
	"git.home.luguber.info/inful/handoff/internal/history"
	"git.home.luguber.info/inful/handoff/internal/metadata"
)

// RunHistory reads recent runs.
type RunHistory interface {
	Recent(ctx context.Context, limit int) ([]history.RunSummary, error)
}

// StatusReport is the read-only view printed by the status command.
type StatusReport struct {
	WorkDir       string               `json:"workdir" yaml:"workdir"`
	DataDir       string               `json:"data_dir" yaml:"data_dir"`
	MetadataPath  string               `json:"metadata_path" yaml:"metadata_path"`
	Metadata      *metadata.Record     `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	MetadataError string               `json:"metadata_error,omitempty" yaml:"metadata_error,omitempty"`
	Runs          []history.RunSummary `json:"runs" yaml:"runs"`
}

// CollectStatus reads the local metadata record and the last limit runs. A
// missing record is reported, not returned as an error.
func CollectStatus(ctx context.Context, cfg *config.Config, runs RunHistory, limit int) (StatusReport, error) {
	st := StatusReport{
		WorkDir:      cfg.WorkDir,
		DataDir:      cfg.DataDir,
		MetadataPath: cfg.Metadata.Path,
		Runs:         []history.RunSummary{},
	}
	if cfg.Metadata.Path != "" {
		rec, err := metadata.Read(cfg.Metadata.Path)
		if err != nil {
			st.MetadataError = err.Error()
		} else {
			st.Metadata = &rec
		}
	}
	if runs == nil {
		return st, nil
	}
	recent, err := runs.Recent(ctx, limit)
	if err != nil {
		return st, err
	}
	st.Runs = recent
	return st, nil
}
