package handoff

import (
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/handoff/internal/config"
)

func TestPlanBuilderFlags(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		enabled []StageName
	}{
		{
			name:    "defaults",
			mutate:  func(*config.Config) {},
			enabled: []StageName{StageBootstrap, StageJoinOverlay, StageDiscover, StageReconcile, StageQuiesce},
		},
		{
			name:    "publish enabled",
			mutate:  func(c *config.Config) { c.Publish.Enabled = true },
			enabled: FullPipeline,
		},
		{
			name:    "already joined",
			mutate:  func(c *config.Config) { c.Overlay.Join = false },
			enabled: []StageName{StageBootstrap, StageJoinOverlay, StageDiscover, StageReconcile, StageQuiesce},
		},
		{
			name: "overlay disabled",
			mutate: func(c *config.Config) {
				c.Overlay.Enabled = false
				c.Publish.Enabled = true
			},
			enabled: []StageName{StageBootstrap, StagePublish},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			tt.mutate(cfg)
			plan := NewPlanBuilder(cfg).Build()
			require.Equal(t, FullPipeline, plan.Names())

			var got []StageName
			for _, s := range plan.Stages {
				if s.Enabled {
					got = append(got, s.Name)
				}
			}
			require.Equal(t, tt.enabled, got)
		})
	}
}

func TestPlanIsFixedAtBuildTime(t *testing.T) {
	cfg := config.Defaults()
	plan := NewPlanBuilder(cfg).Build()
	cfg.Publish.Enabled = true
	require.False(t, plan.Enabled(StagePublish))
}

func TestPlanBuilderRestrictedStages(t *testing.T) {
	cfg := config.Defaults()
	plan := NewPlanBuilder(cfg).WithStages(PublishPipeline...).ForcePublish().Build()
	require.Equal(t, []StageName{StagePublish}, plan.Names())
	require.True(t, plan.Enabled(StagePublish))
	require.False(t, plan.Enabled(StageDiscover))
}
