package handoff

import "git.home.luguber.info/inful/handoff/internal/config"

// StageName identifies a pipeline stage.
type StageName string

const (
	StageBootstrap   StageName = "bootstrap"
	StageJoinOverlay StageName = "join-overlay"
	StageDiscover    StageName = "discover"
	StageReconcile   StageName = "reconcile"
	StageQuiesce     StageName = "quiesce"
	StagePublish     StageName = "publish"
)

// FullPipeline is the stage order of a complete handoff.
var FullPipeline = []StageName{
	StageBootstrap,
	StageJoinOverlay,
	StageDiscover,
	StageReconcile,
	StageQuiesce,
	StagePublish,
}

// DiscoveryPipeline stops after predecessor selection.
var DiscoveryPipeline = []StageName{StageBootstrap, StageJoinOverlay, StageDiscover}

// PublishPipeline publishes local data only.
var PublishPipeline = []StageName{StagePublish}

// PlannedStage is a stage with its enabled flag.
type PlannedStage struct {
	Name    StageName
	Enabled bool
}

// Plan is the ordered, read-only list of stages of one invocation.
type Plan struct {
	Stages []PlannedStage
}

// Enabled reports whether name is part of the plan and enabled.
func (p Plan) Enabled(name StageName) bool {
	for _, s := range p.Stages {
		if s.Name == name {
			return s.Enabled
		}
	}
	return false
}

// Names returns the stage names in order.
func (p Plan) Names() []StageName {
	out := make([]StageName, len(p.Stages))
	for i, s := range p.Stages {
		out[i] = s.Name
	}
	return out
}

// PlanBuilder computes every enabled flag once from configuration.
type PlanBuilder struct {
	cfg          *config.Config
	stages       []StageName
	forcePublish bool
}

// NewPlanBuilder starts a plan over the full pipeline.
func NewPlanBuilder(cfg *config.Config) *PlanBuilder {
	return &PlanBuilder{cfg: cfg, stages: FullPipeline}
}

// WithStages restricts the plan to stages, in the given order.
func (b *PlanBuilder) WithStages(stages ...StageName) *PlanBuilder {
	b.stages = stages
	return b
}

// ForcePublish enables publishing regardless of configuration, for an
// explicit publish invocation.
func (b *PlanBuilder) ForcePublish() *PlanBuilder {
	b.forcePublish = true
	return b
}

// Build returns the plan.
func (b *PlanBuilder) Build() Plan {
	plan := Plan{Stages: make([]PlannedStage, 0, len(b.stages))}
	for _, name := range b.stages {
		plan.Stages = append(plan.Stages, PlannedStage{Name: name, Enabled: b.enabled(name)})
	}
	return plan
}

func (b *PlanBuilder) enabled(name StageName) bool {
	switch name {
	case StageJoinOverlay, StageDiscover, StageReconcile, StageQuiesce:
		// Without the overlay there is no peer directory to discover from.
		return b.cfg.Overlay.Enabled
	case StagePublish:
		return b.forcePublish || b.cfg.Publish.Enabled
	default:
		return true
	}
}
