// Package handoff sequences a runner handoff.
//
// A Plan lists the stages of one invocation with enabled flags fixed up front
// from configuration:
//
//	bootstrap → join-overlay → discover → reconcile → quiesce → publish
//
// Stages run one at a time. When discovery finds no predecessor the stages
// that need one are skipped; the configuration is never mutated for that. The
// first failing stage aborts the run and nothing already done is rolled back:
// pulling data is idempotent and stopping services can be retried.
//
// Every stage produces a StageResult in the run Report, a metrics sample and a
// history event.
package handoff
