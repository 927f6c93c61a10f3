// Package metrics provides the observability hooks of a handoff run.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so no nil checks are needed at call sites:
//
//	orch := handoff.NewOrchestrator(cfg, deps).WithRecorder(metrics.NewPrometheusRecorder(reg))
//
// A run is a short-lived CLI invocation, so there is no scrape endpoint. When a
// textfile path is configured the registry is written once at the end of the
// run with WriteTextfile, for pickup by the node exporter textfile collector.
package metrics
