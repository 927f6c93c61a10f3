package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "handoff"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once             sync.Once
	stageDuration    *prom.HistogramVec
	runDuration      prom.Histogram
	stageResults     *prom.CounterVec
	runOutcome       *prom.CounterVec
	transferBytes    *prom.CounterVec
	transferAttempts *prom.CounterVec
	candidatePeers   prom.Gauge
	serviceStops     *prom.CounterVec
	publishRetries   prom.Counter
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual handoff stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.runDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Total handoff run duration",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		})
		pr.stageResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"})
		pr.runOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "run_outcomes_total",
			Help:      "Run outcomes by final status",
		}, []string{"outcome"})
		pr.transferBytes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "transferred_bytes_total",
			Help:      "Bytes pulled from the predecessor by transport",
		}, []string{"transport"})
		pr.transferAttempts = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_attempts_total",
			Help:      "Transfer attempts by transport and result",
		}, []string{"transport", "result"})
		pr.candidatePeers = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "candidate_peers",
			Help:      "Peers left after filtering in the last discovery",
		})
		pr.serviceStops = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "service_stops_total",
			Help:      "Predecessor services stopped by method",
		}, []string{"method"})
		pr.publishRetries = prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "publish_retries_total",
			Help:      "Push retries after transient failures",
		})
		reg.MustRegister(pr.stageDuration, pr.runDuration, pr.stageResults, pr.runOutcome,
			pr.transferBytes, pr.transferAttempts, pr.candidatePeers, pr.serviceStops, pr.publishRetries)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) IncRunOutcome(outcome RunOutcomeLabel) {
	if p == nil || p.runOutcome == nil {
		return
	}
	p.runOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) AddTransferredBytes(transport string, n int64) {
	if p == nil || p.transferBytes == nil || n <= 0 {
		return
	}
	p.transferBytes.WithLabelValues(transport).Add(float64(n))
}

func (p *PrometheusRecorder) IncTransferAttempt(transport string, success bool) {
	if p == nil || p.transferAttempts == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.transferAttempts.WithLabelValues(transport, res).Inc()
}

func (p *PrometheusRecorder) SetCandidatePeers(n int) {
	if p == nil || p.candidatePeers == nil {
		return
	}
	p.candidatePeers.Set(float64(n))
}

func (p *PrometheusRecorder) IncServiceStop(method string) {
	if p == nil || p.serviceStops == nil {
		return
	}
	p.serviceStops.WithLabelValues(method).Inc()
}

func (p *PrometheusRecorder) IncPublishRetry() {
	if p == nil || p.publishRetries == nil {
		return
	}
	p.publishRetries.Inc()
}
