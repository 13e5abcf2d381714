package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// stageValues maps stage names to a gauge value so the current stage is
// visible as a single metric.
var stageValues = map[string]float64{
	"idle":                    0,
	"waiting_for_stable_save": 1,
	"parsing_tier0":           2,
	"parsing_tier1":           3,
	"precomputing_tier2":      4,
	"persisting":              5,
	"ready":                   6,
	"error":                   7,
}

// PrometheusRecorder implements Recorder on a Prometheus registry.
type PrometheusRecorder struct {
	tierDuration  *prom.HistogramVec
	tierResults   *prom.CounterVec
	notifications prom.Counter
	cancellations prom.Counter
	deduped       prom.Counter
	stage         prom.Gauge
	stabilityWait prom.Histogram
}

// NewPrometheusRecorder constructs and registers the pipeline metrics.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		tierDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "statewatch",
			Name:      "tier_duration_seconds",
			Help:      "Duration of extraction tiers",
			Buckets:   prom.DefBuckets,
		}, []string{"tier"}),
		tierResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "statewatch",
			Name:      "tier_results_total",
			Help:      "Tier outcomes by result",
		}, []string{"tier", "result"}),
		notifications: prom.NewCounter(prom.CounterOpts{
			Namespace: "statewatch",
			Name:      "notifications_total",
			Help:      "State file notifications received",
		}),
		cancellations: prom.NewCounter(prom.CounterOpts{
			Namespace: "statewatch",
			Name:      "cancellations_total",
			Help:      "In-flight extractions cancelled by a newer notification",
		}),
		deduped: prom.NewCounter(prom.CounterOpts{
			Namespace: "statewatch",
			Name:      "snapshots_deduped_total",
			Help:      "Snapshots skipped because their fingerprint already existed",
		}),
		stage: prom.NewGauge(prom.GaugeOpts{
			Namespace: "statewatch",
			Name:      "scheduler_stage",
			Help:      "Current scheduler stage as an enum value",
		}),
		stabilityWait: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "statewatch",
			Name:      "stability_wait_seconds",
			Help:      "Time spent waiting for the source file to stabilize",
			Buckets:   prom.DefBuckets,
		}),
	}
	reg.MustRegister(pr.tierDuration, pr.tierResults, pr.notifications,
		pr.cancellations, pr.deduped, pr.stage, pr.stabilityWait)
	return pr
}

func (p *PrometheusRecorder) ObserveTierDuration(tier string, d time.Duration) {
	if p == nil {
		return
	}
	p.tierDuration.WithLabelValues(tier).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncTierResult(tier string, result ResultLabel) {
	if p == nil {
		return
	}
	p.tierResults.WithLabelValues(tier, string(result)).Inc()
}

func (p *PrometheusRecorder) IncNotification() {
	if p == nil {
		return
	}
	p.notifications.Inc()
}

func (p *PrometheusRecorder) IncCancellation() {
	if p == nil {
		return
	}
	p.cancellations.Inc()
}

func (p *PrometheusRecorder) IncSnapshotDeduped() {
	if p == nil {
		return
	}
	p.deduped.Inc()
}

func (p *PrometheusRecorder) SetStage(stage string) {
	if p == nil {
		return
	}
	p.stage.Set(stageValues[stage])
}

func (p *PrometheusRecorder) ObserveStabilityWait(d time.Duration) {
	if p == nil {
		return
	}
	p.stabilityWait.Observe(d.Seconds())
}

// HTTPHandler serves the registry over HTTP for the /metrics endpoint.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
