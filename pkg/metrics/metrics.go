package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector on a prometheus registry.
type PrometheusCollector struct {
	registry *prometheus.Registry

	memoriesCreated prometheus.Counter
	searchDuration  prometheus.Histogram
	searchResults   prometheus.Histogram
	searchLegHits   *prometheus.CounterVec
	reinforcements  *prometheus.CounterVec
	pipelineEvents  *prometheus.CounterVec
	consolidations  prometheus.Counter
	consolidatedSrc prometheus.Counter
}

// NewPrometheus creates a collector with its own registry.
func NewPrometheus() *PrometheusCollector {
	registry := prometheus.NewRegistry()

	c := &PrometheusCollector{
		registry: registry,
		memoriesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mnemo_memories_created_total",
			Help: "Total memories stored.",
		}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mnemo_search_duration_seconds",
			Help:    "End-to-end search latency.",
			Buckets: prometheus.DefBuckets,
		}),
		searchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mnemo_search_results",
			Help:    "Result count per search.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
		searchLegHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mnemo_search_leg_hits_total",
			Help: "Candidate hits per retrieval leg.",
		}, []string{"leg"}),
		reinforcements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mnemo_reinforcements_total",
			Help: "Reinforcement events by rating.",
		}, []string{"rating"}),
		pipelineEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mnemo_pipeline_events_total",
			Help: "Pipeline outcomes by stage.",
		}, []string{"stage", "outcome"}),
		consolidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mnemo_consolidations_total",
			Help: "Total consolidation merges.",
		}),
		consolidatedSrc: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mnemo_consolidated_originals_total",
			Help: "Total originals absorbed by consolidation.",
		}),
	}

	registry.MustRegister(
		c.memoriesCreated, c.searchDuration, c.searchResults,
		c.searchLegHits, c.reinforcements, c.pipelineEvents,
		c.consolidations, c.consolidatedSrc,
	)
	return c
}

// Registry exposes the underlying registry for HTTP handlers.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *PrometheusCollector) RecordMemoryCreated() {
	c.memoriesCreated.Inc()
}

func (c *PrometheusCollector) RecordSearch(d time.Duration, results int) {
	c.searchDuration.Observe(d.Seconds())
	c.searchResults.Observe(float64(results))
}

func (c *PrometheusCollector) RecordSearchLeg(leg string, hits int) {
	c.searchLegHits.WithLabelValues(leg).Add(float64(hits))
}

func (c *PrometheusCollector) RecordReinforcement(rating string) {
	c.reinforcements.WithLabelValues(rating).Inc()
}

func (c *PrometheusCollector) RecordPipeline(stage, outcome string) {
	c.pipelineEvents.WithLabelValues(stage, outcome).Inc()
}

func (c *PrometheusCollector) RecordConsolidation(originals int) {
	c.consolidations.Inc()
	c.consolidatedSrc.Add(float64(originals))
}
