// Package metrics defines the instrumentation surface and its Prometheus
// implementation. Engines accept the Collector interface so tests and
// metric-less deployments can pass the no-op.
package metrics

import "time"

// Collector records operational metrics. Implementations must be safe for
// concurrent use.
type Collector interface {
	// RecordMemoryCreated counts one stored memory.
	RecordMemoryCreated()

	// RecordSearch observes one search request end to end.
	RecordSearch(duration time.Duration, results int)

	// RecordSearchLeg counts candidate hits per retrieval leg
	// (text, vector, symbolic).
	RecordSearchLeg(leg string, hits int)

	// RecordReinforcement counts one reinforcement event by rating.
	RecordReinforcement(rating string)

	// RecordPipeline counts one pipeline outcome. Stage is embedding or
	// extraction; outcome is completed or failed.
	RecordPipeline(stage, outcome string)

	// RecordConsolidation counts one merge and the originals it absorbed.
	RecordConsolidation(originals int)
}
