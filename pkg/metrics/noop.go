package metrics

import "time"

// Noop discards all metrics. It is the default collector.
type Noop struct{}

// NewNoop returns a collector that records nothing.
func NewNoop() *Noop {
	return &Noop{}
}

func (*Noop) RecordMemoryCreated()            {}
func (*Noop) RecordSearch(time.Duration, int) {}
func (*Noop) RecordSearchLeg(string, int)     {}
func (*Noop) RecordReinforcement(string)      {}
func (*Noop) RecordPipeline(string, string)   {}
func (*Noop) RecordConsolidation(int)         {}
