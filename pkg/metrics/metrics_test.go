package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollectorCounts(t *testing.T) {
	c := NewPrometheus()

	c.RecordMemoryCreated()
	c.RecordMemoryCreated()
	c.RecordSearchLeg("text", 5)
	c.RecordSearchLeg("vector", 3)
	c.RecordReinforcement("good")
	c.RecordPipeline("embedding", "completed")
	c.RecordPipeline("embedding", "failed")
	c.RecordConsolidation(3)
	c.RecordSearch(25*time.Millisecond, 4)

	require.Equal(t, 2.0, testutil.ToFloat64(c.memoriesCreated))
	require.Equal(t, 5.0, testutil.ToFloat64(c.searchLegHits.WithLabelValues("text")))
	require.Equal(t, 3.0, testutil.ToFloat64(c.searchLegHits.WithLabelValues("vector")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.reinforcements.WithLabelValues("good")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.pipelineEvents.WithLabelValues("embedding", "completed")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.pipelineEvents.WithLabelValues("embedding", "failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.consolidations))
	require.Equal(t, 3.0, testutil.ToFloat64(c.consolidatedSrc))
}

func TestPrometheusCollectorRegistersMetrics(t *testing.T) {
	c := NewPrometheus()
	c.RecordMemoryCreated()

	families, err := c.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["mnemo_memories_created_total"])
}

func TestNoopCollectorIsSafe(t *testing.T) {
	var c Collector = NewNoop()
	c.RecordMemoryCreated()
	c.RecordSearch(time.Millisecond, 1)
	c.RecordSearchLeg("text", 1)
	c.RecordReinforcement("easy")
	c.RecordPipeline("extraction", "completed")
	c.RecordConsolidation(2)
}
