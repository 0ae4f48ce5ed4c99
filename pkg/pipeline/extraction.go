package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dan-solli/mnemo/pkg/extraction"
	"github.com/dan-solli/mnemo/pkg/metrics"
	"github.com/dan-solli/mnemo/pkg/store"
)

// ExtractionStore is the persistence surface of the extraction controller.
type ExtractionStore interface {
	ClaimExtractionBatch(ctx context.Context, limit int) ([]string, error)
	GetMemories(ctx context.Context, ids []string) ([]*store.Memory, error)
	CompleteExtraction(ctx context.Context, memoryID string, entities map[string]store.Entity, facts []string) error
	FailExtraction(ctx context.Context, memoryID, reason string) error
}

// ExtractionController drives pending memories through entity and fact
// extraction.
type ExtractionController struct {
	store     ExtractionStore
	extractor extraction.Extractor
	cfg       Config
	metrics   metrics.Collector
}

// NewExtractionController wires an extraction controller.
func NewExtractionController(st ExtractionStore, ex extraction.Extractor, cfg Config, collector metrics.Collector) *ExtractionController {
	if collector == nil {
		collector = metrics.NewNoop()
	}
	return &ExtractionController{
		store:     st,
		extractor: ex,
		cfg:       cfg.withDefaults(),
		metrics:   collector,
	}
}

// ProcessOnce claims one batch and extracts each memory. Returns how many
// memories were claimed; per-memory failures are persisted, not returned.
func (c *ExtractionController) ProcessOnce(ctx context.Context) (int, error) {
	ids, err := c.store.ClaimExtractionBatch(ctx, c.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to claim extraction batch: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	memories, err := c.store.GetMemories(ctx, ids)
	if err != nil {
		return len(ids), fmt.Errorf("failed to load claimed memories: %w", err)
	}

	for _, m := range memories {
		result, err := c.extractor.Extract(ctx, m.Content)
		if err != nil {
			c.fail(ctx, m.ID, err)
			continue
		}
		if err := c.store.CompleteExtraction(ctx, m.ID, result.Entities, result.Facts); err != nil {
			c.fail(ctx, m.ID, err)
			continue
		}
		c.metrics.RecordPipeline("extraction", "completed")
	}
	return len(ids), nil
}

func (c *ExtractionController) fail(ctx context.Context, memoryID string, cause error) {
	c.metrics.RecordPipeline("extraction", "failed")
	if err := c.store.FailExtraction(ctx, memoryID, cause.Error()); err != nil {
		log.Printf("mnemo: failed to record extraction failure for %s: %v", memoryID, err)
	}
}

// Run polls for pending work until the context is done.
func (c *ExtractionController) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				n, err := c.ProcessOnce(ctx)
				if err != nil {
					log.Printf("mnemo: extraction sweep failed: %v", err)
					break
				}
				if n < c.cfg.BatchSize {
					break
				}
			}
		}
	}
}
