// Package pipeline runs the asynchronous per-memory work: embedding
// generation and entity/fact extraction. Controllers claim pending work in
// batches, call their collaborator, and persist the outcome. A collaborator
// failure becomes a persisted failed status, never a lost memory.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dan-solli/mnemo/pkg/embeddings"
	"github.com/dan-solli/mnemo/pkg/metrics"
	"github.com/dan-solli/mnemo/pkg/store"
)

// EmbeddingStore is the persistence surface of the embedding controller.
type EmbeddingStore interface {
	ClaimEmbeddingBatch(ctx context.Context, limit int) ([]string, error)
	GetMemories(ctx context.Context, ids []string) ([]*store.Memory, error)
	SetCurrentEmbedding(ctx context.Context, memoryID, modelName, modelVersion string, vec []float32) (*store.EmbeddingRecord, error)
	FailEmbedding(ctx context.Context, memoryID, reason string) error
}

// Config tunes a pipeline controller.
type Config struct {
	BatchSize int
	Interval  time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	return c
}

// EmbeddingController drives pending memories through embedding.
type EmbeddingController struct {
	store   EmbeddingStore
	client  embeddings.Client
	cfg     Config
	metrics metrics.Collector

	// OnEmbedded, when set, is called after each successful embedding.
	// The consolidation worker hangs off this hook.
	OnEmbedded func(memoryID string, vec []float32)
}

// NewEmbeddingController wires an embedding controller.
func NewEmbeddingController(st EmbeddingStore, client embeddings.Client, cfg Config, collector metrics.Collector) *EmbeddingController {
	if collector == nil {
		collector = metrics.NewNoop()
	}
	return &EmbeddingController{
		store:   st,
		client:  client,
		cfg:     cfg.withDefaults(),
		metrics: collector,
	}
}

// ProcessOnce claims one batch and embeds it. Returns how many memories
// were claimed; per-memory failures are persisted, not returned.
func (c *EmbeddingController) ProcessOnce(ctx context.Context) (int, error) {
	ids, err := c.store.ClaimEmbeddingBatch(ctx, c.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to claim embedding batch: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	memories, err := c.store.GetMemories(ctx, ids)
	if err != nil {
		return len(ids), fmt.Errorf("failed to load claimed memories: %w", err)
	}

	texts := make([]string, len(memories))
	for i, m := range memories {
		texts[i] = BuildEmbeddingText(m.Content, m.Tags)
	}

	vecs, err := c.client.EmbedBatch(ctx, texts)
	if err != nil {
		// The whole batch shares the upstream failure.
		for _, m := range memories {
			c.fail(ctx, m.ID, err)
		}
		return len(ids), nil
	}

	for i, m := range memories {
		if _, err := c.store.SetCurrentEmbedding(ctx, m.ID,
			c.client.ModelName(), c.client.ModelVersion(), vecs[i]); err != nil {
			c.fail(ctx, m.ID, err)
			continue
		}
		c.metrics.RecordPipeline("embedding", "completed")
		if c.OnEmbedded != nil {
			c.OnEmbedded(m.ID, vecs[i])
		}
	}
	return len(ids), nil
}

func (c *EmbeddingController) fail(ctx context.Context, memoryID string, cause error) {
	c.metrics.RecordPipeline("embedding", "failed")
	if err := c.store.FailEmbedding(ctx, memoryID, cause.Error()); err != nil {
		log.Printf("mnemo: failed to record embedding failure for %s: %v", memoryID, err)
	}
}

// Run polls for pending work until the context is done.
func (c *EmbeddingController) Run(ctx context.Context) {
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
					log.Printf("mnemo: embedding sweep failed: %v", err)
					break
				}
				if n < c.cfg.BatchSize {
					break
				}
			}
		}
	}
}

// BuildEmbeddingText combines content and tags into the text that gets
// embedded, so tag vocabulary participates in vector recall.
func BuildEmbeddingText(content string, tags []string) string {
	if len(tags) == 0 {
		return content
	}
	return content + "\nTags: " + strings.Join(tags, ", ")
}
