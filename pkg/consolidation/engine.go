// Package consolidation merges near-duplicate memories into derived
// memories without destroying the originals. Provenance is recorded as
// edges and stays one level deep.
package consolidation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/dan-solli/mnemo/pkg/llm"
	"github.com/dan-solli/mnemo/pkg/metrics"
	"github.com/dan-solli/mnemo/pkg/store"
)

// Store is the persistence surface of the consolidation engine.
type Store interface {
	GetMemory(ctx context.Context, id string) (*store.Memory, error)
	GetMemories(ctx context.Context, ids []string) ([]*store.Memory, error)
	GetCurrentEmbedding(ctx context.Context, memoryID string) (*store.EmbeddingRecord, error)
	FindSimilar(ctx context.Context, memoryID string, vec []float32, threshold float64, limit int) ([]store.VectorHit, error)
	IsConsolidationTarget(ctx context.Context, id string) (bool, error)
	CreateConsolidated(ctx context.Context, req store.CreateMemory, originals []store.OriginalRef) (*store.Memory, error)
	LinkOriginals(ctx context.Context, consolidatedID string, originals []store.OriginalRef) error
}

// Synthesizer produces the content of a derived memory from its sources.
type Synthesizer interface {
	Synthesize(ctx context.Context, contents []string) (string, error)
}

// Config tunes consolidation.
type Config struct {
	// Threshold is the minimum cosine similarity for grouping.
	Threshold float64
	// MaxGroup caps how many similar memories merge at once.
	MaxGroup int
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 0.92
	}
	if c.MaxGroup <= 0 {
		c.MaxGroup = 5
	}
	return c
}

// Merge describes one completed consolidation.
type Merge struct {
	ConsolidatedID string
	OriginalIDs    []string
}

// Engine finds similar memory groups and consolidates them.
type Engine struct {
	store   Store
	synth   Synthesizer
	cfg     Config
	metrics metrics.Collector
}

// NewEngine wires a consolidation engine. synth may be nil; derived content
// then falls back to deterministic concatenation.
func NewEngine(st Store, synth Synthesizer, cfg Config, collector metrics.Collector) *Engine {
	if collector == nil {
		collector = metrics.NewNoop()
	}
	return &Engine{
		store:   st,
		synth:   synth,
		cfg:     cfg.withDefaults(),
		metrics: collector,
	}
}

// FindAndMerge examines each candidate for similar live memories and merges
// groups above the threshold. Pass threshold <= 0 to use the configured one.
// Candidates that were already consolidated away, lack an embedding, or
// have no similar neighbors are skipped. Running the same candidates twice
// produces no further merges.
func (e *Engine) FindAndMerge(ctx context.Context, candidateIDs []string, threshold float64) ([]Merge, error) {
	if threshold <= 0 {
		threshold = e.cfg.Threshold
	}

	var merges []Merge
	absorbed := make(map[string]bool)

	for _, id := range candidateIDs {
		if absorbed[id] {
			continue
		}

		m, err := e.store.GetMemory(ctx, id)
		if errors.Is(err, store.ErrMemoryNotFound) {
			continue
		}
		if err != nil {
			return merges, err
		}
		if m.IsConsolidatedOriginal {
			continue
		}

		emb, err := e.store.GetCurrentEmbedding(ctx, id)
		if errors.Is(err, store.ErrMemoryNotFound) {
			continue
		}
		if err != nil {
			return merges, err
		}

		similar, err := e.store.FindSimilar(ctx, id, emb.Vector, threshold, e.cfg.MaxGroup)
		if err != nil {
			return merges, err
		}
		if len(similar) == 0 {
			continue
		}

		merge, err := e.mergeGroup(ctx, m, similar)
		if err != nil {
			return merges, err
		}
		if merge == nil {
			continue
		}

		for _, oid := range merge.OriginalIDs {
			absorbed[oid] = true
		}
		merges = append(merges, *merge)
		e.metrics.RecordConsolidation(len(merge.OriginalIDs))
	}
	return merges, nil
}

// mergeGroup folds the candidate and its neighbors together. When a
// neighbor is already a derived memory the candidate joins it; otherwise a
// new derived memory is synthesized. Chains never form: a derived memory
// that was itself consolidated away is rejected by the store.
func (e *Engine) mergeGroup(ctx context.Context, candidate *store.Memory, similar []store.VectorHit) (*Merge, error) {
	for _, hit := range similar {
		isTarget, err := e.store.IsConsolidationTarget(ctx, hit.MemoryID)
		if err != nil {
			return nil, err
		}
		if !isTarget {
			continue
		}
		originals := []store.OriginalRef{{MemoryID: candidate.ID, Similarity: hit.Similarity}}
		if err := e.store.LinkOriginals(ctx, hit.MemoryID, originals); err != nil {
			if errors.Is(err, store.ErrAlreadyConsolidated) || errors.Is(err, store.ErrConstraintViolation) {
				log.Printf("mnemo: skipping consolidation of %s into %s: %v", candidate.ID, hit.MemoryID, err)
				return nil, nil
			}
			return nil, err
		}
		return &Merge{ConsolidatedID: hit.MemoryID, OriginalIDs: []string{candidate.ID}}, nil
	}

	ids := make([]string, 0, len(similar))
	for _, hit := range similar {
		ids = append(ids, hit.MemoryID)
	}
	neighbors, err := e.store.GetMemories(ctx, ids)
	if err != nil {
		return nil, err
	}

	group := append([]*store.Memory{candidate}, neighbors...)
	contents := make([]string, len(group))
	for i, m := range group {
		contents[i] = m.Content
	}

	content := e.synthesize(ctx, contents)
	req := store.CreateMemory{
		Content:  content,
		TypeHint: candidate.TypeHint,
		Source:   "consolidation",
		Tags:     unionTags(group),
	}

	originals := make([]store.OriginalRef, 0, len(group))
	originals = append(originals, store.OriginalRef{MemoryID: candidate.ID, Similarity: 1.0})
	for _, hit := range similar {
		originals = append(originals, store.OriginalRef{MemoryID: hit.MemoryID, Similarity: hit.Similarity})
	}

	derived, err := e.store.CreateConsolidated(ctx, req, originals)
	if err != nil {
		if errors.Is(err, store.ErrConstraintViolation) {
			log.Printf("mnemo: consolidation of %s raced another merge, treating as done", candidate.ID)
			return nil, nil
		}
		return nil, err
	}

	merge := &Merge{ConsolidatedID: derived.ID}
	for _, o := range originals {
		merge.OriginalIDs = append(merge.OriginalIDs, o.MemoryID)
	}
	return merge, nil
}

// synthesize asks the model for merged content and falls back to
// concatenation when no synthesizer is wired or the call fails.
func (e *Engine) synthesize(ctx context.Context, contents []string) string {
	if e.synth != nil {
		content, err := e.synth.Synthesize(ctx, contents)
		if err == nil && strings.TrimSpace(content) != "" {
			return content
		}
		if err != nil {
			log.Printf("mnemo: synthesis failed, falling back to concatenation: %v", err)
		}
	}
	return ConcatSynthesis(contents)
}

// ConcatSynthesis is the deterministic fallback: sources joined in sorted
// order so repeated merges of the same group produce identical content.
func ConcatSynthesis(contents []string) string {
	sorted := make([]string, len(contents))
	copy(sorted, contents)
	sort.Strings(sorted)
	return strings.Join(sorted, "\n\n")
}

func unionTags(group []*store.Memory) []string {
	seen := make(map[string]bool)
	var tags []string
	for _, m := range group {
		for _, t := range m.Tags {
			if !seen[t] {
				seen[t] = true
				tags = append(tags, t)
			}
		}
	}
	sort.Strings(tags)
	return tags
}

const synthesisPrompt = `You maintain an agent's long-term memory. The
following memories say nearly the same thing. Write ONE memory that
preserves every distinct detail, stated once, in neutral declarative prose.
Do not add information. Return only the merged memory text.

Memories:
%s`

// LLMSynthesizer implements Synthesizer on a chat-completion client.
type LLMSynthesizer struct {
	client llm.Client
}

// NewLLMSynthesizer creates a model-backed synthesizer.
func NewLLMSynthesizer(client llm.Client) *LLMSynthesizer {
	return &LLMSynthesizer{client: client}
}

// Synthesize merges the contents into one statement.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, contents []string) (string, error) {
	var b strings.Builder
	for i, c := range contents {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}
	out, err := s.client.Complete(ctx, fmt.Sprintf(synthesisPrompt, b.String()))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
