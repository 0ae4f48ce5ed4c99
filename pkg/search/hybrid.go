// Package search implements hybrid retrieval: a full-text leg, a vector
// leg, and a symbolic leg fused by reciprocal rank fusion, then re-ranked
// by salience.
package search

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/dan-solli/mnemo/pkg/metrics"
	"github.com/dan-solli/mnemo/pkg/salience"
	"github.com/dan-solli/mnemo/pkg/store"
)

// Store is the persistence surface the engine needs.
type Store interface {
	SearchText(ctx context.Context, query string, f store.SearchFilter, limit int) ([]store.TextHit, error)
	SearchVector(ctx context.Context, query []float32, f store.SearchFilter, limit int) ([]store.VectorHit, error)
	SearchSymbolic(ctx context.Context, query string, f store.SearchFilter, limit int) ([]store.SymbolicHit, error)
	GetMemories(ctx context.Context, ids []string) ([]*store.Memory, error)
	GetSalienceBatch(ctx context.Context, ids []string) (map[string]*store.SalienceState, error)
	TouchBatch(ctx context.Context, ids []string) error
}

// Embedder turns query text into a vector for the vector leg.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	TopK             int
	OversampleFactor int
	MinCandidates    int
	FusionK          FusionK
	Weights          salience.Weights
	RecencyLambda    float64
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 10
	}
	if c.OversampleFactor <= 0 {
		c.OversampleFactor = 4
	}
	if c.MinCandidates <= 0 {
		c.MinCandidates = 40
	}
	if c.FusionK == (FusionK{}) {
		c.FusionK = DefaultFusionK()
	}
	return c
}

// Options narrows a single search call.
type Options struct {
	// TopK overrides the configured result count when positive.
	TopK int
	// QueryVector skips query embedding when supplied.
	QueryVector []float32
	// Filter applies to every leg.
	Filter store.SearchFilter
	// IncludeBreakdown attaches per-dimension salience scores.
	IncludeBreakdown bool
}

// Result is one ranked search hit.
type Result struct {
	Memory      *store.Memory
	Score       float64
	RRFScore    float64
	MatchSource string
	Breakdown   *salience.Breakdown
}

// Engine runs hybrid searches.
type Engine struct {
	store    Store
	embedder Embedder
	cfg      Config
	scorer   *salience.Scorer
	metrics  metrics.Collector
}

// NewEngine creates a search engine. The embedder may be nil; searches then
// run text and symbolic legs only unless the caller supplies a vector.
func NewEngine(st Store, embedder Embedder, cfg Config, collector metrics.Collector) *Engine {
	if collector == nil {
		collector = metrics.NewNoop()
	}
	cfg = cfg.withDefaults()
	return &Engine{
		store:    st,
		embedder: embedder,
		cfg:      cfg,
		scorer:   salience.NewScorer(cfg.Weights, cfg.RecencyLambda),
		metrics:  collector,
	}
}

// Search runs all available legs, fuses their rankings, re-ranks by
// salience, and touches the returned memories. No matches is an empty
// slice, not an error.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	start := time.Now()

	topK := e.cfg.TopK
	if opts.TopK > 0 {
		topK = opts.TopK
	}
	limit := topK * e.cfg.OversampleFactor
	if limit < e.cfg.MinCandidates {
		limit = e.cfg.MinCandidates
	}

	queryVec := opts.QueryVector
	if len(queryVec) == 0 && e.embedder != nil && query != "" {
		vec, err := e.embedder.Embed(ctx, query)
		if err != nil {
			// Degrade to text + symbolic rather than failing the search.
			log.Printf("mnemo: query embedding failed, skipping vector leg: %v", err)
		} else {
			queryVec = vec
		}
	}

	textHits, err := e.store.SearchText(ctx, query, opts.Filter, limit)
	if err != nil {
		return nil, err
	}
	vectorHits, err := e.store.SearchVector(ctx, queryVec, opts.Filter, limit)
	if err != nil {
		return nil, err
	}
	symbolicHits, err := e.store.SearchSymbolic(ctx, query, opts.Filter, limit)
	if err != nil {
		return nil, err
	}

	e.metrics.RecordSearchLeg("text", len(textHits))
	e.metrics.RecordSearchLeg("vector", len(vectorHits))
	e.metrics.RecordSearchLeg("symbolic", len(symbolicHits))

	fused := fuse(textHits, vectorHits, symbolicHits, e.cfg.FusionK)
	if len(fused) == 0 {
		e.metrics.RecordSearch(time.Since(start), 0)
		return []Result{}, nil
	}

	ids := make([]string, len(fused))
	for i, h := range fused {
		ids[i] = h.MemoryID
	}
	memories, err := e.store.GetMemories(ctx, ids)
	if err != nil {
		return nil, err
	}
	salienceRows, err := e.store.GetSalienceBatch(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*store.Memory, len(memories))
	for _, m := range memories {
		byID[m.ID] = m
	}

	// Drop candidates deleted between the leg scans and the hydration
	// query, and originals that slipped through when a filter changed.
	candidates := fused[:0]
	for _, h := range fused {
		m, ok := byID[h.MemoryID]
		if !ok {
			continue
		}
		if m.IsConsolidatedOriginal && !opts.Filter.IncludeOriginals {
			continue
		}
		candidates = append(candidates, h)
	}

	inputs := make([]salience.Input, len(candidates))
	for i, h := range candidates {
		m := byID[h.MemoryID]
		in := salience.Input{
			SemanticScore: h.RRFScore,
			UpdatedAt:     m.UpdatedAt,
			AccessCount:   m.AccessCount,
			Stability:     salience.DefaultStability,
		}
		if st, ok := salienceRows[h.MemoryID]; ok {
			in.Stability = st.Stability
			in.LastReinforcedAt = st.LastReinforcedAt
		}
		inputs[i] = in
	}
	breakdowns := e.scorer.Score(time.Now().UTC(), inputs)

	results := make([]Result, len(candidates))
	for i, h := range candidates {
		results[i] = Result{
			Memory:      byID[h.MemoryID],
			Score:       breakdowns[i].Total,
			RRFScore:    h.RRFScore,
			MatchSource: matchSource(h.Sources),
		}
		if opts.IncludeBreakdown {
			b := breakdowns[i]
			results[i].Breakdown = &b
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})
	if len(results) > topK {
		results = results[:topK]
	}

	// Access tracking is best-effort; search results stand even if the
	// touch is lost.
	touched := make([]string, len(results))
	for i, r := range results {
		touched[i] = r.Memory.ID
	}
	if err := e.store.TouchBatch(ctx, touched); err != nil {
		log.Printf("mnemo: failed to record memory access: %v", err)
	}

	e.metrics.RecordSearch(time.Since(start), len(results))
	return results, nil
}
