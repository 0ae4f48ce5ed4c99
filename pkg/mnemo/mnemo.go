// Package mnemo is the facade over the memory store: it wires the SQLite
// store, the hybrid search engine, the salience machinery, the background
// pipelines, and consolidation behind one handle.
package mnemo

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dan-solli/mnemo/pkg/config"
	"github.com/dan-solli/mnemo/pkg/consolidation"
	"github.com/dan-solli/mnemo/pkg/embeddings"
	"github.com/dan-solli/mnemo/pkg/extraction"
	"github.com/dan-solli/mnemo/pkg/llm"
	"github.com/dan-solli/mnemo/pkg/metrics"
	"github.com/dan-solli/mnemo/pkg/pipeline"
	"github.com/dan-solli/mnemo/pkg/salience"
	"github.com/dan-solli/mnemo/pkg/search"
	"github.com/dan-solli/mnemo/pkg/store"
	"github.com/dan-solli/mnemo/pkg/trace"
)

// Mnemo is the top-level handle.
type Mnemo struct {
	cfg      *config.Config
	store    *store.Store
	searcher *search.Engine
	merger   *consolidation.Engine
	worker   *consolidation.Worker
	embedCtl *pipeline.EmbeddingController
	extrCtl  *pipeline.ExtractionController
	embedder embeddings.Client
	metrics  metrics.Collector
	tracer   trace.Exporter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes construction.
type Option func(*Mnemo)

// WithMetrics installs a metrics collector (default: no-op).
func WithMetrics(c metrics.Collector) Option {
	return func(m *Mnemo) { m.metrics = c }
}

// WithTracer installs a trace exporter (default: no-op).
func WithTracer(t trace.Exporter) Option {
	return func(m *Mnemo) { m.tracer = t }
}

// WithEmbedder overrides the configured embedding client.
func WithEmbedder(c embeddings.Client) Option {
	return func(m *Mnemo) { m.embedder = c }
}

var errNoEmbedder = fmt.Errorf("no embedding provider configured")

// New opens the store and wires every engine from cfg.
func New(cfg *config.Config, opts ...Option) (*Mnemo, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	m := &Mnemo{
		cfg:     cfg,
		metrics: metrics.NewNoop(),
		tracer:  trace.NewNoop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	m.store = st

	if m.embedder == nil {
		m.embedder, err = buildEmbedder(cfg.Embedding)
		if err != nil && err != errNoEmbedder {
			st.Close()
			return nil, err
		}
	}
	chat := buildChatClient(cfg.LLM)

	m.searcher = search.NewEngine(st, m.embedder, search.Config{
		TopK:             cfg.Search.TopK,
		OversampleFactor: cfg.Search.OversampleFactor,
		MinCandidates:    cfg.Search.MinCandidates,
		FusionK: search.FusionK{
			Text:     cfg.Search.TextK,
			Vector:   cfg.Search.VectorK,
			Symbolic: cfg.Search.SymbolicK,
		},
		Weights: salience.Weights{
			Recency:       cfg.Salience.WeightRecency,
			Access:        cfg.Salience.WeightAccess,
			Semantic:      cfg.Salience.WeightSemantic,
			Reinforcement: cfg.Salience.WeightReinforcement,
		},
		RecencyLambda: cfg.Salience.RecencyLambda,
	}, m.metrics)

	var synth consolidation.Synthesizer
	if chat != nil {
		synth = consolidation.NewLLMSynthesizer(chat)
	}
	m.merger = consolidation.NewEngine(st, synth, consolidation.Config{
		Threshold: cfg.Consolidation.Threshold,
		MaxGroup:  cfg.Consolidation.MaxGroup,
	}, m.metrics)
	m.worker = consolidation.NewWorker(m.merger, cfg.Consolidation.QueueCapacity)

	pipeCfg := pipeline.Config{
		BatchSize: cfg.Pipeline.BatchSize,
		Interval:  cfg.Pipeline.Interval,
	}
	if m.embedder != nil {
		m.embedCtl = pipeline.NewEmbeddingController(st, m.embedder, pipeCfg, m.metrics)
		m.embedCtl.OnEmbedded = func(memoryID string, _ []float32) {
			if !m.worker.Enqueue(memoryID) {
				log.Printf("mnemo: consolidation queue full, dropped check for %s", memoryID)
			}
		}
	}
	if chat != nil {
		m.extrCtl = pipeline.NewExtractionController(st,
			extraction.NewLLMExtractor(chat), pipeCfg, m.metrics)
	}

	return m, nil
}

func buildEmbedder(cfg config.EmbeddingConfig) (embeddings.Client, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, errNoEmbedder
		}
		c := embeddings.NewOpenAI(cfg.APIKey)
		if cfg.Model != "" {
			c.Model = cfg.Model
		}
		if cfg.BaseURL != "" {
			c.BaseURL = cfg.BaseURL
		}
		return c, nil
	case "ollama":
		return embeddings.NewOllama(cfg.BaseURL, cfg.Model), nil
	case "":
		return nil, errNoEmbedder
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}

func buildChatClient(cfg config.LLMConfig) llm.Client {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil
		}
		c := llm.NewOpenAI(cfg.APIKey)
		if cfg.Model != "" {
			c.Model = cfg.Model
		}
		if cfg.BaseURL != "" {
			c.BaseURL = cfg.BaseURL
		}
		return c
	case "ollama":
		return llm.NewOllama(cfg.BaseURL, cfg.Model)
	}
	return nil
}

// StartWorkers launches the background pipelines and the consolidation
// worker. They stop when Close is called.
func (m *Mnemo) StartWorkers() {
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	run := func(f func(context.Context)) {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			f(ctx)
		}()
	}
	if m.embedCtl != nil {
		run(m.embedCtl.Run)
	}
	if m.extrCtl != nil {
		run(m.extrCtl.Run)
	}
	run(m.worker.Run)
}

// Close stops workers and releases the store and tracer.
func (m *Mnemo) Close() error {
	if m.cancel != nil {
		m.cancel()
		m.wg.Wait()
		m.cancel = nil
	}
	if err := m.tracer.Close(); err != nil {
		log.Printf("mnemo: failed to close tracer: %v", err)
	}
	return m.store.Close()
}

// RememberOptions carries the optional fields of a new memory.
type RememberOptions struct {
	TypeHint string
	Source   string
	Tags     []string
}

// Remember stores a new memory. Embedding and extraction happen
// asynchronously; the returned memory has both pending.
func (m *Mnemo) Remember(ctx context.Context, content string, opts RememberOptions) (*store.Memory, error) {
	start := time.Now()
	mem, err := m.store.CreateMemory(ctx, store.CreateMemory{
		Content:  content,
		TypeHint: opts.TypeHint,
		Source:   opts.Source,
		Tags:     opts.Tags,
	})
	if err != nil {
		m.trace(ctx, "remember", start, err, nil, nil)
		return nil, err
	}
	m.metrics.RecordMemoryCreated()
	m.trace(ctx, "remember", start, nil, []string{mem.ID}, nil)
	return mem, nil
}

// Get returns a memory and records the access: the access counter and a
// small passive salience bump, both best-effort.
func (m *Mnemo) Get(ctx context.Context, id string) (*store.Memory, error) {
	mem, err := m.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.store.Touch(ctx, id); err != nil {
		log.Printf("mnemo: failed to record access for %s: %v", id, err)
	}
	if err := m.store.TouchSalience(ctx, id); err != nil {
		log.Printf("mnemo: failed to bump salience for %s: %v", id, err)
	}
	return mem, nil
}

// Delete removes a memory and everything that hangs off it.
func (m *Mnemo) Delete(ctx context.Context, id string) error {
	return m.store.DeleteMemory(ctx, id)
}

// List pages through memories.
func (m *Mnemo) List(ctx context.Context, f store.ListFilter, cursor string, limit int) (*store.ListPage, error) {
	return m.store.ListMemories(ctx, f, cursor, limit)
}

// Search runs hybrid retrieval over the stored memories.
func (m *Mnemo) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	start := time.Now()
	results, err := m.searcher.Search(ctx, query, opts)
	if err != nil {
		m.trace(ctx, "search", start, err, nil, nil)
		return nil, err
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Memory.ID
	}
	m.trace(ctx, "search", start, nil, ids, map[string]any{"results": len(results)})
	return results, nil
}

// Reinforce records an explicit reinforcement event for a memory.
func (m *Mnemo) Reinforce(ctx context.Context, id string, rating salience.Rating) (*store.SalienceState, error) {
	start := time.Now()
	state, err := m.store.Reinforce(ctx, id, rating)
	if err != nil {
		m.trace(ctx, "reinforce", start, err, []string{id}, nil)
		return nil, err
	}
	m.metrics.RecordReinforcement(string(rating))
	m.trace(ctx, "reinforce", start, nil, []string{id}, map[string]any{
		"stability": state.Stability,
		"count":     state.ReinforcementCount,
	})
	return state, nil
}

// Retrievability reports how recallable a memory is at the given time.
func (m *Mnemo) Retrievability(ctx context.Context, id string, at time.Time) (float64, error) {
	state, err := m.store.GetSalience(ctx, id)
	if err != nil {
		return 0, err
	}
	elapsed := salience.NeverReinforcedDays
	if state.LastReinforcedAt != nil {
		elapsed = at.Sub(*state.LastReinforcedAt).Hours() / 24
	}
	return salience.Retrievability(state.Stability, elapsed), nil
}

// Consolidate checks the given memories for near-duplicates and merges
// groups above the threshold (<= 0 uses the configured threshold).
func (m *Mnemo) Consolidate(ctx context.Context, candidateIDs []string, threshold float64) ([]consolidation.Merge, error) {
	start := time.Now()
	merges, err := m.merger.FindAndMerge(ctx, candidateIDs, threshold)
	m.trace(ctx, "consolidate", start, err, candidateIDs, map[string]any{"merges": len(merges)})
	return merges, err
}

// ConsolidationSources returns the provenance edges of a derived memory.
func (m *Mnemo) ConsolidationSources(ctx context.Context, id string) ([]store.ConsolidationEdge, error) {
	return m.store.GetConsolidationEdges(ctx, id)
}

// BackfillEmbeddings re-embeds up to limit memories that lack a current
// embedding from the configured model. Returns how many were embedded.
func (m *Mnemo) BackfillEmbeddings(ctx context.Context, limit int) (int, error) {
	if m.embedder == nil {
		return 0, errNoEmbedder
	}
	ids, err := m.store.BackfillCandidates(ctx,
		m.embedder.ModelName(), m.embedder.ModelVersion(), limit)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, id := range ids {
		mem, err := m.store.GetMemory(ctx, id)
		if err != nil {
			continue
		}
		vec, err := m.embedder.Embed(ctx, pipeline.BuildEmbeddingText(mem.Content, mem.Tags))
		if err != nil {
			log.Printf("mnemo: backfill embedding for %s failed: %v", id, err)
			continue
		}
		if _, err := m.store.SetCurrentEmbedding(ctx, id,
			m.embedder.ModelName(), m.embedder.ModelVersion(), vec); err != nil {
			log.Printf("mnemo: backfill store for %s failed: %v", id, err)
			continue
		}
		done++
	}
	return done, nil
}

// MarkEmbeddingsStale schedules every memory for re-embedding, used when
// switching embedding models.
func (m *Mnemo) MarkEmbeddingsStale(ctx context.Context) (int64, error) {
	return m.store.MarkAllEmbeddingsStale(ctx)
}

// EmbeddingStats reports pipeline progress.
func (m *Mnemo) EmbeddingStats(ctx context.Context) (*store.EmbeddingStats, error) {
	return m.store.GetEmbeddingStats(ctx)
}

// Store exposes the underlying store for advanced callers.
func (m *Mnemo) Store() *store.Store {
	return m.store
}

func (m *Mnemo) trace(ctx context.Context, op string, start time.Time, err error, ids []string, detail map[string]any) {
	rec := &trace.Record{
		Operation: op,
		StartedAt: start.UTC(),
		Duration:  time.Since(start),
		Status:    "ok",
		MemoryIDs: ids,
		Detail:    detail,
	}
	if err != nil {
		rec.Status = ClassifyError(err)
		rec.Error = err.Error()
	}
	if exportErr := m.tracer.Export(ctx, rec); exportErr != nil {
		log.Printf("mnemo: failed to export trace: %v", exportErr)
	}
}
