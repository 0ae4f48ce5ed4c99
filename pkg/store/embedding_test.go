package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClaimEmbeddingBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.CreateMemory(ctx, CreateMemory{Content: "pending work"})
		require.NoError(t, err)
	}

	claimed, err := s.ClaimEmbeddingBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	for _, id := range claimed {
		m, err := s.GetMemory(ctx, id)
		require.NoError(t, err)
		require.Equal(t, StatusProcessing, m.EmbeddingStatus)
	}

	// The remaining pending memory is claimed by the next call.
	rest, err := s.ClaimEmbeddingBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)

	empty, err := s.ClaimEmbeddingBatch(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestClaimIsExclusiveUnderConcurrency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const total = 20
	for i := 0; i < total; i++ {
		_, err := s.CreateMemory(ctx, CreateMemory{Content: "concurrent claim"})
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ids, err := s.ClaimEmbeddingBatch(ctx, 3)
				if err != nil || len(ids) == 0 {
					return
				}
				mu.Lock()
				for _, id := range ids {
					seen[id]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, total)
	for id, n := range seen {
		require.Equal(t, 1, n, "memory %s claimed %d times", id, n)
	}
}

func TestSetCurrentEmbeddingKeepsSingleCurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.CreateMemory(ctx, CreateMemory{Content: "versioned"})
	require.NoError(t, err)

	_, err = s.SetCurrentEmbedding(ctx, m.ID, "model-a", "v1", []float32{1, 0, 0})
	require.NoError(t, err)
	_, err = s.SetCurrentEmbedding(ctx, m.ID, "model-b", "v2", []float32{0, 1, 0})
	require.NoError(t, err)

	var current, total int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM memory_embeddings WHERE memory_id = ? AND is_current = 1`,
		m.ID).Scan(&current))
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM memory_embeddings WHERE memory_id = ?`, m.ID).Scan(&total))
	require.Equal(t, 1, current, "exactly one current embedding")
	require.Equal(t, 2, total, "history preserved")

	rec, err := s.GetCurrentEmbedding(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, "model-b", rec.ModelName)
	require.Equal(t, []float32{0, 1, 0}, rec.Vector)

	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.EmbeddingStatus)
	require.Nil(t, got.EmbeddingError)
}

func TestSetCurrentEmbeddingMissingMemory(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SetCurrentEmbedding(context.Background(), "missing", "m", "v", []float32{1})
	require.ErrorIs(t, err, ErrMemoryNotFound)
}

func TestFailEmbeddingRequiresProcessing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.CreateMemory(ctx, CreateMemory{Content: "failing"})
	require.NoError(t, err)

	// Still pending: failing unclaimed work is an illegal transition.
	err = s.FailEmbedding(ctx, m.ID, "model unavailable")
	require.ErrorIs(t, err, ErrInvalidState)

	claimed, err := s.ClaimEmbeddingBatch(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{m.ID}, claimed)

	require.NoError(t, s.FailEmbedding(ctx, m.ID, "model unavailable"))

	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.EmbeddingStatus)
	require.NotNil(t, got.EmbeddingError)
	require.Equal(t, "model unavailable", *got.EmbeddingError)

	// Completed work cannot fail either.
	_, err = s.SetCurrentEmbedding(ctx, m.ID, "m", "v", []float32{1})
	require.NoError(t, err)
	err = s.FailEmbedding(ctx, m.ID, "again")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestFailEmbeddingMissingMemory(t *testing.T) {
	s := newTestStore(t)
	err := s.FailEmbedding(context.Background(), "missing", "reason")
	require.ErrorIs(t, err, ErrMemoryNotFound)
}

func TestResetFailedEmbeddings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.CreateMemory(ctx, CreateMemory{Content: "retry me"})
	require.NoError(t, err)
	_, err = s.ClaimEmbeddingBatch(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, s.FailEmbedding(ctx, m.ID, "transient"))

	n, err := s.ResetFailedEmbeddings(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.EmbeddingStatus)
	require.Nil(t, got.EmbeddingError)
}

func TestBackfillCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateMemory(ctx, CreateMemory{Content: "has current model"})
	require.NoError(t, err)
	b, err := s.CreateMemory(ctx, CreateMemory{Content: "has old model"})
	require.NoError(t, err)
	c, err := s.CreateMemory(ctx, CreateMemory{Content: "has nothing"})
	require.NoError(t, err)

	_, err = s.SetCurrentEmbedding(ctx, a.ID, "new-model", "v2", []float32{1})
	require.NoError(t, err)
	_, err = s.SetCurrentEmbedding(ctx, b.ID, "old-model", "v1", []float32{1})
	require.NoError(t, err)

	ids, err := s.BackfillCandidates(ctx, "new-model", "v2", 10)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{b.ID, c.ID}, ids)
}

func TestMarkAllEmbeddingsStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.CreateMemory(ctx, CreateMemory{Content: "stale soon"})
	require.NoError(t, err)
	_, err = s.SetCurrentEmbedding(ctx, m.ID, "m", "v", []float32{1})
	require.NoError(t, err)

	n, err := s.MarkAllEmbeddingsStale(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.EmbeddingStatus)

	_, err = s.GetCurrentEmbedding(ctx, m.ID)
	require.ErrorIs(t, err, ErrMemoryNotFound)
}

func TestGetEmbeddingStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateMemory(ctx, CreateMemory{Content: "done"})
	require.NoError(t, err)
	_, err = s.CreateMemory(ctx, CreateMemory{Content: "waiting"})
	require.NoError(t, err)
	_, err = s.SetCurrentEmbedding(ctx, a.ID, "m", "v1", []float32{1})
	require.NoError(t, err)

	stats, err := s.GetEmbeddingStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.ByStatus[StatusCompleted])
	require.EqualValues(t, 1, stats.ByStatus[StatusPending])
	require.EqualValues(t, 1, stats.CurrentByModel["m/v1"])
}

func TestCompleteExtraction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.CreateMemory(ctx, CreateMemory{Content: "extract me"})
	require.NoError(t, err)

	// Completing before claiming is rejected.
	err = s.CompleteExtraction(ctx, m.ID, nil, nil)
	require.ErrorIs(t, err, ErrInvalidState)

	claimed, err := s.ClaimExtractionBatch(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{m.ID}, claimed)

	entities := map[string]Entity{
		"Coffee": {Type: "Concept", Description: "a brewed drink"},
	}
	facts := []string{"user drinks coffee daily"}
	require.NoError(t, s.CompleteExtraction(ctx, m.ID, entities, facts))

	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.ExtractionStatus)
	require.Equal(t, entities, got.ExtractedEntities)
	require.Equal(t, facts, got.ExtractedFacts)
}

func TestFailExtractionPersistsReason(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.CreateMemory(ctx, CreateMemory{Content: "bad luck"})
	require.NoError(t, err)
	_, err = s.ClaimExtractionBatch(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, s.FailExtraction(ctx, m.ID, "model returned garbage"))

	got, err := s.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.ExtractionStatus)
	require.Equal(t, "model returned garbage", *got.ExtractionError)
}
