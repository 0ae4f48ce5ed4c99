package consolidation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dan-solli/mnemo/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func embedded(t *testing.T, s *store.Store, content string, vec []float32, tags ...string) *store.Memory {
	t.Helper()
	ctx := context.Background()
	m, err := s.CreateMemory(ctx, store.CreateMemory{Content: content, Tags: tags})
	require.NoError(t, err)
	_, err = s.SetCurrentEmbedding(ctx, m.ID, "test-model", "v1", vec)
	require.NoError(t, err)
	return m
}

type stubSynthesizer struct {
	content string
	err     error
	calls   int
}

func (s *stubSynthesizer) Synthesize(_ context.Context, _ []string) (string, error) {
	s.calls++
	return s.content, s.err
}

func TestFindAndMergeCreatesDerivedMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := embedded(t, s, "the user likes espresso", []float32{1, 0}, "coffee")
	b := embedded(t, s, "the user drinks espresso every morning", []float32{0.99, 0.05}, "routine")
	far := embedded(t, s, "the project ships in march", []float32{0, 1})

	synth := &stubSynthesizer{content: "the user drinks espresso every morning and likes it"}
	eng := NewEngine(s, synth, Config{Threshold: 0.92, MaxGroup: 5}, nil)

	merges, err := eng.FindAndMerge(ctx, []string{a.ID, b.ID}, 0)
	require.NoError(t, err)
	require.Len(t, merges, 1)
	require.Equal(t, 1, synth.calls)
	require.ElementsMatch(t, []string{a.ID, b.ID}, merges[0].OriginalIDs)

	derived, err := s.GetMemory(ctx, merges[0].ConsolidatedID)
	require.NoError(t, err)
	require.Equal(t, synth.content, derived.Content)
	require.Equal(t, "consolidation", derived.Source)
	require.Equal(t, []string{"coffee", "routine"}, derived.Tags)
	require.Equal(t, store.StatusPending, derived.EmbeddingStatus)

	for _, id := range merges[0].OriginalIDs {
		m, err := s.GetMemory(ctx, id)
		require.NoError(t, err)
		require.True(t, m.IsConsolidatedOriginal)
		require.Equal(t, derived.ID, *m.ConsolidatedInto)
	}

	unrelated, err := s.GetMemory(ctx, far.ID)
	require.NoError(t, err)
	require.False(t, unrelated.IsConsolidatedOriginal)
}

func TestFindAndMergeIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := embedded(t, s, "first statement", []float32{1, 0})
	b := embedded(t, s, "first statement restated", []float32{0.99, 0.02})

	eng := NewEngine(s, nil, Config{}, nil)

	merges, err := eng.FindAndMerge(ctx, []string{a.ID, b.ID}, 0)
	require.NoError(t, err)
	require.Len(t, merges, 1)

	// Both originals are now consolidated away and get skipped.
	again, err := eng.FindAndMerge(ctx, []string{a.ID, b.ID}, 0)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestFindAndMergeSkipsAbsorbedCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := embedded(t, s, "twin one", []float32{1, 0})
	b := embedded(t, s, "twin two", []float32{0.99, 0.02})

	eng := NewEngine(s, nil, Config{}, nil)

	// b appears both as a's neighbor and as a later candidate; one merge.
	merges, err := eng.FindAndMerge(ctx, []string{a.ID, b.ID, b.ID}, 0)
	require.NoError(t, err)
	require.Len(t, merges, 1)
}

func TestFindAndMergeJoinsExistingTarget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := embedded(t, s, "fact one", []float32{1, 0})
	embedded(t, s, "fact one again", []float32{0.99, 0.02})

	eng := NewEngine(s, nil, Config{}, nil)
	merges, err := eng.FindAndMerge(ctx, []string{a.ID}, 0)
	require.NoError(t, err)
	require.Len(t, merges, 1)
	derivedID := merges[0].ConsolidatedID

	// The derived memory gets its own embedding; a latecomer near it must
	// fold into it instead of spawning a second derived memory.
	_, err = s.SetCurrentEmbedding(ctx, derivedID, "test-model", "v1", []float32{1, 0.01})
	require.NoError(t, err)
	late := embedded(t, s, "fact one yet again", []float32{0.995, 0.01})

	merges, err = eng.FindAndMerge(ctx, []string{late.ID}, 0)
	require.NoError(t, err)
	require.Len(t, merges, 1)
	require.Equal(t, derivedID, merges[0].ConsolidatedID)
	require.Equal(t, []string{late.ID}, merges[0].OriginalIDs)

	edges, err := s.GetConsolidationEdges(ctx, derivedID)
	require.NoError(t, err)
	require.Len(t, edges, 3)
}

func TestFindAndMergeSkipsWithoutNeighbors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alone := embedded(t, s, "nothing like me", []float32{1, 0})
	_ = embedded(t, s, "orthogonal", []float32{0, 1})

	eng := NewEngine(s, nil, Config{}, nil)
	merges, err := eng.FindAndMerge(ctx, []string{alone.ID}, 0)
	require.NoError(t, err)
	require.Empty(t, merges)
}

func TestFindAndMergeSkipsUnembeddedCandidate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.CreateMemory(ctx, store.CreateMemory{Content: "no vector yet"})
	require.NoError(t, err)

	eng := NewEngine(s, nil, Config{}, nil)
	merges, err := eng.FindAndMerge(ctx, []string{m.ID, "missing-entirely"}, 0)
	require.NoError(t, err)
	require.Empty(t, merges)
}

func TestSynthesisFallsBackToConcat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := embedded(t, s, "bravo statement", []float32{1, 0})
	embedded(t, s, "alpha statement", []float32{0.99, 0.02})

	synth := &stubSynthesizer{err: errors.New("model offline")}
	eng := NewEngine(s, synth, Config{}, nil)

	merges, err := eng.FindAndMerge(ctx, []string{a.ID}, 0)
	require.NoError(t, err)
	require.Len(t, merges, 1)

	derived, err := s.GetMemory(ctx, merges[0].ConsolidatedID)
	require.NoError(t, err)
	require.Equal(t, "alpha statement\n\nbravo statement", derived.Content)
}

func TestConcatSynthesisIsDeterministic(t *testing.T) {
	a := ConcatSynthesis([]string{"b", "a", "c"})
	b := ConcatSynthesis([]string{"c", "b", "a"})
	require.Equal(t, "a\n\nb\n\nc", a)
	require.Equal(t, a, b)
}

func TestWorkerEnqueueDropsWhenFull(t *testing.T) {
	w := NewWorker(NewEngine(newTestStore(t), nil, Config{}, nil), 2)

	require.True(t, w.Enqueue("one"))
	require.True(t, w.Enqueue("two"))
	require.False(t, w.Enqueue("three"), "full queue drops instead of blocking")
}
