package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	require.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	require.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)

	// Magnitude does not matter.
	require.InDelta(t, 1.0, CosineSimilarity([]float32{2, 0}, []float32{5, 0}), 1e-9)

	// Degenerate inputs score zero instead of erroring.
	require.Zero(t, CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
	require.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	require.Zero(t, CosineSimilarity(nil, nil))
}

func TestEmbeddingRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.125, 0}
	got, err := deserializeEmbedding(serializeEmbedding(vec))
	require.NoError(t, err)
	require.Equal(t, vec, got)

	_, err = deserializeEmbedding([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDBTimeOrdersLexicographically(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 100000000, time.UTC)
	later := base.Add(50 * time.Millisecond)

	// Trailing-zero fractions must not break TEXT comparison.
	require.Less(t, dbTime(base), dbTime(later))
	require.Len(t, dbTime(base), len(dbTime(later)))
}

func TestNewCreatesFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemo.db")
	s, err := New(path)
	require.NoError(t, err)
	defer s.Close()

	m, err := s.CreateMemory(context.Background(), CreateMemory{Content: "persisted"})
	require.NoError(t, err)
	require.NotEmpty(t, m.ID)
}
