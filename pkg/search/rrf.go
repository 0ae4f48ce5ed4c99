package search

import (
	"sort"

	"github.com/dan-solli/mnemo/pkg/store"
)

// Leg flags recording which retrieval legs matched a memory.
const (
	legText = 1 << iota
	legVector
	legSymbolic
)

// FusionK holds the per-leg rank constants of reciprocal rank fusion. A
// smaller k gives that leg's top ranks more pull.
type FusionK struct {
	Text     float64
	Vector   float64
	Symbolic float64
}

// DefaultFusionK weighs the symbolic leg slightly above the fuzzy legs,
// since a symbolic hit is an exact structural match.
func DefaultFusionK() FusionK {
	return FusionK{Text: 60, Vector: 60, Symbolic: 40}
}

type fusedHit struct {
	MemoryID string
	RRFScore float64
	Sources  int
}

// fuse merges the three leg rankings with reciprocal rank fusion:
// score = sum over legs of 1 / (k_leg + rank). Ties break on memory ID so
// the ordering is deterministic.
func fuse(text []store.TextHit, vector []store.VectorHit, symbolic []store.SymbolicHit, k FusionK) []fusedHit {
	byID := make(map[string]*fusedHit)

	add := func(id string, rank int, kLeg float64, leg int) {
		h, ok := byID[id]
		if !ok {
			h = &fusedHit{MemoryID: id}
			byID[id] = h
		}
		h.RRFScore += 1.0 / (kLeg + float64(rank))
		h.Sources |= leg
	}

	for _, h := range text {
		add(h.MemoryID, h.Rank, k.Text, legText)
	}
	for i, h := range vector {
		add(h.MemoryID, i+1, k.Vector, legVector)
	}
	for i, h := range symbolic {
		add(h.MemoryID, i+1, k.Symbolic, legSymbolic)
	}

	out := make([]fusedHit, 0, len(byID))
	for _, h := range byID {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RRFScore != out[j].RRFScore {
			return out[i].RRFScore > out[j].RRFScore
		}
		return out[i].MemoryID < out[j].MemoryID
	})
	return out
}

// matchSource names the leg combination for result introspection.
func matchSource(sources int) string {
	switch sources {
	case legText | legVector | legSymbolic:
		return "all_three"
	case legVector | legSymbolic:
		return "vector_symbolic"
	case legText | legSymbolic:
		return "text_symbolic"
	case legText | legVector:
		return "hybrid"
	case legSymbolic:
		return "symbolic_only"
	case legVector:
		return "vector_only"
	case legText:
		return "text_only"
	}
	return "none"
}
