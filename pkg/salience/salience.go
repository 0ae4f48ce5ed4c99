// Package salience implements FSRS-style memory strength scoring: a
// retrievability curve over stability, plus the multi-dimensional re-rank
// used to order search results.
package salience

import (
	"fmt"
	"math"
	"time"
)

// FSRS curve parameters. Stability is the number of days until
// retrievability decays to 90%.
const (
	fsrsFactor = 19.0 / 81.0
	fsrsDecay  = -0.5
)

// Stability and difficulty bounds applied on every reinforcement.
const (
	MinStability  = 0.1
	MaxStability  = 36500.0
	MinDifficulty = 1.0
	MaxDifficulty = 10.0

	DefaultStability  = 1.0
	DefaultDifficulty = 5.0

	// NeverReinforcedDays stands in for elapsed time when a memory has no
	// reinforcement history, so its retrievability reads as heavily decayed.
	NeverReinforcedDays = 365.0
)

// Retrievability returns the probability in [0, 1] that a memory with the
// given stability is still recallable after elapsedDays. Non-positive
// stability means no retention at all.
func Retrievability(stabilityDays, elapsedDays float64) float64 {
	if stabilityDays <= 0 {
		return 0
	}
	if elapsedDays < 0 {
		elapsedDays = 0
	}
	r := math.Pow(1+fsrsFactor*elapsedDays/stabilityDays, fsrsDecay)
	if math.IsNaN(r) {
		return 0
	}
	return clamp(r, 0, 1)
}

// Rating grades a reinforcement event.
type Rating string

const (
	RatingGood Rating = "good"
	RatingEasy Rating = "easy"
)

// Multiplier returns the stability growth factor for the rating.
func (r Rating) Multiplier() (float64, error) {
	switch r {
	case RatingGood:
		return 1.5, nil
	case RatingEasy:
		return 2.0, nil
	}
	return 0, fmt.Errorf("unknown reinforcement rating %q", r)
}

// Reinforce computes the post-reinforcement stability and difficulty. The
// closer the memory was to being forgotten (low retrievability), the larger
// the stability boost and the higher the resulting difficulty.
func Reinforce(stability, difficulty, elapsedDays float64, rating Rating) (newStability, newDifficulty float64, err error) {
	mult, err := rating.Multiplier()
	if err != nil {
		return 0, 0, err
	}
	r := Retrievability(stability, elapsedDays)
	newStability = clamp(stability*(1+(1-r)*mult), MinStability, MaxStability)
	newDifficulty = clamp(difficulty+0.5-r, MinDifficulty, MaxDifficulty)
	return newStability, newDifficulty, nil
}

// Weights control the blended salience score. They need not sum to 1.
type Weights struct {
	Recency       float64
	Access        float64
	Semantic      float64
	Reinforcement float64
}

// DefaultWeights favors semantic relevance while letting memory strength
// break near-ties.
func DefaultWeights() Weights {
	return Weights{
		Recency:       0.2,
		Access:        0.2,
		Semantic:      0.4,
		Reinforcement: 0.2,
	}
}

// DefaultRecencyLambda gives recency a half-life of roughly 70 days.
const DefaultRecencyLambda = 0.01

// Input is one candidate to score.
type Input struct {
	SemanticScore    float64
	UpdatedAt        time.Time
	AccessCount      int64
	Stability        float64
	LastReinforcedAt *time.Time
}

// Breakdown exposes the per-dimension values behind a blended score, after
// normalization.
type Breakdown struct {
	Recency       float64
	Access        float64
	Semantic      float64
	Reinforcement float64
	Total         float64
}

// Scorer blends the four salience dimensions.
type Scorer struct {
	Weights       Weights
	RecencyLambda float64
}

// NewScorer returns a scorer with the given weights; zero-value weights fall
// back to defaults.
func NewScorer(w Weights, lambda float64) *Scorer {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	if lambda <= 0 {
		lambda = DefaultRecencyLambda
	}
	return &Scorer{Weights: w, RecencyLambda: lambda}
}

// Score computes blended salience for each input. Every dimension is
// min-max normalized across the batch before weighting, so one dimension's
// scale cannot drown the others.
func (s *Scorer) Score(nowT time.Time, inputs []Input) []Breakdown {
	n := len(inputs)
	if n == 0 {
		return nil
	}

	recency := make([]float64, n)
	access := make([]float64, n)
	semantic := make([]float64, n)
	reinforcement := make([]float64, n)

	for i, in := range inputs {
		days := nowT.Sub(in.UpdatedAt).Hours() / 24
		if days < 0 {
			days = 0
		}
		recency[i] = math.Exp(-s.RecencyLambda * days)
		access[i] = math.Log1p(float64(in.AccessCount))
		semantic[i] = in.SemanticScore

		elapsed := NeverReinforcedDays
		if in.LastReinforcedAt != nil {
			elapsed = nowT.Sub(*in.LastReinforcedAt).Hours() / 24
		}
		reinforcement[i] = Retrievability(in.Stability, elapsed)
	}

	recency = Normalize(recency)
	access = Normalize(access)
	semantic = Normalize(semantic)
	reinforcement = Normalize(reinforcement)

	out := make([]Breakdown, n)
	for i := range inputs {
		b := Breakdown{
			Recency:       recency[i],
			Access:        access[i],
			Semantic:      semantic[i],
			Reinforcement: reinforcement[i],
		}
		b.Total = s.Weights.Recency*b.Recency +
			s.Weights.Access*b.Access +
			s.Weights.Semantic*b.Semantic +
			s.Weights.Reinforcement*b.Reinforcement
		out[i] = b
	}
	return out
}

// Normalize min-max scales values into [0, 1]. A constant batch maps to all
// ones so the dimension neither favors nor penalizes anyone.
func Normalize(xs []float64) []float64 {
	if len(xs) == 0 {
		return xs
	}
	min, max := xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	out := make([]float64, len(xs))
	if max == min {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	for i, x := range xs {
		out[i] = (x - min) / (max - min)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
