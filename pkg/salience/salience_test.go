package salience

import (
	"math"
	"testing"
	"time"
)

func TestRetrievabilityBounds(t *testing.T) {
	cases := []struct {
		name      string
		stability float64
		elapsed   float64
	}{
		{"fresh", 1.0, 0},
		{"one day", 1.0, 1},
		{"long decay", 1.0, 10000},
		{"high stability", 365, 30},
		{"negative elapsed", 1.0, -5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := Retrievability(tc.stability, tc.elapsed)
			if r < 0 || r > 1 {
				t.Errorf("retrievability %v out of [0,1]", r)
			}
		})
	}
}

func TestRetrievabilityAtZeroElapsed(t *testing.T) {
	if r := Retrievability(5.0, 0); r != 1.0 {
		t.Errorf("expected 1.0 at zero elapsed, got %v", r)
	}
}

func TestRetrievabilityNonPositiveStability(t *testing.T) {
	if r := Retrievability(0, 10); r != 0 {
		t.Errorf("expected 0 for zero stability, got %v", r)
	}
	if r := Retrievability(-1, 10); r != 0 {
		t.Errorf("expected 0 for negative stability, got %v", r)
	}
}

func TestRetrievabilityMonotoneInElapsed(t *testing.T) {
	prev := 1.1
	for _, days := range []float64{0, 1, 7, 30, 90, 365, 3650} {
		r := Retrievability(10, days)
		if r >= prev {
			t.Errorf("retrievability not strictly decreasing at %v days: %v >= %v", days, r, prev)
		}
		prev = r
	}
}

func TestRetrievabilityMonotoneInStability(t *testing.T) {
	low := Retrievability(1, 30)
	high := Retrievability(100, 30)
	if high <= low {
		t.Errorf("higher stability should retain more: %v <= %v", high, low)
	}
}

func TestRetrievabilityNinetyPercentAtStability(t *testing.T) {
	// Stability is defined as the interval at which retrievability is 90%.
	r := Retrievability(42, 42)
	if math.Abs(r-0.9) > 0.001 {
		t.Errorf("expected ~0.9 at elapsed == stability, got %v", r)
	}
}

func TestReinforceBoostsFadedMore(t *testing.T) {
	fresh, _, err := Reinforce(10, 5, 0, RatingGood)
	if err != nil {
		t.Fatalf("reinforce failed: %v", err)
	}
	faded, _, err := Reinforce(10, 5, 100, RatingGood)
	if err != nil {
		t.Fatalf("reinforce failed: %v", err)
	}
	if faded <= fresh {
		t.Errorf("faded memory should gain more stability: %v <= %v", faded, fresh)
	}
}

func TestReinforceEasyBeatsGood(t *testing.T) {
	good, _, err := Reinforce(10, 5, 30, RatingGood)
	if err != nil {
		t.Fatalf("reinforce failed: %v", err)
	}
	easy, _, err := Reinforce(10, 5, 30, RatingEasy)
	if err != nil {
		t.Fatalf("reinforce failed: %v", err)
	}
	if easy <= good {
		t.Errorf("easy rating should boost more: %v <= %v", easy, good)
	}
}

func TestReinforceClampsStability(t *testing.T) {
	s, _, err := Reinforce(MaxStability, 5, 10000, RatingEasy)
	if err != nil {
		t.Fatalf("reinforce failed: %v", err)
	}
	if s > MaxStability {
		t.Errorf("stability exceeded cap: %v", s)
	}
}

func TestReinforceDifficultyBounds(t *testing.T) {
	_, d, err := Reinforce(1, MaxDifficulty, 10000, RatingGood)
	if err != nil {
		t.Fatalf("reinforce failed: %v", err)
	}
	if d > MaxDifficulty {
		t.Errorf("difficulty exceeded cap: %v", d)
	}
	_, d, err = Reinforce(100000, MinDifficulty, 0.001, RatingGood)
	if err != nil {
		t.Fatalf("reinforce failed: %v", err)
	}
	if d < MinDifficulty {
		t.Errorf("difficulty below floor: %v", d)
	}
}

func TestReinforceUnknownRating(t *testing.T) {
	if _, _, err := Reinforce(1, 5, 1, Rating("amazing")); err == nil {
		t.Error("expected error for unknown rating")
	}
}

func TestNormalize(t *testing.T) {
	out := Normalize([]float64{2, 4, 6})
	want := []float64{0, 0.5, 1}
	for i := range want {
		if math.Abs(out[i]-want[i]) > 1e-9 {
			t.Errorf("normalize[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestNormalizeConstantBatch(t *testing.T) {
	for _, v := range Normalize([]float64{3, 3, 3}) {
		if v != 1.0 {
			t.Errorf("constant batch should normalize to 1.0, got %v", v)
		}
	}
}

func TestNormalizeEmpty(t *testing.T) {
	if out := Normalize(nil); len(out) != 0 {
		t.Errorf("expected empty output, got %v", out)
	}
}

func TestScorerPrefersSemanticRelevance(t *testing.T) {
	now := time.Now()
	scorer := NewScorer(Weights{}, 0)

	inputs := []Input{
		{SemanticScore: 0.9, UpdatedAt: now, Stability: 1},
		{SemanticScore: 0.1, UpdatedAt: now, Stability: 1},
	}
	out := scorer.Score(now, inputs)
	if out[0].Total <= out[1].Total {
		t.Errorf("more relevant input should score higher: %v <= %v", out[0].Total, out[1].Total)
	}
}

func TestScorerReinforcementBreaksTies(t *testing.T) {
	now := time.Now()
	recent := now.Add(-24 * time.Hour)
	scorer := NewScorer(Weights{}, 0)

	inputs := []Input{
		{SemanticScore: 0.5, UpdatedAt: now, Stability: 100, LastReinforcedAt: &recent},
		{SemanticScore: 0.5, UpdatedAt: now, Stability: 1},
	}
	out := scorer.Score(now, inputs)
	if out[0].Total <= out[1].Total {
		t.Errorf("reinforced memory should outrank: %v <= %v", out[0].Total, out[1].Total)
	}
}

func TestScorerEmptyBatch(t *testing.T) {
	scorer := NewScorer(Weights{}, 0)
	if out := scorer.Score(time.Now(), nil); out != nil {
		t.Errorf("expected nil for empty batch, got %v", out)
	}
}
