package ensemble

import (
	"math"
	"testing"

	"github.com/churnsight/churnsight/internal/feature"
)

func newTestSchema(t *testing.T, names ...string) *feature.Schema {
	t.Helper()
	cols := make([]feature.Column, len(names))
	for i, n := range names {
		cols[i] = feature.Column{Name: n, Kind: feature.KindNumeric}
	}
	s, err := feature.NewSchema(cols)
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return s
}

// leafTree builds a single-node tree that always returns v.
func leafTree(v float64) Tree {
	return Tree{
		SplitFeature: []int{-1},
		Threshold:    []float64{0},
		Left:         []int{-1},
		Right:        []int{-1},
		Value:        []float64{v},
		Cover:        []float64{100},
	}
}

// stumpTree builds a one-split tree on the given feature: x[f] < threshold
// yields left, otherwise right.
func stumpTree(f int, threshold, left, right, coverLeft, coverRight float64) Tree {
	return Tree{
		SplitFeature: []int{f, -1, -1},
		Threshold:    []float64{threshold, 0, 0},
		Left:         []int{1, -1, -1},
		Right:        []int{2, -1, -1},
		Value:        []float64{0, left, right},
		Cover:        []float64{coverLeft + coverRight, coverLeft, coverRight},
	}
}

func TestTierFor_BoundaryExactness(t *testing.T) {
	tests := []struct {
		probability float64
		want        Tier
	}{
		{0.0, TierLow},
		{0.29999, TierLow},
		{0.3, TierMedium},
		{0.5, TierMedium},
		{0.69999, TierMedium},
		{0.7, TierHigh},
		{1.0, TierHigh},
	}

	for _, tt := range tests {
		if got := TierFor(tt.probability); got != tt.want {
			t.Errorf("TierFor(%v) = %s, want %s", tt.probability, got, tt.want)
		}
	}
}

func TestScore_DecisionBoundary(t *testing.T) {
	schema := newTestSchema(t, "a")

	tests := []struct {
		probability float64
		want        int
	}{
		{0.49999, 0},
		{0.5, 1},
		{0.50001, 1},
	}

	for _, tt := range tests {
		// A one-leaf forest emits its leaf probability exactly.
		m := &Model{Name: "forest", Kind: KindForest, Trees: []Tree{leafTree(tt.probability)}, Schema: schema}
		pred, err := Score(feature.Vector{0}, m)
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if pred.Probability != tt.probability {
			t.Errorf("probability = %v, want %v", pred.Probability, tt.probability)
		}
		if pred.Decision != tt.want {
			t.Errorf("decision at p=%v is %d, want %d", tt.probability, pred.Decision, tt.want)
		}
	}
}

func TestModel_BoostedRawScore(t *testing.T) {
	schema := newTestSchema(t, "credit_score", "age")
	m := &Model{
		Name:      "gbt",
		Kind:      KindBoosted,
		BaseScore: 0.1,
		Trees: []Tree{
			stumpTree(0, 600, 0.8, -0.5, 60, 40),
			stumpTree(1, 30, 0.3, -0.2, 30, 70),
		},
		Schema: schema,
	}

	// credit_score 550 -> left (0.8); age 45 -> right (-0.2).
	raw, err := m.RawScore(feature.Vector{550, 45})
	if err != nil {
		t.Fatalf("RawScore: %v", err)
	}
	want := 0.1 + 0.8 - 0.2
	if math.Abs(raw-want) > 1e-12 {
		t.Errorf("raw = %v, want %v", raw, want)
	}

	p, err := m.Probability(feature.Vector{550, 45})
	if err != nil {
		t.Fatalf("Probability: %v", err)
	}
	if math.Abs(p-sigmoid(want)) > 1e-12 {
		t.Errorf("probability = %v, want sigmoid(%v)", p, want)
	}
}

func TestModel_ForestProbability(t *testing.T) {
	schema := newTestSchema(t, "credit_score")
	m := &Model{
		Name: "forest",
		Kind: KindForest,
		Trees: []Tree{
			stumpTree(0, 600, 0.9, 0.2, 50, 50),
			leafTree(0.5),
		},
		Schema: schema,
	}

	p, err := m.Probability(feature.Vector{700})
	if err != nil {
		t.Fatalf("Probability: %v", err)
	}
	want := (0.2 + 0.5) / 2
	if math.Abs(p-want) > 1e-12 {
		t.Errorf("probability = %v, want %v", p, want)
	}
}

func TestModel_VectorLengthMismatch(t *testing.T) {
	schema := newTestSchema(t, "a", "b")
	m := &Model{Name: "gbt", Kind: KindBoosted, Trees: []Tree{leafTree(0)}, Schema: schema}

	if _, err := m.RawScore(feature.Vector{1}); err == nil {
		t.Error("expected error for short vector")
	}
	if _, err := Score(feature.Vector{1, 2, 3}, m); err == nil {
		t.Error("expected error for long vector")
	}
}

func TestTree_Leaf(t *testing.T) {
	tr := stumpTree(0, 10, 1, 2, 5, 5)

	if leaf := tr.Leaf([]float64{9.999}); leaf != 1 {
		t.Errorf("x < threshold routed to node %d, want 1", leaf)
	}
	// Split comparison is strict less-than: the threshold itself goes right.
	if leaf := tr.Leaf([]float64{10}); leaf != 2 {
		t.Errorf("x == threshold routed to node %d, want 2", leaf)
	}
}
