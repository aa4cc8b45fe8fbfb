// Package ensemble loads pre-trained tree-ensemble artifacts and scores
// feature vectors against them.
//
// Two model families are supported: gradient-boosted trees ("gbt"), whose
// leaves hold margins summed into a sigmoid, and bagged probability forests
// ("forest"), whose leaves hold class-1 probabilities averaged across trees.
// Artifacts are immutable after load and shared lock-free across requests.
package ensemble

import (
	"errors"
	"fmt"
	"math"

	"github.com/churnsight/churnsight/internal/feature"
)

// Kind identifies the model family, which determines how raw scores map to
// probabilities.
type Kind string

const (
	// KindBoosted sums leaf margins over base_score; probability is
	// sigmoid(raw score).
	KindBoosted Kind = "gbt"
	// KindForest averages leaf probabilities; raw score and probability
	// are the same value.
	KindForest Kind = "forest"
)

// Policy thresholds. Fixed constants, not learned, and deliberately shared
// by both models so their outputs stay comparable.
const (
	DecisionThreshold = 0.5
	MediumTierBound   = 0.3
	HighTierBound     = 0.7
)

// Tier buckets a continuous churn probability into three coarse levels.
type Tier string

const (
	TierLow    Tier = "Low"
	TierMedium Tier = "Medium"
	TierHigh   Tier = "High"
)

// TierFor maps a probability to its risk tier. Boundaries are inclusive on
// the upper side: exactly 0.3 is Medium, exactly 0.7 is High.
func TierFor(probability float64) Tier {
	switch {
	case probability >= HighTierBound:
		return TierHigh
	case probability >= MediumTierBound:
		return TierMedium
	default:
		return TierLow
	}
}

// Prediction is one model's verdict on one feature vector.
type Prediction struct {
	Model       string  `json:"model"`
	Probability float64 `json:"probability"`
	Decision    int     `json:"decision"`
	RiskTier    Tier    `json:"risk_tier"`
}

// Tree is a single decision tree in node-array form. Node 0 is the root;
// a node is a leaf iff Left == -1. Internal nodes route x[SplitFeature] <
// Threshold to Left, otherwise Right. Cover is the training-sample weight
// that reached each node and drives attribution expectations.
type Tree struct {
	SplitFeature []int
	Threshold    []float64
	Left         []int
	Right        []int
	Value        []float64
	Cover        []float64
}

// Leaf walks the tree for x and returns the leaf index reached.
func (t *Tree) Leaf(x []float64) int {
	node := 0
	for t.Left[node] != -1 {
		if x[t.SplitFeature[node]] < t.Threshold[node] {
			node = t.Left[node]
		} else {
			node = t.Right[node]
		}
	}
	return node
}

// Model is an immutable, loaded tree ensemble plus the schema it was
// trained against.
type Model struct {
	Name      string
	Kind      Kind
	BaseScore float64
	Trees     []Tree
	Schema    *feature.Schema
}

var ErrVectorLength = errors.New("vector length does not match model schema")

// RawScore computes the model's raw output for a schema-aligned vector:
// margin space for boosted models, probability space for forests. This is
// the value the attribution engine's reconstruction invariant targets.
func (m *Model) RawScore(x feature.Vector) (float64, error) {
	if len(x) != m.Schema.Len() {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrVectorLength, len(x), m.Schema.Len())
	}
	switch m.Kind {
	case KindForest:
		sum := 0.0
		for i := range m.Trees {
			t := &m.Trees[i]
			sum += t.Value[t.Leaf(x)]
		}
		return sum / float64(len(m.Trees)), nil
	default:
		raw := m.BaseScore
		for i := range m.Trees {
			t := &m.Trees[i]
			raw += t.Value[t.Leaf(x)]
		}
		return raw, nil
	}
}

// Probability computes the class-1 churn probability for a vector.
func (m *Model) Probability(x feature.Vector) (float64, error) {
	raw, err := m.RawScore(x)
	if err != nil {
		return 0, err
	}
	if m.Kind == KindBoosted {
		return sigmoid(raw), nil
	}
	return raw, nil
}

// Score runs one model over one vector and applies the policy thresholds.
// Pure: same vector and model always produce the same result.
func Score(x feature.Vector, m *Model) (Prediction, error) {
	p, err := m.Probability(x)
	if err != nil {
		return Prediction{}, err
	}
	decision := 0
	if p >= DecisionThreshold {
		decision = 1
	}
	return Prediction{
		Model:       m.Name,
		Probability: p,
		Decision:    decision,
		RiskTier:    TierFor(p),
	}, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
