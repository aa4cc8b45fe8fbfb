// Package explain decomposes a model's raw score into exact per-feature
// contributions.
//
// The algorithm is polynomial-time TreeSHAP over the ensemble's trees: each
// tree's output is attributed across the features on the decision path,
// weighted by the training cover of the branches not taken, and a base value
// collects each tree's cover-weighted expectation. The decomposition is
// exact: base value plus the sum of attributions reconstructs the raw score
// to floating-point precision, which is what makes the numbers defensible
// when someone asks why a score moved.
package explain

import (
	"math"

	"github.com/churnsight/churnsight/internal/ensemble"
	"github.com/churnsight/churnsight/internal/feature"
)

// Explanation is one model's attribution for one vector. Attributions are
// index-aligned with the vector's schema, so consumers can zip
// (name, value, attribution) without remapping.
type Explanation struct {
	BaseValue    float64   `json:"base_value"`
	Attributions []float64 `json:"attributions"`
}

// Explainer holds the per-model structures the attribution walk needs.
// Build one per model at artifact load; rebuilding per request is the
// single largest avoidable cost in the pipeline. Explainers are immutable
// and reentrant: all per-call scratch lives on the call stack.
type Explainer struct {
	model *ensemble.Model
	base  float64
	scale float64
}

// New precomputes each tree's expectation and the combined base value for
// the model's output space (margin for boosted models, probability for
// forests).
func New(m *ensemble.Model) *Explainer {
	scale := 1.0
	if m.Kind == ensemble.KindForest {
		scale = 1 / float64(len(m.Trees))
	}

	base := 0.0
	if m.Kind == ensemble.KindBoosted {
		base = m.BaseScore
	}
	for i := range m.Trees {
		base += treeExpectation(&m.Trees[i], 0) * scale
	}

	return &Explainer{model: m, base: base, scale: scale}
}

// BaseValue returns the expectation-of-output the attributions are measured
// against.
func (e *Explainer) BaseValue() float64 {
	return e.base
}

// Explain computes the attribution vector for one schema-aligned input.
// Invariant: BaseValue + sum(Attributions) equals the model's raw score for
// x within floating-point tolerance.
func (e *Explainer) Explain(x feature.Vector) Explanation {
	phi := make([]float64, e.model.Schema.Len())
	for i := range e.model.Trees {
		treeShap(&e.model.Trees[i], x, phi, e.scale)
	}
	return Explanation{BaseValue: e.base, Attributions: phi}
}

// Reconstructs checks the additivity invariant against a raw score. The
// tolerance is relative for large scores and absolute near zero.
func (exp Explanation) Reconstructs(rawScore float64) bool {
	sum := exp.BaseValue
	for _, a := range exp.Attributions {
		sum += a
	}
	tolerance := 1e-6 * math.Max(1, math.Abs(rawScore))
	return math.Abs(sum-rawScore) <= tolerance
}

// treeExpectation is the cover-weighted mean leaf value below node.
func treeExpectation(t *ensemble.Tree, node int) float64 {
	if t.Left[node] == -1 {
		return t.Value[node]
	}
	l, r := t.Left[node], t.Right[node]
	return (t.Cover[l]*treeExpectation(t, l) + t.Cover[r]*treeExpectation(t, r)) / t.Cover[node]
}
