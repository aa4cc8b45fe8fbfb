// Package pipeline wires the four scoring stages into a single immutable
// value: normalize, score against both models, explain both scores, and
// derive the retention recommendation bundle.
//
// A Pipeline is built once at startup from loaded model artifacts and never
// mutated afterwards; concurrent requests share it without locking. Every
// per-request value is freshly allocated. The pipeline performs no I/O and
// has no internal blocking points; request queuing and timeouts belong to
// the transport layer above it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/churnsight/churnsight/internal/ensemble"
	"github.com/churnsight/churnsight/internal/explain"
	"github.com/churnsight/churnsight/internal/feature"
	"github.com/churnsight/churnsight/internal/logging"
	"github.com/churnsight/churnsight/internal/metrics"
	"github.com/churnsight/churnsight/internal/rules"
	"github.com/churnsight/churnsight/internal/traces"
)

// Result is everything one pipeline run produces for one profile.
type Result struct {
	Primary   ensemble.Prediction `json:"primary"`
	Secondary ensemble.Prediction `json:"secondary"`

	PrimaryExplanation   explain.Explanation `json:"primary_explanation"`
	SecondaryExplanation explain.Explanation `json:"secondary_explanation"`

	Bundle rules.Bundle `json:"recommendations"`

	// DefaultedFields names schema columns the normalizer had to fill
	// with defaults; callers surface it so silent input gaps stay visible.
	DefaultedFields []string `json:"defaulted_fields"`

	Vector feature.Vector `json:"-"`
}

// Pipeline owns the loaded artifacts and their derived structures.
type Pipeline struct {
	primary      *ensemble.Model
	secondary    *ensemble.Model
	primaryExp   *explain.Explainer
	secondaryExp *explain.Explainer
	engine       *rules.Engine
	logger       *slog.Logger
}

// ErrSchemaMismatch means the two artifacts disagree on their column lists,
// which would make their outputs incomparable.
var ErrSchemaMismatch = errors.New("primary and secondary models have different schemas")

// New assembles a pipeline from two loaded models. The attribution
// structures are built here, once, not per request.
func New(primary, secondary *ensemble.Model, logger *slog.Logger) (*Pipeline, error) {
	if primary == nil || secondary == nil {
		return nil, errors.New("pipeline requires two models")
	}
	if !primary.Schema.SameColumns(secondary.Schema) {
		return nil, ErrSchemaMismatch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		primary:      primary,
		secondary:    secondary,
		primaryExp:   explain.New(primary),
		secondaryExp: explain.New(secondary),
		engine:       rules.NewEngine(),
		logger:       logger,
	}, nil
}

// Load reads both model artifacts from dir and assembles the pipeline.
// Any artifact or schema problem is returned as-is: loading failures are
// fatal at startup, the process must not serve with half a pipeline.
func Load(dir, primaryName, secondaryName string, logger *slog.Logger) (*Pipeline, error) {
	primary, err := ensemble.Load(dir, primaryName)
	if err != nil {
		return nil, fmt.Errorf("load primary model %q: %w", primaryName, err)
	}
	secondary, err := ensemble.Load(dir, secondaryName)
	if err != nil {
		return nil, fmt.Errorf("load secondary model %q: %w", secondaryName, err)
	}
	return New(primary, secondary, logger)
}

// Run executes the four stages for one profile. It never fails on input
// shape: malformed attributes degrade to defaults and the caller always
// gets a scored, explained, recommended result.
func (pl *Pipeline) Run(ctx context.Context, profile feature.Profile) Result {
	ctx, span := traces.StartSpan(ctx, "pipeline.run", traces.FeatureCount(pl.primary.Schema.Len()))
	defer span.End()

	start := time.Now()
	vec, defaulted := feature.Normalize(profile, pl.primary.Schema)
	metrics.ObserveStage("normalize", start)
	for _, name := range defaulted {
		metrics.DefaultedFieldsTotal.WithLabelValues(name).Inc()
	}

	start = time.Now()
	primary := pl.mustScore(ctx, vec, pl.primary)
	secondary := pl.mustScore(ctx, vec, pl.secondary)
	metrics.ObserveStage("score", start)

	start = time.Now()
	primaryExp := pl.explainChecked(ctx, vec, pl.primary, pl.primaryExp)
	secondaryExp := pl.explainChecked(ctx, vec, pl.secondary, pl.secondaryExp)
	metrics.ObserveStage("explain", start)

	start = time.Now()
	bundle := pl.engine.Recommend(profile, primary)
	metrics.ObserveStage("recommend", start)
	countBundle(bundle)

	span.SetAttributes(
		traces.Probability(primary.Probability),
		traces.RiskTier(string(primary.RiskTier)),
	)

	return Result{
		Primary:              primary,
		Secondary:            secondary,
		PrimaryExplanation:   primaryExp,
		SecondaryExplanation: secondaryExp,
		Bundle:               bundle,
		DefaultedFields:      defaulted,
		Vector:               vec,
	}
}

// mustScore scores a vector that is correct by construction: Normalize
// guarantees the length, so a failure here is a programming error.
func (pl *Pipeline) mustScore(ctx context.Context, vec feature.Vector, m *ensemble.Model) ensemble.Prediction {
	pred, err := ensemble.Score(vec, m)
	if err != nil {
		// Unreachable with a schema-built vector; keep the request alive
		// with an explicit zero prediction rather than panicking.
		logging.L(ctx).Error("scoring failed on a schema-aligned vector",
			"model", m.Name, "error", err)
		return ensemble.Prediction{Model: m.Name, RiskTier: ensemble.TierFor(0)}
	}
	metrics.PredictionsTotal.WithLabelValues(m.Name, string(pred.RiskTier), fmt.Sprint(pred.Decision)).Inc()
	metrics.ChurnProbability.WithLabelValues(m.Name).Observe(pred.Probability)
	return pred
}

// explainChecked computes one model's attribution and verifies the
// reconstruction invariant. A violation is an internal defect: it is logged
// and counted, never surfaced to the caller, who still gets the values.
func (pl *Pipeline) explainChecked(ctx context.Context, vec feature.Vector, m *ensemble.Model, e *explain.Explainer) explain.Explanation {
	exp := e.Explain(vec)
	raw, err := m.RawScore(vec)
	if err != nil {
		logging.L(ctx).Error("raw score failed during attribution check", "model", m.Name, "error", err)
		return exp
	}
	if !exp.Reconstructs(raw) {
		metrics.AttributionCheckFailures.WithLabelValues(m.Name).Inc()
		logging.L(ctx).Error("attribution reconstruction invariant violated",
			"model", m.Name,
			"raw_score", raw,
			"base_value", exp.BaseValue,
		)
	}
	return exp
}

func countBundle(b rules.Bundle) {
	for _, seq := range [][]rules.Item{b.KeyInsights, b.Recommendations, b.ActionItems} {
		for _, item := range seq {
			metrics.RecommendationItemsTotal.WithLabelValues(string(item.Category)).Inc()
		}
	}
}

// Schema returns the shared feature schema.
func (pl *Pipeline) Schema() *feature.Schema {
	return pl.primary.Schema
}

// ModelInfo describes one loaded artifact for the model-info endpoint.
type ModelInfo struct {
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	TreeCount int     `json:"tree_count"`
	BaseValue float64 `json:"base_value"`
}

// Models describes the loaded artifacts, primary first.
func (pl *Pipeline) Models() []ModelInfo {
	return []ModelInfo{
		{Name: pl.primary.Name, Kind: string(pl.primary.Kind), TreeCount: len(pl.primary.Trees), BaseValue: pl.primaryExp.BaseValue()},
		{Name: pl.secondary.Name, Kind: string(pl.secondary.Kind), TreeCount: len(pl.secondary.Trees), BaseValue: pl.secondaryExp.BaseValue()},
	}
}
