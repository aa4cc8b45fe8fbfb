// Package rules turns a scored customer profile into a categorized
// retention recommendation bundle.
//
// The engine is an ordered list of independent predicate rules. Every rule
// is evaluated on every call, top to bottom, with no short-circuiting and no
// mutual exclusion: a customer can be "young with low credit", "referred",
// and "on a stressful payment cadence" at the same time, and all three
// should surface. Output order therefore encodes rule priority.
//
// Determinism is a hard requirement: identical input produces byte-identical
// output. No rule may fail; a predicate over a missing or malformed field
// simply reads as false and the remaining rules still run.
package rules

import (
	"github.com/churnsight/churnsight/internal/ensemble"
	"github.com/churnsight/churnsight/internal/feature"
)

// Category tags every emitted item with the rule family that produced it.
// Rendering (language, formatting, channel) stays downstream; consumers get
// structured, taggable data.
type Category string

const (
	CategoryRiskTier        Category = "risk_tier"
	CategoryDigitalAdoption Category = "digital_adoption"
	CategoryInactivity      Category = "inactivity"
	CategoryCreditScore     Category = "credit_score"
	CategoryDeposits        Category = "deposits"
	CategoryPurchases       Category = "purchases"
	CategoryCreditCard      Category = "credit_card"
	CategoryLoanHistory     Category = "loan_history"
	CategoryRewards         Category = "rewards"
	CategoryReferral        Category = "referral"
	CategoryAgeBracket      Category = "age_bracket"
	CategoryCompound        Category = "compound"
	CategoryPaymentCadence  Category = "payment_cadence"
	CategoryMortgage        Category = "mortgage"
)

// Item is one tagged output string.
type Item struct {
	Category Category `json:"category"`
	Text     string   `json:"text"`
}

// Bundle is the engine's full output: three ordered sequences whose item
// order follows rule-evaluation order. Freshly allocated per call, never
// merged across customers.
type Bundle struct {
	KeyInsights     []Item `json:"key_insights"`
	Recommendations []Item `json:"recommendations"`
	ActionItems     []Item `json:"action_items"`
}

// emitter collects one rule's output under its category.
type emitter struct {
	category Category
	bundle   *Bundle
}

func (e *emitter) insight(text string) {
	e.bundle.KeyInsights = append(e.bundle.KeyInsights, Item{Category: e.category, Text: text})
}

func (e *emitter) recommend(text string) {
	e.bundle.Recommendations = append(e.bundle.Recommendations, Item{Category: e.category, Text: text})
}

func (e *emitter) action(text string) {
	e.bundle.ActionItems = append(e.bundle.ActionItems, Item{Category: e.category, Text: text})
}

// rule is one numbered entry of the evaluation order. apply inspects the
// profile and prediction and emits whatever its branches call for; a rule
// whose conditions do not hold emits nothing.
type rule struct {
	category Category
	apply    func(p feature.Profile, pred ensemble.Prediction, e *emitter)
}

// Engine evaluates the fixed rule table. Stateless and safe for concurrent
// use.
type Engine struct {
	rules []rule
}

// NewEngine builds the engine with the canonical rule table.
func NewEngine() *Engine {
	return &Engine{rules: ruleTable()}
}

// Recommend produces the bundle for one scored profile. The prediction is
// the primary model's result; the explanation is deliberately not consumed
// here.
func (en *Engine) Recommend(p feature.Profile, pred ensemble.Prediction) Bundle {
	var b Bundle
	for _, r := range en.rules {
		e := &emitter{category: r.category, bundle: &b}
		r.apply(p, pred, e)
	}
	return b
}

// atRisk is the shared gate for the compound rules: anything not Low.
func atRisk(pred ensemble.Prediction) bool {
	return pred.RiskTier == ensemble.TierMedium || pred.RiskTier == ensemble.TierHigh
}

// num reads the first present key as a number. Aliases absorb minor naming
// drift between upstream producers without loosening the miss-is-false rule.
func num(p feature.Profile, keys ...string) (float64, bool) {
	for _, k := range keys {
		if p.Has(k) {
			return p.Number(k)
		}
	}
	return 0, false
}

func flag(p feature.Profile, keys ...string) bool {
	for _, k := range keys {
		if p.Has(k) {
			return p.Flag(k)
		}
	}
	return false
}
