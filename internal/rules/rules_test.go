package rules

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/churnsight/churnsight/internal/ensemble"
	"github.com/churnsight/churnsight/internal/feature"
)

func prediction(tier ensemble.Tier, probability float64) ensemble.Prediction {
	decision := 0
	if probability >= ensemble.DecisionThreshold {
		decision = 1
	}
	return ensemble.Prediction{Model: "gbt", Probability: probability, Decision: decision, RiskTier: tier}
}

// bundleContains reports whether any item in any of the three sequences
// contains the fragment.
func bundleContains(b Bundle, fragment string) bool {
	for _, seq := range [][]Item{b.KeyInsights, b.Recommendations, b.ActionItems} {
		for _, item := range seq {
			if strings.Contains(item.Text, fragment) {
				return true
			}
		}
	}
	return false
}

func TestRecommend_Deterministic(t *testing.T) {
	en := NewEngine()
	p := feature.Profile{
		"age":          25.0,
		"credit_score": 580.0,
		"deposits":     1.0,
		"is_referred":  1.0,
		"payment_type": "weekly",
	}
	pred := prediction(ensemble.TierHigh, 0.82)

	a := en.Recommend(p, pred)
	b := en.Recommend(p, pred)

	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	if string(aj) != string(bj) {
		t.Errorf("identical inputs produced different bundles:\n%s\n%s", aj, bj)
	}

	// An unconsulted field must not change the output.
	p2 := feature.Profile{}
	for k, v := range p {
		p2[k] = v
	}
	p2["email"] = "someone@example.com"
	cj, _ := json.Marshal(en.Recommend(p2, pred))
	if string(aj) != string(cj) {
		t.Errorf("unrelated field changed the bundle:\n%s\n%s", aj, cj)
	}
}

func TestRecommend_NonExclusive(t *testing.T) {
	en := NewEngine()
	// Satisfies both the young+low-credit compound rule and the referral rules.
	p := feature.Profile{
		"age":          25.0,
		"credit_score": 450.0,
		"is_referred":  1.0,
	}
	b := en.Recommend(p, prediction(ensemble.TierHigh, 0.9))

	if !bundleContains(b, "thin credit profile at elevated churn risk") {
		t.Error("expected the young+low-credit compound fragment")
	}
	if !bundleContains(b, "joined through a referral") {
		t.Error("expected the referral fragment")
	}
	if !bundleContains(b, "ripple through the referral network") {
		t.Error("expected the referred-at-risk compound fragment")
	}
}

func TestRecommend_YoungLowCreditWithoutReferral(t *testing.T) {
	en := NewEngine()
	p := feature.Profile{
		"age":          25.0,
		"credit_score": 450.0,
		"is_referred":  0.0,
	}
	b := en.Recommend(p, prediction(ensemble.TierHigh, 0.9))

	if !bundleContains(b, "thin credit profile at elevated churn risk") {
		t.Error("expected the young+low-credit compound fragment")
	}
	if bundleContains(b, "referral") {
		t.Error("referral fragments must not appear for is_referred=0")
	}
}

func TestRecommend_MortgageBranchSwitch(t *testing.T) {
	en := NewEngine()
	base := feature.Profile{
		"housing":        "rented",
		"credit_score":   750.0,
		"waiting_4_loan": 1.0,
	}
	pred := prediction(ensemble.TierMedium, 0.5)

	withLoan := en.Recommend(base, pred)
	if !bundleContains(withLoan, "Accelerate mortgage processing") {
		t.Error("expected the accelerate-mortgage fragment with waiting_4_loan=1")
	}
	if bundleContains(withLoan, "Present mortgage opportunity") {
		t.Error("the two mortgage sub-branches must be mutually exclusive")
	}

	base["waiting_4_loan"] = 0.0
	withoutLoan := en.Recommend(base, pred)
	if !bundleContains(withoutLoan, "Present mortgage opportunity") {
		t.Error("expected the present-mortgage fragment with waiting_4_loan=0")
	}
	if bundleContains(withoutLoan, "Accelerate mortgage processing") {
		t.Error("the two mortgage sub-branches must be mutually exclusive")
	}
}

func TestRecommend_MortgageRequiresHighCreditRenter(t *testing.T) {
	en := NewEngine()
	pred := prediction(ensemble.TierLow, 0.1)

	owned := en.Recommend(feature.Profile{"housing": "o", "credit_score": 750.0}, pred)
	if bundleContains(owned, "mortgage") {
		t.Error("owners must not get mortgage fragments")
	}

	lowCredit := en.Recommend(feature.Profile{"housing": "r", "credit_score": 650.0}, pred)
	if bundleContains(lowCredit, "mortgage") {
		t.Error("sub-700 credit must not get mortgage fragments")
	}
}

func TestRecommend_RiskTierBaseline(t *testing.T) {
	en := NewEngine()

	high := en.Recommend(feature.Profile{}, prediction(ensemble.TierHigh, 0.9))
	if !bundleContains(high, "retention specialist") {
		t.Error("High tier should emit the escalation recommendation")
	}
	if len(high.ActionItems) != 2 {
		t.Errorf("High tier baseline should emit 2 actions, got %d", len(high.ActionItems))
	}

	low := en.Recommend(feature.Profile{}, prediction(ensemble.TierLow, 0.1))
	if !bundleContains(low, "regular engagement cadence") {
		t.Error("Low tier should emit the monitoring recommendation")
	}
	if len(low.ActionItems) != 0 {
		t.Errorf("Low tier baseline should emit no actions, got %d", len(low.ActionItems))
	}
}

func TestRecommend_LoanHistoryPrecedence(t *testing.T) {
	en := NewEngine()
	pred := prediction(ensemble.TierLow, 0.1)

	// Rejected wins over received when both are set.
	both := en.Recommend(feature.Profile{"rejected_loan": 1.0, "received_loan": 1.0}, pred)
	if !bundleContains(both, "loan rejection") {
		t.Error("expected the rejection fragment")
	}
	if bundleContains(both, "Active borrower") {
		t.Error("received branch must not fire when rejected fires")
	}

	waiting := en.Recommend(feature.Profile{"waiting_4_loan": 1.0}, pred)
	if !bundleContains(waiting, "awaiting a decision") {
		t.Error("expected the waiting fragment")
	}

	cancelled := en.Recommend(feature.Profile{"cancelled_loan": 1.0}, pred)
	if !bundleContains(cancelled, "cancelled a loan application") {
		t.Error("expected the cancelled fragment")
	}
}

func TestRecommend_MissingFieldsNeverSuppressOtherRules(t *testing.T) {
	en := NewEngine()

	// Garbage values everywhere; the engine must still emit the tier
	// baseline and must not panic.
	p := feature.Profile{
		"age":          "unknown",
		"credit_score": nil,
		"deposits":     []any{1, 2},
		"housing":      12.5,
	}
	b := en.Recommend(p, prediction(ensemble.TierMedium, 0.5))

	if !bundleContains(b, "proactive engagement campaign") {
		t.Error("tier baseline should fire despite malformed fields")
	}
	// No age/credit rules should fire off malformed values.
	if bundleContains(b, "credit health program") {
		t.Error("credit rule fired on a malformed credit_score")
	}
}

func TestRecommend_CategoriesTagged(t *testing.T) {
	en := NewEngine()
	b := en.Recommend(feature.Profile{"payment_type": "weekly"}, prediction(ensemble.TierHigh, 0.8))

	var sawCadence bool
	for _, item := range b.KeyInsights {
		if item.Category == CategoryPaymentCadence {
			sawCadence = true
		}
		if item.Category == "" {
			t.Error("every item must carry a category tag")
		}
	}
	if !sawCadence {
		t.Error("expected a payment_cadence insight")
	}
}

func TestRecommend_OrderFollowsRuleTable(t *testing.T) {
	en := NewEngine()
	p := feature.Profile{
		"credit_score": 550.0,
		"deposits":     1.0,
	}
	b := en.Recommend(p, prediction(ensemble.TierHigh, 0.8))

	// Tier baseline (rule 1) precedes credit (rule 4) precedes deposits (rule 5).
	var order []Category
	for _, item := range b.Recommendations {
		order = append(order, item.Category)
	}
	want := []Category{CategoryRiskTier, CategoryCreditScore, CategoryDeposits}
	if len(order) != len(want) {
		t.Fatalf("recommendations = %v, want 3 in rule order", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("recommendation %d category = %s, want %s", i, order[i], want[i])
		}
	}
}
