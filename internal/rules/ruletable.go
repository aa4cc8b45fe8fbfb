package rules

import (
	"github.com/churnsight/churnsight/internal/ensemble"
	"github.com/churnsight/churnsight/internal/feature"
)

// ruleTable is the canonical, numbered evaluation order. Changing the order
// changes output priority, so additions go at the end of their section.
func ruleTable() []rule {
	return []rule{
		// 1. Risk-tier baseline framing.
		{CategoryRiskTier, func(p feature.Profile, pred ensemble.Prediction, e *emitter) {
			switch pred.RiskTier {
			case ensemble.TierHigh:
				e.recommend("Assign a dedicated retention specialist for immediate outreach")
				e.action("Schedule a personal retention call within 24 hours")
				e.action("Prepare a tailored retention offer before first contact")
			case ensemble.TierMedium:
				e.recommend("Enroll the customer in a proactive engagement campaign")
				e.action("Send a personalized check-in within the next week")
			case ensemble.TierLow:
				e.recommend("Maintain the regular engagement cadence and monitor for changes")
			}
		}},

		// 2. Digital-channel adoption.
		{CategoryDigitalAdoption, func(p feature.Profile, pred ensemble.Prediction, e *emitter) {
			if p.Has("app_downloaded") && !flag(p, "app_downloaded") {
				e.recommend("Promote the mobile app to deepen day-to-day engagement")
				e.action("Send an app download link with an onboarding incentive")
			}
		}},

		// 3. Inactivity / re-engagement.
		{CategoryInactivity, func(p feature.Profile, pred ensemble.Prediction, e *emitter) {
			if flag(p, "left_for_one_month") || flag(p, "left_for_two_month_plus") {
				e.insight("Customer has had a recent period of account inactivity")
				e.recommend("Launch a re-engagement campaign before the lapse becomes permanent")
				e.action("Trigger the win-back email sequence")
			}
		}},

		// 4. Credit-score tiering.
		{CategoryCreditScore, func(p feature.Profile, pred ensemble.Prediction, e *emitter) {
			score, ok := num(p, "credit_score")
			if !ok {
				return
			}
			if score < 600 {
				e.recommend("Offer credit-building products and financial guidance")
				e.action("Invite the customer to the credit health program")
			} else if score > 750 {
				e.recommend("Position premium products for this excellent credit profile")
				e.action("Flag for premium card pre-approval outreach")
			}
		}},

		// 5. Deposit activity.
		{CategoryDeposits, func(p feature.Profile, pred ensemble.Prediction, e *emitter) {
			if v, ok := num(p, "deposits"); ok && v < 3 {
				e.insight("Low deposit activity signals weak account engagement")
				e.recommend("Encourage direct deposit enrollment")
				e.action("Offer a deposit activation bonus")
			}
		}},

		// 6. Purchase activity.
		{CategoryPurchases, func(p feature.Profile, pred ensemble.Prediction, e *emitter) {
			if v, ok := num(p, "purchases"); ok && v < 10 {
				e.recommend("Stimulate card usage with targeted cashback offers")
				e.action("Enroll the customer in a spend-incentive campaign")
			}
		}},

		// 7. Credit-card sentiment.
		{CategoryCreditCard, func(p feature.Profile, pred ensemble.Prediction, e *emitter) {
			score, hasScore := num(p, "credit_score")
			if flag(p, "cc_disliked") {
				e.insight("Customer has expressed dissatisfaction with the credit card product")
				e.recommend("Review the card's fit and present an alternative product")
				e.action("Collect structured feedback on the card experience")
			} else if p.Has("cc_taken") && !flag(p, "cc_taken") && hasScore && score > 650 {
				e.recommend("Offer a credit card matched to the customer's strong credit profile")
				e.action("Queue a pre-qualified card offer")
			}
		}},

		// 8. Loan-history outcome: rejected, received, waiting, cancelled.
		{CategoryLoanHistory, func(p feature.Profile, pred ensemble.Prediction, e *emitter) {
			switch {
			case flag(p, "rejected_loan"):
				e.insight("A past loan rejection may be driving disengagement")
				e.recommend("Offer alternative financing paths and a reapplication roadmap")
				e.action("Schedule a lending specialist follow-up")
			case flag(p, "received_loan"):
				e.insight("Active borrower with an established lending relationship")
				e.recommend("Cross-sell complementary products around the existing loan")
			case flag(p, "waiting_4_loan", "waiting_for_loan"):
				e.insight("Customer has a loan application awaiting a decision")
				e.recommend("Expedite the pending loan decision")
				e.action("Escalate the pending application to underwriting")
			case flag(p, "cancelled_loan"):
				e.insight("Customer cancelled a loan application before completion")
				e.recommend("Follow up to understand why the loan was abandoned")
			}
		}},

		// 9. Rewards engagement.
		{CategoryRewards, func(p feature.Profile, pred ensemble.Prediction, e *emitter) {
			v, ok := num(p, "rewards_earned")
			if !ok {
				return
			}
			if v < 50 {
				e.recommend("Introduce the rewards program and its nearest milestones")
				e.action("Grant a starter rewards boost")
			} else if v > 500 {
				e.insight("Highly engaged rewards earner")
				e.recommend("Offer a rewards tier upgrade to lock in loyalty")
			}
		}},

		// 10. Referral status.
		{CategoryReferral, func(p feature.Profile, pred ensemble.Prediction, e *emitter) {
			if flag(p, "is_referred") {
				e.insight("Customer joined through a referral")
				e.recommend("Leverage the referral relationship in retention outreach")
			}
		}},

		// 11. Age-bracket framing.
		{CategoryAgeBracket, func(p feature.Profile, pred ensemble.Prediction, e *emitter) {
			age, ok := num(p, "age")
			if !ok {
				return
			}
			if age < 30 {
				e.recommend("Emphasize digital-first features and the mobile experience")
				e.action("Target outreach through social and in-app channels")
			} else if age > 50 {
				e.recommend("Emphasize security, stability, and personal service")
				e.action("Offer a phone consultation with a personal advisor")
			}
		}},

		// 12. Compound: young customer with a thin credit file, at risk.
		{CategoryCompound, func(p feature.Profile, pred ensemble.Prediction, e *emitter) {
			age, okAge := num(p, "age")
			score, okScore := num(p, "credit_score")
			if okAge && okScore && age < 30 && score < 600 && atRisk(pred) {
				e.insight("Young customer with a thin credit profile at elevated churn risk")
				e.recommend("Bundle a credit-builder product with starter benefits")
				e.recommend("Pair outreach with financial-literacy content tuned to younger customers")
				e.action("Offer a secured card with guided credit-building milestones")
				e.action("Assign the customer to the early-tenure nurture track")
			}
		}},

		// 13. Compound: senior customer at risk.
		{CategoryCompound, func(p feature.Profile, pred ensemble.Prediction, e *emitter) {
			if age, ok := num(p, "age"); ok && age > 60 && atRisk(pred) {
				e.insight("Senior customer showing churn risk")
				e.recommend("Provide high-touch personal service over digital nudges")
				e.action("Schedule an advisor call with the senior-services team")
			}
		}},

		// 14. Compound: very low credit score, at risk.
		{CategoryCompound, func(p feature.Profile, pred ensemble.Prediction, e *emitter) {
			if score, ok := num(p, "credit_score"); ok && score < 400 && atRisk(pred) {
				e.insight("Severely distressed credit profile combined with churn risk")
				e.recommend("Offer financial hardship support options")
				e.action("Refer the customer to the financial wellness team")
			}
		}},

		// 15. Compound: low partner-network activity, at risk.
		{CategoryCompound, func(p feature.Profile, pred ensemble.Prediction, e *emitter) {
			if v, ok := num(p, "purchases_partners"); ok && v < 3 && atRisk(pred) {
				e.insight("Low partner-network activity for an at-risk customer")
				e.recommend("Showcase partner merchant benefits")
				e.action("Send targeted partner offers based on spending profile")
			}
		}},

		// 16. Compound: referred customer at risk. Churn here can ripple
		// back through the referral network.
		{CategoryCompound, func(p feature.Profile, pred ensemble.Prediction, e *emitter) {
			if flag(p, "is_referred") && atRisk(pred) {
				e.insight("Referred customer at risk; churn may ripple through the referral network")
				e.recommend("Prioritize retention to protect the referral chain")
			}
		}},

		// 17. Compound: stable high-credit customer, ambassador candidate.
		{CategoryCompound, func(p feature.Profile, pred ensemble.Prediction, e *emitter) {
			score, ok := num(p, "credit_score")
			if ok && score > 700 && pred.RiskTier == ensemble.TierLow {
				e.insight("Stable, high-credit customer and a strong ambassador candidate")
				e.recommend("Invite the customer to the referral ambassador program")
			}
		}},

		// 18. Payment cadence stress.
		{CategoryPaymentCadence, func(p feature.Profile, pred ensemble.Prediction, e *emitter) {
			if p.Text("payment_type") == "weekly" && atRisk(pred) {
				e.insight("Weekly payment cadence can add financial stress")
				e.recommend("Offer flexible payment scheduling")
				e.action("Propose switching to a bi-weekly or monthly cadence")
			}
		}},

		// 19. Mortgage opportunity for high-credit renters. The two
		// sub-branches are mutually exclusive by design.
		{CategoryMortgage, func(p feature.Profile, pred ensemble.Prediction, e *emitter) {
			housing := p.Text("housing")
			score, ok := num(p, "credit_score")
			if (housing != "r" && housing != "rented") || !ok || score <= 700 {
				return
			}
			if flag(p, "waiting_4_loan", "waiting_for_loan") {
				e.insight("High-credit renter with a mortgage-relevant loan application pending")
				e.recommend("Accelerate mortgage processing for this pre-qualified renter")
				e.action("Fast-track the pending mortgage application")
			} else {
				e.recommend("Present mortgage opportunity to this strong-credit renter")
				e.action("Send a personalized mortgage pre-qualification offer")
			}
		}},
	}
}
