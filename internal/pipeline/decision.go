package pipeline

import "replypilot/internal/domain"

// EvaluateRouting decides whether a verified draft ships autonomously or
// waits for a human. Pure function of its inputs; rules are checked in order
// and the first match wins:
//
//  1. global human-review override
//  2. a critical risk flag
//  3. high or critical risk level
//  4. verifier ESCALATE verdict
//  5. autonomous send, only when the intent is in the safe set, classifier
//     confidence clears the floor, risk is low, and the verifier passed
//
// Anything that fails rule 5 falls back to human review.
func EvaluateRouting(c domain.Classification, v domain.Verification, p domain.Policy) domain.RoutingDecision {
	review := domain.RoutingDecision{RequiresHumanReview: true}

	if p.RequireHumanReview {
		return review
	}
	if p.HasCriticalFlag(c.RiskFlags) {
		return review
	}
	if c.RiskLevel == domain.RiskHigh || c.RiskLevel == domain.RiskCritical {
		return review
	}
	if v.Verdict == domain.VerdictEscalate {
		return review
	}
	if p.IsSafeIntent(c.Intent) &&
		c.Confidence >= p.AutonomyConfidenceFloor &&
		c.RiskLevel == domain.RiskLow &&
		v.Verdict == domain.VerdictPass {
		return domain.RoutingDecision{AutonomousSendAllowed: true}
	}
	return review
}
