package domain

// Policy is the immutable routing configuration fed into the decision engine.
// It is built once at startup from the policy file and passed by value so the
// decision function stays pure.
type Policy struct {
	// RequireHumanReview globally forces every message into review.
	RequireHumanReview bool

	// CriticalRiskFlags auto-escalate regardless of anything else.
	CriticalRiskFlags []string

	// SafeAutopilotIntents are the only intents eligible for autonomous send.
	SafeAutopilotIntents []Intent

	// MoveToPrivateIntents mark comment threads worth converting to a DM.
	MoveToPrivateIntents []Intent

	// AutonomyConfidenceFloor is the minimum classifier confidence for
	// autonomous send.
	AutonomyConfidenceFloor float64

	// MinClassifierConfidence is the floor below which an intent collapses
	// to unknown.
	MinClassifierConfidence float64
}

// HasCriticalFlag reports whether any of the given flags is in the critical set.
func (p Policy) HasCriticalFlag(flags []string) bool {
	for _, f := range flags {
		for _, c := range p.CriticalRiskFlags {
			if f == c {
				return true
			}
		}
	}
	return false
}

// IsSafeIntent reports whether the intent is eligible for autonomous handling.
func (p Policy) IsSafeIntent(intent Intent) bool {
	for _, s := range p.SafeAutopilotIntents {
		if s == intent {
			return true
		}
	}
	return false
}

// IsPrivateIntent reports whether the intent warrants comment-to-DM conversion.
func (p Policy) IsPrivateIntent(intent Intent) bool {
	for _, s := range p.MoveToPrivateIntents {
		if s == intent {
			return true
		}
	}
	return false
}

// RoutingDecision is the terminal routing outcome for one message. The two
// fields are mutually exclusive when true: an autonomous send never requires
// review, and anything not autonomous always does.
type RoutingDecision struct {
	RequiresHumanReview   bool `json:"requires_human_review"`
	AutonomousSendAllowed bool `json:"autonomous_send_allowed"`
}
