package domain

// Intent is the classified purpose of an inbound message.
type Intent string

const (
	IntentAvailability   Intent = "availability"
	IntentRoutineUsage   Intent = "routine_usage"
	IntentShadeColor     Intent = "shade_color"
	IntentDeliveryReturn Intent = "delivery_return"
	IntentComplaint      Intent = "complaint"
	IntentWhereToBuy     Intent = "where_to_buy"
	IntentIngredients    Intent = "ingredients"
	IntentRecommendation Intent = "recommendation"
	IntentSpam           Intent = "spam"
	IntentUnknown        Intent = "unknown"
)

var knownIntents = map[Intent]bool{
	IntentAvailability:   true,
	IntentRoutineUsage:   true,
	IntentShadeColor:     true,
	IntentDeliveryReturn: true,
	IntentComplaint:      true,
	IntentWhereToBuy:     true,
	IntentIngredients:    true,
	IntentRecommendation: true,
	IntentSpam:           true,
	IntentUnknown:        true,
}

// ParseIntent maps a raw string to a known intent, falling back to unknown.
func ParseIntent(s string) Intent {
	if knownIntents[Intent(s)] {
		return Intent(s)
	}
	return IntentUnknown
}

// RiskLevel is the derived severity of a message's risk flags.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ParseRiskLevel maps a raw string to a known risk level. Anything
// unrecognised is treated as medium so that bad model output never
// lands in the low bucket.
func ParseRiskLevel(s string) RiskLevel {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return RiskLevel(s)
	}
	return RiskMedium
}

// Classification is the intent/risk assessment for one message.
// Produced exactly once per pipeline run and immutable afterwards.
type Classification struct {
	Intent         Intent    `json:"intent"`
	Confidence     float64   `json:"intent_confidence"` // [0,1]
	RiskFlags      []string  `json:"risk_flags,omitempty"`
	RiskLevel      RiskLevel `json:"risk_level"`
	Language       string    `json:"language,omitempty"`
	MoveToPrivate  bool      `json:"should_dm"`
	ShouldEscalate bool      `json:"should_escalate"`
	Reasoning      string    `json:"reasoning,omitempty"`
}

// Normalize clamps confidence into [0,1], coerces unknown enum values, and
// applies the minimum-confidence rule: below minConfidence the intent is not
// trusted and collapses to unknown.
func (c *Classification) Normalize(minConfidence float64) {
	if c.Confidence < 0 {
		c.Confidence = 0
	}
	if c.Confidence > 1 {
		c.Confidence = 1
	}
	c.Intent = ParseIntent(string(c.Intent))
	c.RiskLevel = ParseRiskLevel(string(c.RiskLevel))
	if c.Confidence < minConfidence {
		c.Intent = IntentUnknown
	}
}

// FallbackClassification is the conservative substitute used when the
// classifier capability fails or returns unparseable output. It always
// biases toward human review, never toward autonomy.
func FallbackClassification(reason string) Classification {
	return Classification{
		Intent:         IntentUnknown,
		Confidence:     0.5,
		RiskLevel:      RiskMedium,
		ShouldEscalate: true,
		Reasoning:      reason,
	}
}
