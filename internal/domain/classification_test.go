package domain

import "testing"

func TestParseIntent(t *testing.T) {
	if got := ParseIntent("recommendation"); got != IntentRecommendation {
		t.Errorf("ParseIntent(recommendation) = %s", got)
	}
	if got := ParseIntent("product_talk"); got != IntentUnknown {
		t.Errorf("unrecognised intent should map to unknown, got %s", got)
	}
	if got := ParseIntent(""); got != IntentUnknown {
		t.Errorf("empty intent should map to unknown, got %s", got)
	}
}

func TestParseRiskLevel(t *testing.T) {
	if got := ParseRiskLevel("critical"); got != RiskCritical {
		t.Errorf("ParseRiskLevel(critical) = %s", got)
	}
	// Bad model output must never land in the low bucket.
	if got := ParseRiskLevel("none"); got != RiskMedium {
		t.Errorf("unrecognised risk level = %s, want medium", got)
	}
}

func TestClassificationNormalize(t *testing.T) {
	tests := []struct {
		name       string
		in         Classification
		minConf    float64
		wantIntent Intent
		wantConf   float64
		wantRisk   RiskLevel
	}{
		{
			name:       "low confidence collapses intent to unknown",
			in:         Classification{Intent: IntentRecommendation, Confidence: 0.4, RiskLevel: RiskLow},
			minConf:    0.5,
			wantIntent: IntentUnknown,
			wantConf:   0.4,
			wantRisk:   RiskLow,
		},
		{
			name:       "confidence above floor is kept",
			in:         Classification{Intent: IntentRecommendation, Confidence: 0.92, RiskLevel: RiskLow},
			minConf:    0.5,
			wantIntent: IntentRecommendation,
			wantConf:   0.92,
			wantRisk:   RiskLow,
		},
		{
			name:       "confidence clamped into range",
			in:         Classification{Intent: IntentSpam, Confidence: 1.7, RiskLevel: RiskLow},
			minConf:    0.5,
			wantIntent: IntentSpam,
			wantConf:   1.0,
			wantRisk:   RiskLow,
		},
		{
			name:       "bad enums coerced",
			in:         Classification{Intent: "chitchat", Confidence: 0.9, RiskLevel: "extreme"},
			minConf:    0.5,
			wantIntent: IntentUnknown,
			wantConf:   0.9,
			wantRisk:   RiskMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.in
			c.Normalize(tt.minConf)
			if c.Intent != tt.wantIntent {
				t.Errorf("intent = %s, want %s", c.Intent, tt.wantIntent)
			}
			if c.Confidence != tt.wantConf {
				t.Errorf("confidence = %v, want %v", c.Confidence, tt.wantConf)
			}
			if c.RiskLevel != tt.wantRisk {
				t.Errorf("risk = %s, want %s", c.RiskLevel, tt.wantRisk)
			}
		})
	}
}

func TestFallbackClassificationBiasesTowardReview(t *testing.T) {
	c := FallbackClassification("parse error")
	if c.Intent != IntentUnknown {
		t.Errorf("intent = %s, want unknown", c.Intent)
	}
	if c.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5", c.Confidence)
	}
	if c.RiskLevel != RiskMedium {
		t.Errorf("risk = %s, want medium", c.RiskLevel)
	}
	if !c.ShouldEscalate {
		t.Error("fallback classification must set should_escalate")
	}
}
