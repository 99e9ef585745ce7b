package capability

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"replypilot/internal/domain"
)

// Deterministic stub capabilities. They implement the same interfaces as the
// live OpenAI-backed ones and are used offline and in tests: identical input
// always yields identical output, which is what makes pipeline runs
// replayable without a model.

// StubClassifier classifies by keyword rules.
type StubClassifier struct{}

func (StubClassifier) Name() string { return "stub-classifier" }

func (StubClassifier) Classify(_ context.Context, text string, _ map[string]string) (domain.Classification, error) {
	lower := strings.ToLower(text)

	c := domain.Classification{
		Intent:     domain.IntentUnknown,
		Confidence: 0.5,
		RiskLevel:  domain.RiskLow,
		Language:   "en",
	}

	switch {
	case strings.Contains(lower, "allerg") || strings.Contains(lower, "reaction") || strings.Contains(lower, "rash"):
		c.Intent = domain.IntentComplaint
		c.Confidence = 0.9
		c.RiskFlags = []string{"allergy_adverse"}
		c.RiskLevel = domain.RiskCritical
		c.ShouldEscalate = true
	case strings.Contains(lower, "refund") || strings.Contains(lower, "broken") || strings.Contains(lower, "terrible"):
		c.Intent = domain.IntentComplaint
		c.Confidence = 0.85
		c.RiskLevel = domain.RiskHigh
	case strings.Contains(lower, "recommend") || strings.Contains(lower, "which product") || strings.Contains(lower, "skin"):
		c.Intent = domain.IntentRecommendation
		c.Confidence = 0.92
	case strings.Contains(lower, "shade") || strings.Contains(lower, "color") || strings.Contains(lower, "colour"):
		c.Intent = domain.IntentShadeColor
		c.Confidence = 0.9
		c.MoveToPrivate = true
	case strings.Contains(lower, "where") && strings.Contains(lower, "buy"):
		c.Intent = domain.IntentWhereToBuy
		c.Confidence = 0.9
	case strings.Contains(lower, "deliver") || strings.Contains(lower, "return") || strings.Contains(lower, "shipping"):
		c.Intent = domain.IntentDeliveryReturn
		c.Confidence = 0.88
	case strings.Contains(lower, "ingredient"):
		c.Intent = domain.IntentIngredients
		c.Confidence = 0.9
	case strings.Contains(lower, "http://") || strings.Contains(lower, "follow me"):
		c.Intent = domain.IntentSpam
		c.Confidence = 0.95
	}

	return c, nil
}

// StubDrafter produces a template reply grounded in the first extract.
type StubDrafter struct{}

func (StubDrafter) Name() string { return "stub-drafter" }

func (StubDrafter) Draft(_ context.Context, msg domain.IncomingMessage, c domain.Classification, extracts []domain.KnowledgeExtract) (domain.Draft, error) {
	d := domain.Draft{Confidence: 0.6}

	if len(extracts) > 0 {
		e := extracts[0]
		d.ReplyText = fmt.Sprintf("Thanks for reaching out! %s", firstSentence(e.Content))
		d.Citations = []domain.Citation{{Source: e.DocType, Extract: firstSentence(e.Content), DocID: e.DocID}}
		d.Confidence = 0.9
	} else {
		d.ReplyText = "Thanks for reaching out! Could you tell us a bit more so we can help?"
	}

	if c.Intent == domain.IntentRecommendation {
		d.AskPrivateQuestion = "What is your skin type?"
	}

	d.Truncate()
	return d, nil
}

func firstSentence(s string) string {
	if i := strings.IndexAny(s, ".!?"); i >= 0 && i+1 < len(s) {
		return strings.TrimSpace(s[:i+1])
	}
	if len(s) > 200 {
		return s[:200]
	}
	return s
}

// StubVerifier passes clean drafts, rewrites banned phrasing, and escalates
// high-risk classifications.
type StubVerifier struct{}

func (StubVerifier) Name() string { return "stub-verifier" }

var bannedClaims = []string{"cure", "guarantee", "miracle", "medical"}

func (StubVerifier) Verify(_ context.Context, d domain.Draft, c domain.Classification, _ string) (domain.Verification, error) {
	if c.RiskLevel == domain.RiskHigh || c.RiskLevel == domain.RiskCritical {
		return domain.Verification{
			Verdict:   domain.VerdictEscalate,
			Reasoning: "high-risk classification requires human handling",
		}, nil
	}

	lower := strings.ToLower(d.ReplyText)
	for _, banned := range bannedClaims {
		if strings.Contains(lower, banned) {
			rewritten := removeBannedSentence(d.ReplyText, banned)
			return domain.Verification{
				Verdict: domain.VerdictRewrite,
				Issues: []domain.Issue{{
					Type:        domain.IssueCompliance,
					Severity:    domain.SeverityMajor,
					Description: fmt.Sprintf("banned claim wording: %q", banned),
				}},
				RewrittenReply: rewritten,
				Reasoning:      "removed non-compliant claim",
			}, nil
		}
	}

	return domain.Verification{Verdict: domain.VerdictPass, Reasoning: "reply is compliant"}, nil
}

func removeBannedSentence(text, banned string) string {
	sentences := strings.SplitAfter(text, ".")
	var kept []string
	for _, s := range sentences {
		if !strings.Contains(strings.ToLower(s), banned) {
			kept = append(kept, s)
		}
	}
	out := strings.TrimSpace(strings.Join(kept, ""))
	if out == "" {
		out = "Thanks for your message! Our team will follow up with you directly."
	}
	return out
}

// StubEmbedder maps text to a deterministic unit vector using token hashing.
// Same text always embeds identically, so corpus and query stay comparable.
type StubEmbedder struct {
	Dim int
}

func (e StubEmbedder) Name() string { return "stub-embedder" }

func (e StubEmbedder) Dimension() int {
	if e.Dim <= 0 {
		return 64
	}
	return e.Dim
}

func (e StubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	dim := e.Dimension()
	vec := make([]float64, dim)

	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,!?;:\"'()")
		if tok == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[int(h.Sum32()%uint32(dim))] += 1
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}
