package domain

import "unicode/utf8"

// MaxReplyLen bounds a drafted reply's length.
const MaxReplyLen = 500

// TruncateText cuts s to at most max bytes without splitting a UTF-8 rune:
// the cut backs up to the nearest rune boundary so the result stays valid.
func TruncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// FallbackDraftConfidence is the confidence assigned to the generic fallback
// reply used when the drafter capability fails. It must stay strictly below
// any sane autonomy confidence floor so a degraded reply can never ship
// autonomously.
const FallbackDraftConfidence = 0.3

// SuggestedProduct is a product recommendation attached to a draft.
type SuggestedProduct struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Price    string `json:"price,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Citation references a knowledge extract backing a statement in the reply.
type Citation struct {
	Source  string `json:"source"`
	Extract string `json:"extract,omitempty"`
	DocID   int64  `json:"doc_id"`
}

// Draft is a candidate reply produced by the drafter capability.
type Draft struct {
	ReplyText          string             `json:"reply_text"`
	AskPrivateQuestion string             `json:"ask_dm_question,omitempty"`
	SuggestedProducts  []SuggestedProduct `json:"suggested_products,omitempty"`
	SuggestedPartners  []string           `json:"suggested_partners,omitempty"`
	Citations          []Citation         `json:"citations,omitempty"`
	Confidence         float64            `json:"confidence"` // [0,1]
}

// Truncate bounds the reply text to MaxReplyLen.
func (d *Draft) Truncate() {
	d.ReplyText = TruncateText(d.ReplyText, MaxReplyLen)
}

// ValidateCitations drops citations that reference doc ids not present in the
// supplied extract set. A citation to an unknown id is a capability contract
// violation; it is downgraded to "no citation" rather than trusted.
// Returns the number of citations dropped.
func (d *Draft) ValidateCitations(extracts []KnowledgeExtract) int {
	if len(d.Citations) == 0 {
		return 0
	}
	known := make(map[int64]bool, len(extracts))
	for _, e := range extracts {
		known[e.DocID] = true
	}
	kept := d.Citations[:0]
	dropped := 0
	for _, c := range d.Citations {
		if known[c.DocID] {
			kept = append(kept, c)
		} else {
			dropped++
		}
	}
	d.Citations = kept
	return dropped
}

// FallbackDraft is the generic low-confidence reply substituted when the
// drafter capability fails or returns unparseable output.
func FallbackDraft() Draft {
	return Draft{
		ReplyText:  "Thank you for your message! Our team will get back to you shortly with a personalized answer.",
		Confidence: FallbackDraftConfidence,
	}
}
