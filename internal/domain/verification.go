package domain

// Verdict is the verifier's compliance outcome for a draft reply.
type Verdict string

const (
	VerdictPass     Verdict = "PASS"
	VerdictRewrite  Verdict = "REWRITE"
	VerdictEscalate Verdict = "ESCALATE"
)

// IssueType classifies a compliance finding.
type IssueType string

const (
	IssueTone       IssueType = "tone"
	IssueCompliance IssueType = "compliance"
	IssueFactual    IssueType = "factual"
	IssueGrammar    IssueType = "grammar"
	IssueLength     IssueType = "length"
)

// IssueSeverity grades a compliance finding.
type IssueSeverity string

const (
	SeverityMinor    IssueSeverity = "minor"
	SeverityMajor    IssueSeverity = "major"
	SeverityCritical IssueSeverity = "critical"
)

// Issue is a single finding from the verifier.
type Issue struct {
	Type        IssueType     `json:"type"`
	Severity    IssueSeverity `json:"severity"`
	Description string        `json:"description"`
	Location    string        `json:"location,omitempty"`
}

// Verification is the audit result for a draft reply.
type Verification struct {
	Verdict        Verdict `json:"verdict"`
	Issues         []Issue `json:"issues,omitempty"`
	RewrittenReply string  `json:"rewritten_reply_text,omitempty"`
	Reasoning      string  `json:"reasoning,omitempty"`
}

// EnforceContract applies the structural rules the caller owns: a REWRITE
// verdict without rewritten text is a contract violation and is downgraded
// to ESCALATE; an unrecognised verdict is never treated as a pass.
func (v *Verification) EnforceContract() {
	switch v.Verdict {
	case VerdictPass, VerdictEscalate:
		return
	case VerdictRewrite:
		if v.RewrittenReply == "" {
			v.Verdict = VerdictEscalate
			v.Issues = append(v.Issues, Issue{
				Type:        IssueCompliance,
				Severity:    SeverityMajor,
				Description: "rewrite verdict without rewritten text",
			})
		}
	default:
		v.Verdict = VerdictEscalate
	}
}

// FallbackVerification is the fail-safe substitute when the verifier
// capability fails: inability to verify is never a pass.
func FallbackVerification(reason string) Verification {
	return Verification{
		Verdict:   VerdictEscalate,
		Reasoning: reason,
	}
}
