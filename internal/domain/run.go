package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RunState is the lifecycle state of a pipeline run. An open run becomes
// sealed on success or failed on a non-recoverable error; sealed and failed
// runs are read-only.
type RunState string

const (
	RunOpen   RunState = "open"
	RunSealed RunState = "sealed"
	RunFailed RunState = "failed"
)

// Pipeline stage identifiers used in audit records.
const (
	StageClassify = "classify"
	StageRetrieve = "retrieve"
	StageDraft    = "draft"
	StageVerify   = "verify"
	StageDecide   = "decide"
)

// StageRecord is one audit entry: the input and output of a single stage,
// tagged with the capability that produced the output.
type StageRecord struct {
	Stage      string          `json:"stage"`
	Capability string          `json:"capability"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	At         time.Time       `json:"at"`
}

// PipelineRun is the aggregate record of one message's traversal through the
// pipeline. It is created at pipeline start, appended to by each stage, and
// sealed once the decision engine completes.
type PipelineRun struct {
	ID             string             `json:"id"`
	Message        IncomingMessage    `json:"message"`
	Classification *Classification    `json:"classification,omitempty"`
	Extracts       []KnowledgeExtract `json:"extracts,omitempty"`
	Draft          *Draft             `json:"draft,omitempty"`
	Verification   *Verification      `json:"verification,omitempty"`
	Routing        *RoutingDecision   `json:"routing,omitempty"`
	MoveToPrivate  bool               `json:"move_to_private"`
	State          RunState           `json:"state"`
	Stages         []StageRecord      `json:"stages"`
	StartedAt      time.Time          `json:"started_at"`
	CompletedAt    time.Time          `json:"completed_at,omitempty"`
}

// ErrRunSealed is returned on any attempt to mutate a non-open run.
var ErrRunSealed = fmt.Errorf("pipeline run is sealed")

// NewPipelineRun creates an open run for the given message.
func NewPipelineRun(id string, msg IncomingMessage) *PipelineRun {
	return &PipelineRun{
		ID:        id,
		Message:   msg,
		State:     RunOpen,
		StartedAt: time.Now(),
	}
}

// AppendStage records a stage's input/output. Appending to a sealed or
// failed run is an illegal transition.
func (r *PipelineRun) AppendStage(rec StageRecord) error {
	if r.State != RunOpen {
		return ErrRunSealed
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	r.Stages = append(r.Stages, rec)
	return nil
}

// Seal marks the run complete and read-only. Sealing twice is an error.
func (r *PipelineRun) Seal() error {
	if r.State != RunOpen {
		return ErrRunSealed
	}
	r.State = RunSealed
	r.CompletedAt = time.Now()
	return nil
}

// Fail marks the run aborted. The audit trail reflects completed stages only.
func (r *PipelineRun) Fail() {
	if r.State == RunOpen {
		r.State = RunFailed
		r.CompletedAt = time.Now()
	}
}

// FinalReply returns the text that would actually ship: the verifier's
// rewrite supersedes the original draft when present. The original draft
// record is retained for audit either way.
func (r *PipelineRun) FinalReply() string {
	if r.Verification != nil && r.Verification.Verdict == VerdictRewrite && r.Verification.RewrittenReply != "" {
		return r.Verification.RewrittenReply
	}
	if r.Draft != nil {
		return r.Draft.ReplyText
	}
	return ""
}

// RunStore durably persists pipeline runs and their audit trail, keyed by
// message id. Appends are forward-only; a run's final artifacts are written
// at seal time.
type RunStore interface {
	CreateRun(ctx context.Context, run *PipelineRun) error
	AppendStage(ctx context.Context, runID string, rec StageRecord) error
	FinishRun(ctx context.Context, run *PipelineRun) error
	GetRun(ctx context.Context, id string) (*PipelineRun, error)
	ListRuns(ctx context.Context, limit int) ([]PipelineRun, error)

	// MarkMessageSeen records a platform message id and reports whether it
	// was already known. Used by ingestion for at-most-one-run-per-message.
	MarkMessageSeen(ctx context.Context, platform, messageID string) (seen bool, err error)

	// UnmarkMessageSeen forgets a message id so a platform redelivery is
	// processed again. Called when the message never reached a terminal
	// recorded state.
	UnmarkMessageSeen(ctx context.Context, platform, messageID string) error
}
