package domain

import (
	"context"
	"time"
)

// ReviewStatus is the moderation state of a queued draft.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewResolved ReviewStatus = "resolved"
)

// Moderator actions on a pending review.
const (
	ActionApproved  = "approved"
	ActionEdited    = "edited"
	ActionRejected  = "rejected"
	ActionEscalated = "escalated"
)

// ReviewItem is a drafted reply waiting for human review before delivery.
type ReviewItem struct {
	ID         int64        `json:"id"`
	RunID      string       `json:"run_id"`
	MessageID  string       `json:"message_id"`
	Platform   string       `json:"platform"`
	ChatID     string       `json:"chat_id,omitempty"`
	ReplyText  string       `json:"reply_text"`
	Status     ReviewStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	ReviewedAt *time.Time   `json:"reviewed_at,omitempty"`
}

// ReviewAction records a moderator's decision on a pending item.
type ReviewAction struct {
	ItemID     int64  `json:"item_id"`
	ReviewedBy string `json:"reviewed_by"`
	Action     string `json:"action"` // approved | edited | rejected | escalated
	FinalText  string `json:"final_text,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// ReviewStore queues drafts for human review and records moderator actions.
type ReviewStore interface {
	EnqueueReview(ctx context.Context, item ReviewItem) (int64, error)
	PendingReviews(ctx context.Context, limit int) ([]ReviewItem, error)
	ResolveReview(ctx context.Context, action ReviewAction) error
}
