package domain

import "time"

// MessageKind distinguishes the two inbound surfaces a platform exposes.
type MessageKind string

const (
	KindDirectMessage MessageKind = "dm"
	KindComment       MessageKind = "comment"
)

// IncomingMessage is a single inbound social-media message. It is created at
// ingestion and never mutated afterwards.
type IncomingMessage struct {
	ID             string            `json:"id"`       // platform-scoped message id, assigned by the caller
	Platform       string            `json:"platform"` // instagram | telegram | webhook | ...
	Kind           MessageKind       `json:"kind"`
	SenderID       string            `json:"sender_id"`
	SenderUsername string            `json:"sender_username,omitempty"`
	Content        string            `json:"content"`
	ThreadID       string            `json:"thread_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ReceivedAt     time.Time         `json:"received_at"`
}

// OutboundMessage is a reply flowing back to a channel adapter.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
	Format  string `json:"format,omitempty"` // text | markdown
}
