package domain

import "context"

// MessageBus routes messages between channel adapters and the dispatcher.
type MessageBus interface {
	Publish(msg IncomingMessage)
	Subscribe() <-chan IncomingMessage
	SendOutbound(msg OutboundMessage)
	OnOutbound(channelName string, handler func(OutboundMessage))
	Close()
}

// Channel is the interface for platform-facing message I/O (webhook, Telegram).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}
