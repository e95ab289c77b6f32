package transport

import "context"

// Message is an inbound operator message (command or plain text).
type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Photo is an outbound image attachment with an optional caption.
type Photo struct {
	PNG     []byte
	Caption string
}

// Adapter is the chat-transport boundary. Implementations deliver outbound
// messages and feed inbound operator messages into out.
type Adapter interface {
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, photo Photo) (MessageRef, error)
}
