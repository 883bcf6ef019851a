package types

import "context"

const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

// Message represents a user utterance or an outbound reply.
type Message struct {
	ID        string
	Text      string
	Role      string // "user", "assistant"
	ChannelID string // source channel identifier (e.g., "telegram", "cli")
	UserID    int64
	ChatID    int64
	ReplyToID string
	Meta      map[string]interface{}
}

// Assistant is the conversational core: one inbound message, zero or
// more outbound replies pushed through the channel it came from.
type Assistant interface {
	Process(ctx context.Context, msg Message) ([]Message, error)
}

// Channel represents an input/output interface (Telegram, CLI).
type Channel interface {
	Start(ctx context.Context, handler func(Message)) error
	Send(ctx context.Context, msg Message) error
	ID() string
}
