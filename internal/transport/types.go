// Package transport defines the messaging-sink boundary: how inbound chat
// updates reach the router and how outbound content reaches a destination.
package transport

import "context"

type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

// ChatTarget addresses a delivery destination. GroupKey is its stable string
// form used by the subscription ledger.
type ChatTarget struct {
	ChatID int64
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Adapter is the messaging sink. Implementations must be safe for concurrent
// use: the router replies and the scheduler fires on independent goroutines.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
	// SendPhotoURL sends an image by URL with an optional caption.
	SendPhotoURL(ctx context.Context, to ChatTarget, url, caption string) error
}
