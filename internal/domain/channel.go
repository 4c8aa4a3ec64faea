package domain

import "context"

// Channel is the interface for user-facing I/O adapters (web page, terminal).
// Channels drive a Conversation; they own no conversational state themselves.
type Channel interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}
