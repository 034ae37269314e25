package history

import (
	"log/slog"
	"time"
)

// Option configures a Conversation.
type Option func(*Conversation)

// WithSelf sets the account's own URI. Self never counts as a participant
// for attribution or the clear placeholder.
func WithSelf(uri string) Option {
	return func(c *Conversation) {
		c.self = uri
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Conversation) {
		c.logger = l
	}
}

// WithTokenGenerator sets the load token id source.
// Default: UUIDv7Generator.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(c *Conversation) {
		c.tokens = g
	}
}

// WithSubscriberBuffer sets the per-subscriber channel capacity of every
// topic. Default: notify.DefaultBuffer.
func WithSubscriberBuffer(n int) Option {
	return func(c *Conversation) {
		c.buffer = n
	}
}

// WithMaxAncestorWalk bounds parent walks when comparing displayed
// records. Default 0: bounded by the number of indexed records.
func WithMaxAncestorWalk(n int) Option {
	return func(c *Conversation) {
		c.maxWalk = n
	}
}

// WithNow sets the wall clock used to stamp synthetic placeholders.
func WithNow(now func() time.Time) Option {
	return func(c *Conversation) {
		c.now = now
	}
}
