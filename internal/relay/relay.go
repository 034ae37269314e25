// Package relay forwards conversation streams to a message bus.
//
// Each attached conversation publishes JSON messages on
//
//	<prefix>.<account>.<conversation>.<stream>
//
// where stream is one of changes, cleared, faults or last_displayed.
// Delivery is best effort: publish failures are logged and counted, and
// never block the conversation, whose topics already drop values for slow
// subscribers.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/roach88/convlog/internal/history"
	"github.com/roach88/convlog/internal/ir"
)

// Stream names used as the last subject token.
const (
	StreamChanges       = "changes"
	StreamCleared       = "cleared"
	StreamFaults        = "faults"
	StreamLastDisplayed = "last_displayed"
)

// Publisher sends one message. *nats.Conn implements it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Message is the JSON envelope published for every stream value. Only
// the field matching Stream is set.
type Message struct {
	Stream       string          `json:"stream"`
	Account      string          `json:"account"`
	Conversation string          `json:"conversation"`
	Change       *history.Change `json:"change,omitempty"`
	History      []ir.Record     `json:"history,omitempty"`
	Fault        *history.Fault  `json:"fault,omitempty"`
	Record       *ir.Record      `json:"record,omitempty"`
}

// Relay publishes conversation streams through a Publisher.
type Relay struct {
	pub    Publisher
	prefix string
	logger *slog.Logger

	wg        sync.WaitGroup
	published atomic.Int64
	failed    atomic.Int64
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = l
	}
}

// New creates a relay publishing under prefix.
func New(pub Publisher, prefix string, opts ...Option) *Relay {
	r := &Relay{
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subject builds the subject for one stream of a conversation.
func (r *Relay) Subject(account, conversation, stream string) string {
	return strings.Join([]string{r.prefix, token(account), token(conversation), stream}, ".")
}

// token makes s safe as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(c rune) rune {
		switch c {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return c
	}, s)
}

// Attach subscribes to conv's streams and forwards them until ctx ends or
// the conversation closes. Subscriptions exist when Attach returns, so no
// value published afterwards is missed.
func (r *Relay) Attach(ctx context.Context, conv *history.Conversation) {
	ev := conv.Events()
	changes := ev.Changes.Subscribe()
	cleared := ev.Cleared.Subscribe()
	faults := ev.Faults.Subscribe()
	displayed := ev.LastDisplayed.Subscribe()

	account, uri := conv.AccountID(), conv.URI()
	base := Message{Account: account, Conversation: uri}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer changes.Unsubscribe()
		defer cleared.Unsubscribe()
		defer faults.Unsubscribe()
		defer displayed.Unsubscribe()

		changesC, clearedC, faultsC, displayedC := changes.C, cleared.C, faults.C, displayed.C
		for changesC != nil || clearedC != nil || faultsC != nil || displayedC != nil {
			msg := base
			select {
			case <-ctx.Done():
				return
			case c, ok := <-changesC:
				if !ok {
					changesC = nil
					continue
				}
				msg.Stream, msg.Change = StreamChanges, &c
			case h, ok := <-clearedC:
				if !ok {
					clearedC = nil
					continue
				}
				msg.Stream, msg.History = StreamCleared, h
			case f, ok := <-faultsC:
				if !ok {
					faultsC = nil
					continue
				}
				msg.Stream, msg.Fault = StreamFaults, f
			case rec, ok := <-displayedC:
				if !ok {
					displayedC = nil
					continue
				}
				msg.Stream, msg.Record = StreamLastDisplayed, &rec
			}
			r.publish(msg)
		}
	}()

	r.logger.Debug("relay attached",
		"account", account,
		"conversation", uri)
}

func (r *Relay) publish(msg Message) {
	subject := r.Subject(msg.Account, msg.Conversation, msg.Stream)

	data, err := json.Marshal(msg)
	if err == nil {
		err = r.pub.Publish(subject, data)
	}
	if err != nil {
		r.failed.Add(1)
		r.logger.Warn("relay publish failed",
			"subject", subject,
			"error", err)
		return
	}
	r.published.Add(1)
}

// Wait blocks until every attached conversation has stopped forwarding.
func (r *Relay) Wait() {
	r.wg.Wait()
}

// Published returns the number of messages sent.
func (r *Relay) Published() int64 {
	return r.published.Load()
}

// Failed returns the number of messages that could not be sent.
func (r *Relay) Failed() int64 {
	return r.failed.Load()
}

// Decode parses a published message.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode relay message: %w", err)
	}
	return msg, nil
}
