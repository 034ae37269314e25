package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/convlog/internal/history"
	"github.com/roach88/convlog/internal/ir"
)

// Archive persists accepted mutations. Implemented by *archive.Store.
//
// Every method is called from the Run loop only.
type Archive interface {
	SaveConversation(ctx context.Context, account, conversation string, mode ir.Mode) error
	WriteRecord(ctx context.Context, account string, rec ir.Record) error
	UpdateStatus(ctx context.Context, account, conversation, identity string, status ir.Status) error
	MarkRead(ctx context.Context, account, conversation, identity string) error
	DeleteRecord(ctx context.Context, account, conversation, identity string) error
	ClearConversation(ctx context.Context, account, conversation string) error
	LoadConversation(ctx context.Context, account, conversation string) ([]ir.Record, error)
	Conversations(ctx context.Context) ([]ir.ConversationRef, error)
}

// Engine is the single-writer loop in front of a set of conversations.
//
// Thread-safety model:
//   - Open, Conversation, Keys, Enqueue, Load: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//
// Conversations are themselves safe for concurrent use; the loop exists
// so that archive writes and sequence stamping follow arrival order.
type Engine struct {
	mu            sync.RWMutex
	conversations map[Key]*history.Conversation

	queue    *eventQueue
	clock    *Clock
	archive  Archive
	logger   *slog.Logger
	convOpts []history.Option
}

// Option configures an Engine.
type Option func(*Engine)

// WithArchive enables write-through persistence and archive loads.
func WithArchive(a Archive) Option {
	return func(e *Engine) {
		e.archive = a
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock resumes sequence stamping from an existing clock.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithConversationOptions sets options applied to every opened
// conversation before the per-call options.
func WithConversationOptions(opts ...history.Option) Option {
	return func(e *Engine) {
		e.convOpts = append(e.convOpts, opts...)
	}
}

// New creates an Engine with no conversations.
func New(opts ...Option) *Engine {
	e := &Engine{
		conversations: make(map[Key]*history.Conversation),
		queue:         newEventQueue(),
		clock:         NewClock(),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Clock returns the engine's sequence clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// Open registers a conversation, or returns the one already registered
// under key. The mode only applies on first open.
func (e *Engine) Open(key Key, mode ir.Mode, opts ...history.Option) *history.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()

	if conv, ok := e.conversations[key]; ok {
		return conv
	}

	all := make([]history.Option, 0, len(e.convOpts)+len(opts)+1)
	all = append(all, history.WithLogger(e.logger))
	all = append(all, e.convOpts...)
	all = append(all, opts...)

	conv := history.NewConversation(key.Account, key.Conversation, mode, all...)
	e.conversations[key] = conv

	// persisted from the loop like every other write
	e.queue.Enqueue(Event{Type: eventTypeOpen, Key: key, Mode: mode})

	e.logger.Debug("conversation opened",
		"account", key.Account,
		"conversation", key.Conversation,
		"mode", string(mode))
	return conv
}

// Conversation returns the conversation registered under key.
func (e *Engine) Conversation(key Key) (*history.Conversation, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	conv, ok := e.conversations[key]
	return conv, ok
}

// Keys returns every registered key, sorted.
func (e *Engine) Keys() []Key {
	e.mu.RLock()
	defer e.mu.RUnlock()

	keys := make([]Key, 0, len(e.conversations))
	for k := range e.conversations {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b Key) int {
		if a.Account != b.Account {
			if a.Account < b.Account {
				return -1
			}
			return 1
		}
		switch {
		case a.Conversation < b.Conversation:
			return -1
		case a.Conversation > b.Conversation:
			return 1
		}
		return 0
	})
	return keys
}

// Enqueue submits an event for processing by the Run loop.
// Returns false once the engine has been stopped.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// Load begins a bulk load of key from the archive. The token is returned
// immediately and resolves once the loop has inserted the archived
// records. A load already pending for key is superseded.
func (e *Engine) Load(key Key) (*history.LoadToken, error) {
	conv, ok := e.Conversation(key)
	if !ok {
		return nil, fmt.Errorf("load %s: %w", key, ErrUnknownConversation)
	}

	tok := conv.BeginLoad()
	if !e.queue.Enqueue(Event{Type: EventTypeLoad, Key: key, Token: tok}) {
		conv.FailLoadToken(tok, ErrStopped)
		return tok, fmt.Errorf("load %s: %w", key, ErrStopped)
	}
	return tok, nil
}

// MissingAncestors returns, per conversation, the parent identities that
// are referenced but not yet held. The sync layer fetches these.
func (e *Engine) MissingAncestors() map[Key][]string {
	missing := make(map[Key][]string)
	for _, key := range e.Keys() {
		conv, _ := e.Conversation(key)
		if roots := conv.Roots(); len(roots) > 0 {
			missing[key] = roots
		}
	}
	return missing
}

// QueueLen returns the number of pending events.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run starts the single-writer event loop.
// Blocks until the context is cancelled or Stop is called and the queue
// has drained.
//
// On event processing failure the error is logged with the event context
// and processing continues.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			if err := e.processEvent(ctx, event); err != nil {
				e.logEventError(event, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// a closed signal channel fires forever; only stop once the
			// queue is both closed and drained
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns after draining what was accepted.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Close ends every conversation's subscriptions. Call after Run returns.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, conv := range e.conversations {
		conv.Close()
	}
}

// processEvent routes an event to its handler.
// Called only from the Run goroutine.
func (e *Engine) processEvent(ctx context.Context, ev Event) error {
	conv, ok := e.Conversation(ev.Key)
	if !ok {
		return &EventError{Type: ev.Type, Key: ev.Key, Err: ErrUnknownConversation}
	}

	var err error
	switch ev.Type {
	case eventTypeOpen, EventTypeMode:
		err = e.processMode(ctx, conv, ev)
	case EventTypeInsert:
		err = e.processInsert(ctx, conv, ev)
	case EventTypeUpdate:
		err = e.processUpdate(ctx, conv, ev)
	case EventTypeRemove:
		err = e.processRemove(ctx, conv, ev)
	case EventTypeClear:
		conv.Clear(ev.DeleteEntirely)
		if e.archive != nil {
			err = wrapArchive("clear", e.archive.ClearConversation(ctx, ev.Key.Account, ev.Key.Conversation))
		}
	case EventTypeVisibility:
		conv.SetVisible(ev.Visible)
	case EventTypeRead:
		err = e.processRead(ctx, conv, ev)
	case EventTypeComposing:
		conv.SetComposing(ev.Contact, ev.Composing)
	case EventTypeContacts:
		conv.SetContacts(ev.Contacts)
	case EventTypeLoad:
		err = e.processLoad(ctx, conv, ev)
	default:
		err = fmt.Errorf("unknown event type: %d", int(ev.Type))
	}
	if err != nil {
		return &EventError{Type: ev.Type, Key: ev.Key, Identity: ev.Identity, Err: err}
	}
	return nil
}

func (e *Engine) processMode(ctx context.Context, conv *history.Conversation, ev Event) error {
	if ev.Type == EventTypeMode {
		conv.SetMode(ev.Mode)
	}
	if e.archive == nil {
		return nil
	}
	return wrapArchive("save conversation",
		e.archive.SaveConversation(ctx, ev.Key.Account, ev.Key.Conversation, ev.Mode))
}

// processInsert stamps, inserts and persists a batch of records.
func (e *Engine) processInsert(ctx context.Context, conv *history.Conversation, ev Event) error {
	recs := make([]ir.Record, len(ev.Records))
	for i, rec := range ev.Records {
		rec.Conversation = ev.Key.Conversation
		rec.Seq = e.clock.Next()
		recs[i] = rec
	}

	outcomes, insertErr := conv.InsertBatch(recs)

	var errs []error
	if insertErr != nil {
		errs = append(errs, insertErr)
	}
	for i, outcome := range outcomes {
		if outcome == 0 || outcome == history.OutcomeDuplicate {
			continue
		}
		id := recs[i].Identity()
		e.logger.Debug("record accepted",
			"conversation", ev.Key.Conversation,
			"record", id,
			"outcome", outcome.String(),
			"seq", recs[i].Seq)

		if e.archive == nil {
			continue
		}
		stored, ok := conv.Get(id)
		if !ok {
			continue
		}
		if err := e.archive.WriteRecord(ctx, ev.Key.Account, stored); err != nil {
			errs = append(errs, wrapArchive("write "+id, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) processUpdate(ctx context.Context, conv *history.Conversation, ev Event) error {
	if !conv.UpdateInteraction(ev.Patch) {
		// already reported on the conversation's fault topic
		return nil
	}
	if e.archive == nil {
		return nil
	}
	return wrapArchive("update "+ev.Patch.Identity,
		e.archive.UpdateStatus(ctx, ev.Key.Account, ev.Key.Conversation, ev.Patch.Identity, ev.Patch.Status))
}

func (e *Engine) processRemove(ctx context.Context, conv *history.Conversation, ev Event) error {
	if !conv.Remove(ev.Identity) {
		e.logger.Debug("remove for unknown record ignored",
			"conversation", ev.Key.Conversation,
			"record", ev.Identity)
		return nil
	}
	if e.archive == nil {
		return nil
	}
	return wrapArchive("delete "+ev.Identity,
		e.archive.DeleteRecord(ctx, ev.Key.Account, ev.Key.Conversation, ev.Identity))
}

// processRead marks the tail read and persists the flag.
func (e *Engine) processRead(ctx context.Context, conv *history.Conversation, ev Event) error {
	id, ok := conv.MarkTailRead()
	if !ok || e.archive == nil {
		return nil
	}
	return wrapArchive("mark read "+id,
		e.archive.MarkRead(ctx, ev.Key.Account, ev.Key.Conversation, id))
}

// processLoad reads the archive into the conversation and resolves the
// token if it is still current. Loaded records keep their stored seq.
func (e *Engine) processLoad(ctx context.Context, conv *history.Conversation, ev Event) error {
	if ev.Token == nil {
		return fmt.Errorf("load event missing token")
	}

	var recs []ir.Record
	if e.archive != nil {
		var err error
		recs, err = e.archive.LoadConversation(ctx, ev.Key.Account, ev.Key.Conversation)
		if err != nil {
			err = wrapArchive("load", err)
			conv.FailLoadToken(ev.Token, err)
			return err
		}
	}

	for _, rec := range recs {
		e.clock.Observe(rec.Seq)
	}
	_, insertErr := conv.InsertBatch(recs)

	if !conv.ResolveLoadToken(ev.Token) {
		e.logger.Debug("load finished after being superseded",
			"conversation", ev.Key.Conversation,
			"token", ev.Token.ID)
	} else {
		e.logger.Info("conversation loaded",
			"conversation", ev.Key.Conversation,
			"records", len(recs),
			"token", ev.Token.ID)
	}
	return insertErr
}

// logEventError logs a processing failure with the event's context so it
// can be investigated or replayed by hand.
func (e *Engine) logEventError(ev Event, err error) {
	attrs := []any{
		"error", err,
		"event_type", ev.Type.String(),
		"account", ev.Key.Account,
		"conversation", ev.Key.Conversation,
	}

	switch ev.Type {
	case EventTypeInsert:
		ids := make([]string, 0, len(ev.Records))
		for _, r := range ev.Records {
			ids = append(ids, r.Identity())
		}
		attrs = append(attrs, "records", ids)
	case EventTypeUpdate:
		attrs = append(attrs, "record", ev.Patch.Identity, "status", string(ev.Patch.Status))
	case EventTypeRemove:
		attrs = append(attrs, "record", ev.Identity)
	case EventTypeLoad:
		if ev.Token != nil {
			attrs = append(attrs, "token", ev.Token.ID)
		}
	}

	if IsArchiveError(err) {
		attrs = append(attrs, "archive", true)
	}
	e.logger.Error("event processing failed", attrs...)
}
