package history

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/convlog/internal/ir"
)

// placeholderPrefix namespaces the identity of synthetic contact events.
const placeholderPrefix = "contact-event:"

// Conversation is the reconciled state of one conversation.
//
// All methods are safe for concurrent use. Mutations are serialized by a
// single mutex; snapshot accessors return copies.
type Conversation struct {
	mu sync.Mutex

	accountID string
	uri       string
	self      string
	mode      ir.Mode
	contacts  []string
	composing map[string]bool

	ordering      OrderingStrategy
	lastDisplayed *ir.Record
	lastRead      string
	visible       bool
	loading       *LoadToken

	events  *Events
	logger  *slog.Logger
	tokens  TokenGenerator
	buffer  int
	maxWalk int
	now     func() time.Time
}

// NewConversation creates an empty conversation. The ordering strategy is
// fixed here: ModeLegacy selects LegacyOrdering, every other mode
// SwarmOrdering. Later SetMode calls do not change it.
func NewConversation(accountID, uri string, mode ir.Mode, opts ...Option) *Conversation {
	c := &Conversation{
		accountID: accountID,
		uri:       uri,
		mode:      mode,
		composing: make(map[string]bool),
		logger:    slog.Default(),
		tokens:    UUIDv7Generator{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With("account", accountID, "conversation", uri)
	c.ordering = newOrdering(mode, c.maxWalk)
	c.events = newEvents(c.buffer, c.logger)
	c.events.Mode.Publish(mode)
	return c
}

// AccountID returns the owning account.
func (c *Conversation) AccountID() string { return c.accountID }

// URI returns the conversation URI.
func (c *Conversation) URI() string { return c.uri }

// Events returns the conversation's observable streams.
func (c *Conversation) Events() *Events { return c.events }

// Ordering exposes the strategy for inspection in tests and tooling.
// Callers must not mutate it.
func (c *Conversation) Ordering() OrderingStrategy { return c.ordering }

// Close ends every subscription.
func (c *Conversation) Close() {
	c.events.close()
}

// Insert reconciles one record into the conversation.
//
// The only error is a structurally invalid record. Every other anomaly is
// absorbed and reported on the Faults topic.
func (c *Conversation) Insert(rec ir.Record) (Outcome, error) {
	if err := rec.Validate(); err != nil {
		return 0, fmt.Errorf("insert into %s: %w", c.uri, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertLocked(&rec), nil
}

// InsertBatch inserts records in order. Outcomes align with recs; an
// invalid record gets a zero outcome and contributes to the joined error.
func (c *Conversation) InsertBatch(recs []ir.Record) ([]Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	outcomes := make([]Outcome, len(recs))
	var errs []error
	for i := range recs {
		rec := recs[i]
		if err := rec.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("insert into %s: %w", c.uri, err))
			continue
		}
		outcomes[i] = c.insertLocked(&rec)
	}
	return outcomes, errors.Join(errs...)
}

func (c *Conversation) insertLocked(rec *ir.Record) Outcome {
	id := rec.Identity()
	if existing, ok := c.ordering.Get(id); ok {
		c.checkRedelivery(existing, rec)
		return OutcomeDuplicate
	}

	rec.Conversation = c.uri
	c.attribute(rec)
	if c.lastRead != "" && id == c.lastRead {
		rec.Read = true
	}

	outcome, placed := c.ordering.Insert(rec)
	if outcome == OutcomeOrphaned {
		c.logger.Warn("record orphaned",
			"record", id,
			"parent", rec.ParentID)
		c.fault(newOrphanFault(rec))
	}

	for _, p := range placed {
		if p.Moved {
			c.publishChange(ChangeMove, p.Record, p.Index)
			continue
		}
		if c.visible {
			p.Record.Read = true
			if p.Record == rec && outcome == OutcomeNewLeaf {
				c.lastRead = id
			}
		}
		c.publishChange(ChangeAdd, p.Record, p.Index)
	}

	c.logger.Debug("record inserted",
		"record", id,
		"parent", rec.ParentID,
		"outcome", outcome.String())

	if rec.Status == ir.StatusDisplayed {
		c.advanceDisplayed(rec)
	}
	return outcome
}

// checkRedelivery logs when a duplicate identity arrives with different
// content. The stored record wins.
func (c *Conversation) checkRedelivery(existing, incoming *ir.Record) {
	a, errA := ir.RecordDigest(*existing)
	b, errB := ir.RecordDigest(*incoming)
	if errA != nil || errB != nil || a == b {
		return
	}
	c.logger.Warn("duplicate identity with different content, keeping stored record",
		"record", existing.Identity())
}

// attribute resolves the participant a record belongs to.
func (c *Conversation) attribute(rec *ir.Record) {
	if rec.Contact != "" {
		return
	}
	others := c.otherContacts()
	switch {
	case len(others) == 1:
		rec.Contact = others[0]
	case rec.Author != "":
		rec.Contact = rec.Author
	default:
		c.logger.Warn("cannot attribute record without author",
			"record", rec.Identity(),
			"participants", len(others))
		c.fault(newMissingAuthorFault(rec, len(others)))
	}
}

func (c *Conversation) otherContacts() []string {
	others := make([]string, 0, len(c.contacts))
	for _, ct := range c.contacts {
		if ct != c.self {
			others = append(others, ct)
		}
	}
	return others
}

// UpdateInteraction applies a status patch. Returns false when the target
// is unknown; the patch is then dropped and reported as a fault.
func (c *Conversation) UpdateInteraction(p ir.Patch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.ordering.Lookup(p)
	if !ok {
		c.logger.Warn("update for unknown record dropped",
			"record", p.Identity,
			"status", p.Status)
		c.fault(newUnknownTargetFault(p))
		return false
	}

	rec.Status = p.Status
	if pos := c.ordering.Position(rec.Identity()); pos >= 0 || c.isLegacy() {
		c.publishChange(ChangeUpdate, rec, pos)
	}

	if p.Status == ir.StatusDisplayed {
		c.advanceDisplayed(rec)
	}
	return true
}

func (c *Conversation) isLegacy() bool {
	_, ok := c.ordering.(*LegacyOrdering)
	return ok
}

// advanceDisplayed moves lastDisplayed to rec when rec is placed in the
// linear history and ordered after the current pointer. The pointer keeps
// blocking after its record is removed.
func (c *Conversation) advanceDisplayed(rec *ir.Record) {
	if !c.isLegacy() && c.ordering.Position(rec.Identity()) < 0 {
		return
	}
	cur := c.lastDisplayed
	if cur != nil {
		if cur.Identity() == rec.Identity() {
			return
		}
		after, err := c.ordering.IsAfter(rec, cur)
		if err != nil {
			c.logger.Error("ancestry walk failed, display pointer unchanged",
				"record", rec.Identity(),
				"current", cur.Identity(),
				"error", err)
			var f *Fault
			if errors.As(err, &f) {
				c.fault(f)
			}
			return
		}
		if !after {
			return
		}
	}

	c.lastDisplayed = rec
	c.events.LastDisplayed.Publish(*rec)
}

// MarkTailRead marks the last record of the linear history as read and
// returns its identity. Returns false when the history is empty, the tail
// is already read, or the tail is a placeholder.
func (c *Conversation) MarkTailRead() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	history := c.ordering.History()
	if len(history) == 0 {
		return "", false
	}
	tail := history[len(history)-1]
	if tail.Read || tail.Synthetic {
		return "", false
	}
	tail.Read = true
	c.lastRead = tail.Identity()
	return c.lastRead, true
}

// SetLastRead installs a persisted read marker. The matching record, now
// or when it arrives, is marked read.
func (c *Conversation) SetLastRead(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastRead = identity
	if rec, ok := c.ordering.Get(identity); ok {
		rec.Read = true
	}
}

// SetVisible records whether a client is rendering the conversation.
func (c *Conversation) SetVisible(visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.visible = visible
	c.events.Visibility.Publish(visible)
}

// Remove deletes a record. Returns false when the identity is unknown.
func (c *Conversation) Remove(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, pos, ok := c.ordering.Remove(identity)
	if !ok {
		return false
	}
	if pos >= 0 {
		c.publishChange(ChangeRemove, rec, pos)
	}
	c.logger.Debug("record removed", "record", identity)
	return true
}

// Clear wipes the history. Unless deleteEntirely is set, a conversation
// with exactly one other participant keeps a synthetic contact event so
// the client still has something to render.
func (c *Conversation) Clear(deleteEntirely bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ordering.Reset()
	if !deleteEntirely {
		if others := c.otherContacts(); len(others) == 1 {
			c.ordering.Seed(c.placeholder(others[0]))
		}
	}

	c.logger.Info("history cleared", "delete_entirely", deleteEntirely)
	c.events.Cleared.Publish(c.snapshotLocked())
}

func (c *Conversation) placeholder(contact string) *ir.Record {
	return &ir.Record{
		MessageID:    placeholderPrefix + contact,
		Timestamp:    c.now().UnixMilli(),
		Author:       contact,
		Contact:      contact,
		Kind:         ir.KindContactEvent,
		Status:       ir.StatusSuccess,
		Synthetic:    true,
		Conversation: c.uri,
	}
}

// BeginLoad starts a bulk load. An unresolved previous token is failed
// with ErrLoadSuperseded before the new one is installed.
func (c *Conversation) BeginLoad() *LoadToken {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := newLoadToken(c.tokens.Generate())
	if prev := c.loading; prev != nil {
		prev.resolve(fmt.Errorf("load %s: %w", prev.ID, ErrLoadSuperseded))
		c.logger.Warn("load superseded",
			"previous", prev.ID,
			"next", next.ID)
		c.fault(newDuplicateLoadFault(prev.ID, next.ID))
	}
	c.loading = next
	return next
}

// ResolveLoad completes the current load successfully. Returns false when
// no load is pending.
func (c *Conversation) ResolveLoad() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finishLoad(nil, nil)
}

// ResolveLoadToken completes tok only if it is still the current load.
func (c *Conversation) ResolveLoadToken(tok *LoadToken) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finishLoad(tok, nil)
}

// FailLoad fails the current load with err.
func (c *Conversation) FailLoad(err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finishLoad(nil, err)
}

// FailLoadToken fails tok with err only if it is still the current load.
func (c *Conversation) FailLoadToken(tok *LoadToken, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finishLoad(tok, err)
}

func (c *Conversation) finishLoad(tok *LoadToken, err error) bool {
	if c.loading == nil || (tok != nil && tok != c.loading) {
		return false
	}
	c.loading.resolve(err)
	c.loading = nil
	return true
}

// LoadingToken returns the pending load token, or nil.
func (c *Conversation) LoadingToken() *LoadToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// SetMode replaces the classification tag. Ordering is unaffected.
func (c *Conversation) SetMode(mode ir.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if mode != c.mode {
		c.logger.Info("mode changed", "from", c.mode, "to", mode)
	}
	c.mode = mode
	c.events.Mode.Publish(mode)
}

// Mode returns the classification tag.
func (c *Conversation) Mode() ir.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetContacts replaces the participant set, keeping first occurrences.
func (c *Conversation) SetContacts(contacts []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.contacts = c.contacts[:0]
	for _, ct := range contacts {
		if ct != "" && !slices.Contains(c.contacts, ct) {
			c.contacts = append(c.contacts, ct)
		}
	}
	c.events.Contacts.Publish(slices.Clone(c.contacts))
}

// AddContact appends a participant if absent.
func (c *Conversation) AddContact(contact string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if contact == "" || slices.Contains(c.contacts, contact) {
		return
	}
	c.contacts = append(c.contacts, contact)
	c.events.Contacts.Publish(slices.Clone(c.contacts))
}

// RemoveContact drops a participant.
func (c *Conversation) RemoveContact(contact string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := slices.Index(c.contacts, contact)
	if i < 0 {
		return
	}
	c.contacts = slices.Delete(c.contacts, i, i+1)
	delete(c.composing, contact)
	c.events.Contacts.Publish(slices.Clone(c.contacts))
}

// Contacts returns the participant set in insertion order.
func (c *Conversation) Contacts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.contacts)
}

// SetComposing forwards a typing indicator. The composing topic carries
// the sorted set of contacts currently composing.
func (c *Conversation) SetComposing(contact string, composing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if composing {
		c.composing[contact] = true
	} else {
		delete(c.composing, contact)
	}
	active := make([]string, 0, len(c.composing))
	for ct := range c.composing {
		active = append(active, ct)
	}
	slices.Sort(active)
	c.events.Composing.Publish(active)
}

// SortedHistory returns a copy of the linear history in render order.
// Legacy conversations sort first if needed.
func (c *Conversation) SortedHistory() []ir.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Conversation) snapshotLocked() []ir.Record {
	history := c.ordering.History()
	out := make([]ir.Record, len(history))
	for i, r := range history {
		out[i] = *r
	}
	return out
}

// Identities returns the identities of the linear history in render order.
func (c *Conversation) Identities() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	history := c.ordering.History()
	ids := make([]string, len(history))
	for i, r := range history {
		ids[i] = r.Identity()
	}
	return ids
}

// Get returns a copy of an indexed record.
func (c *Conversation) Get(identity string) (ir.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.ordering.Get(identity)
	if !ok {
		return ir.Record{}, false
	}
	return *r, true
}

// Len returns the number of records in the linear history.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ordering.Len()
}

// IsLoaded reports whether the history has no known gaps.
func (c *Conversation) IsLoaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ordering.Loaded()
}

// Roots returns the identities of missing parents, sorted.
func (c *Conversation) Roots() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ordering.Roots()
}

// Orphans returns identities indexed but withheld from the history, sorted.
func (c *Conversation) Orphans() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ordering.Orphans()
}

// LastDisplayed returns a copy of the newest record known displayed.
func (c *Conversation) LastDisplayed() (ir.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastDisplayed == nil {
		return ir.Record{}, false
	}
	return *c.lastDisplayed, true
}

// LastRead returns the identity of the newest record marked read.
func (c *Conversation) LastRead() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRead
}

// Visible reports the visibility flag.
func (c *Conversation) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

func (c *Conversation) publishChange(kind ChangeKind, rec *ir.Record, index int) {
	c.events.Changes.Publish(Change{Kind: kind, Record: *rec, Index: index})
}

func (c *Conversation) fault(f *Fault) {
	f.Conversation = c.uri
	c.events.Faults.Publish(f)
}
