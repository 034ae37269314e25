package harness

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/convlog/internal/history"
	"github.com/roach88/convlog/internal/ir"
	"github.com/roach88/convlog/internal/notify"
	"github.com/roach88/convlog/internal/testutil"
)

// eventBuffer is large enough that no scenario loses a published value.
const eventBuffer = 4096

// Harness applies scenario steps to one conversation and records what
// the conversation published.
type Harness struct {
	conv   *history.Conversation
	logger *slog.Logger

	changes *notify.Subscription[history.Change]
	cleared *notify.Subscription[[]ir.Record]
	faults  *notify.Subscription[*history.Fault]

	tokens   []*history.LoadToken
	outcomes []OutcomeEntry
}

// Option configures a run.
type Option func(*runConfig)

type runConfig struct {
	logger   *slog.Logger
	observer func(*history.Conversation)
}

// WithLogger routes conversation logs to l. Default: discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// WithObserver calls fn with the conversation before the first step, so
// callers can subscribe to its topics (for example to relay them).
func WithObserver(fn func(*history.Conversation)) Option {
	return func(c *runConfig) {
		c.observer = fn
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh conversation with a step clock for
// placeholders and sequential load tokens, so repeated runs produce
// identical snapshots. Step expectation mismatches and failed assertions
// are recorded in the result; an error is returned only when a step
// cannot be executed at all.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	mode := ir.ModeOneToOne
	if scenario.Mode != "" {
		m, err := ir.ParseMode(scenario.Mode)
		if err != nil {
			return nil, err
		}
		mode = m
	}
	account := scenario.Account
	if account == "" {
		account = "acct"
	}
	uri := scenario.Conversation
	if uri == "" {
		uri = "swarm:" + scenario.Name
	}

	clock := testutil.NewStepClock()
	conv := history.NewConversation(account, uri, mode,
		history.WithSelf(scenario.Self),
		history.WithLogger(cfg.logger),
		history.WithTokenGenerator(testutil.NewSequentialTokens("load")),
		history.WithSubscriberBuffer(eventBuffer),
		history.WithNow(clock.Now),
	)

	h := &Harness{
		conv:    conv,
		logger:  cfg.logger,
		changes: conv.Events().Changes.Subscribe(),
		cleared: conv.Events().Cleared.Subscribe(),
		faults:  conv.Events().Faults.Subscribe(),
	}
	if cfg.observer != nil {
		cfg.observer(conv)
	}
	if len(scenario.Contacts) > 0 {
		conv.SetContacts(scenario.Contacts)
	}

	result := NewResult(scenario.Name)
	for i, step := range scenario.Steps {
		if err := h.executeStep(i, step, result); err != nil {
			conv.Close()
			return nil, fmt.Errorf("failed to execute steps[%d] (%s): %w", i, step.Op, err)
		}
	}

	h.snapshot(&result.Snapshot)

	for _, errMsg := range EvaluateAssertions(&result.Snapshot, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

// executeStep applies one step. Expectation mismatches go to result.
func (h *Harness) executeStep(i int, step Step, result *Result) error {
	switch step.Op {
	case OpInsert:
		rec, err := step.Record.toRecord()
		if err != nil {
			return err
		}
		outcome, err := h.conv.Insert(rec)
		if err != nil {
			return err
		}
		h.checkOutcomes(i, []ir.Record{rec}, []history.Outcome{outcome}, step.Expect, result)

	case OpInsertBatch:
		recs := make([]ir.Record, len(step.Records))
		for j := range step.Records {
			rec, err := step.Records[j].toRecord()
			if err != nil {
				return err
			}
			recs[j] = rec
		}
		outcomes, err := h.conv.InsertBatch(recs)
		if err != nil {
			return err
		}
		h.checkOutcomes(i, recs, outcomes, step.Expect, result)

	case OpUpdate:
		h.conv.UpdateInteraction(ir.Patch{
			Identity:  step.Patch.Identity,
			Timestamp: step.Patch.Timestamp,
			Status:    ir.Status(step.Patch.Status),
		})

	case OpRemove:
		if !h.conv.Remove(step.Identity) {
			h.logger.Debug("remove of unknown record", "record", step.Identity)
		}

	case OpClear:
		h.conv.Clear(step.DeleteEntirely)

	case OpSetVisible:
		h.conv.SetVisible(*step.Visible)

	case OpMarkRead:
		h.conv.MarkTailRead()

	case OpSetLastRead:
		h.conv.SetLastRead(step.Identity)

	case OpSetMode:
		h.conv.SetMode(ir.Mode(step.Mode))

	case OpSetContacts:
		h.conv.SetContacts(step.Contacts)

	case OpSetComposing:
		h.conv.SetComposing(step.Contact, step.Composing)

	case OpBeginLoad:
		h.tokens = append(h.tokens, h.conv.BeginLoad())

	case OpResolveLoad:
		tok, err := h.token(step.Token)
		if err != nil {
			return err
		}
		if !h.conv.ResolveLoadToken(tok) {
			result.AddError(fmt.Sprintf("steps[%d]: no pending load to resolve", i))
		}

	case OpFailLoad:
		tok, err := h.token(step.Token)
		if err != nil {
			return err
		}
		msg := step.Error
		if msg == "" {
			msg = "load failed"
		}
		if !h.conv.FailLoadToken(tok, errors.New(msg)) {
			result.AddError(fmt.Sprintf("steps[%d]: no pending load to fail", i))
		}

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

// token finds a load token by id. Empty id means the pending load, or
// nil (which finishes whichever load is current) when none is pending.
func (h *Harness) token(id string) (*history.LoadToken, error) {
	if id == "" {
		return h.conv.LoadingToken(), nil
	}
	for _, tok := range h.tokens {
		if tok.ID == id {
			return tok, nil
		}
	}
	return nil, fmt.Errorf("unknown load token %q", id)
}

func (h *Harness) checkOutcomes(i int, recs []ir.Record, outcomes []history.Outcome, expect []string, result *Result) {
	for j, rec := range recs {
		got := outcomes[j].String()
		h.outcomes = append(h.outcomes, OutcomeEntry{Identity: rec.Identity(), Outcome: got})
		if j < len(expect) && expect[j] != got {
			result.AddError(fmt.Sprintf("steps[%d]: record %s: expected outcome %s, got %s",
				i, rec.Identity(), expect[j], got))
		}
	}
}

// snapshot captures the final state. It closes the conversation so the
// subscriptions can be drained to completion.
func (h *Harness) snapshot(s *Snapshot) {
	conv := h.conv

	s.Mode = string(conv.Mode())
	s.History = []HistoryEntry{}
	for _, r := range conv.SortedHistory() {
		s.History = append(s.History, HistoryEntry{
			Identity:  r.Identity(),
			ParentID:  r.ParentID,
			Kind:      string(r.Kind),
			Status:    string(r.Status),
			Read:      r.Read,
			Synthetic: r.Synthetic,
		})
	}
	s.Roots = nonNil(conv.Roots())
	s.Orphans = nonNil(conv.Orphans())
	s.Loaded = conv.IsLoaded()
	if rec, ok := conv.LastDisplayed(); ok {
		s.LastDisplayed = rec.Identity()
	}
	s.LastRead = conv.LastRead()
	s.Outcomes = append([]OutcomeEntry{}, h.outcomes...)

	conv.Close()

	s.Changes = []ChangeEntry{}
	for c := range h.changes.C {
		s.Changes = append(s.Changes, ChangeEntry{
			Kind:     string(c.Kind),
			Identity: c.Record.Identity(),
			Index:    c.Index,
		})
	}
	for range h.cleared.C {
		s.Cleared++
	}
	s.Faults = []FaultEntry{}
	for f := range h.faults.C {
		s.Faults = append(s.Faults, FaultEntry{Code: string(f.Code), Identity: f.Identity})
	}

	s.Loads = []LoadEntry{}
	for _, tok := range h.tokens {
		s.Loads = append(s.Loads, LoadEntry{ID: tok.ID, State: loadState(tok)})
	}
}

func loadState(tok *history.LoadToken) string {
	if !tok.Resolved() {
		return LoadPending
	}
	err := tok.Err()
	switch {
	case err == nil:
		return LoadResolved
	case errors.Is(err, history.ErrLoadSuperseded):
		return LoadSuperseded
	default:
		return LoadFailed
	}
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
