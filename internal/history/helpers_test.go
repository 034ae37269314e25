package history

import (
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/roach88/convlog/internal/ir"
	"github.com/roach88/convlog/internal/notify"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestConversation creates a conversation with deterministic ids and a
// silent logger.
func newTestConversation(t *testing.T, mode ir.Mode, opts ...Option) *Conversation {
	t.Helper()
	base := []Option{
		WithSelf("me"),
		WithLogger(quietLogger()),
		WithTokenGenerator(NewFixedGenerator("load-1", "load-2", "load-3")),
		WithNow(func() time.Time { return fixedNow }),
	}
	c := NewConversation("acct", "swarm:conv", mode, append(base, opts...)...)
	t.Cleanup(c.Close)
	return c
}

func msg(id, parent string) ir.Record {
	return ir.Record{
		MessageID: id,
		ParentID:  parent,
		Author:    "alice",
		Kind:      ir.KindText,
		Status:    ir.StatusSuccess,
		Body:      ir.Text("body of " + id),
	}
}

func legacyMsg(id int64, ts int64) ir.Record {
	return ir.Record{
		ID:        id,
		Timestamp: ts,
		Author:    "alice",
		Kind:      ir.KindText,
		Status:    ir.StatusSuccess,
	}
}

func mustInsert(t *testing.T, c *Conversation, rec ir.Record) Outcome {
	t.Helper()
	out, err := c.Insert(rec)
	require.NoError(t, err)
	return out
}

// drain returns every value already buffered on a subscription.
func drain[T any](sub *notify.Subscription[T]) []T {
	var out []T
	for {
		select {
		case v, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, v)
		default:
			return out
		}
	}
}

func changeKinds(changes []Change) []string {
	out := make([]string, len(changes))
	for i, ch := range changes {
		out[i] = string(ch.Kind) + ":" + ch.Record.Identity()
	}
	return out
}

// requireCausalOrder asserts every placed record sits after its placed parent.
func requireCausalOrder(t *testing.T, c *Conversation) {
	t.Helper()
	pos := make(map[string]int)
	for i, id := range c.Identities() {
		pos[id] = i
	}
	for _, r := range c.SortedHistory() {
		if r.ParentID == "" {
			continue
		}
		if _, indexed := c.Get(r.ParentID); !indexed {
			continue
		}
		p, placed := pos[r.ParentID]
		require.True(t, placed, "parent %s of %s is indexed but not placed", r.ParentID, r.Identity())
		require.Less(t, p, pos[r.Identity()], "parent %s must precede %s", r.ParentID, r.Identity())
	}
}

// applyChanges replays a change stream onto a list of identities the way a
// subscriber mirroring the history would.
func applyChanges(ids []string, changes []Change) []string {
	out := slices.Clone(ids)
	for _, ch := range changes {
		id := ch.Record.Identity()
		switch ch.Kind {
		case ChangeAdd:
			out = slices.Insert(out, ch.Index, id)
		case ChangeMove:
			out = slices.Delete(out, slices.Index(out, id), slices.Index(out, id)+1)
			out = slices.Insert(out, ch.Index, id)
		case ChangeRemove:
			out = slices.Delete(out, ch.Index, ch.Index+1)
		}
	}
	return out
}
