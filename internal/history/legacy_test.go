package history

import (
	"testing"

	"github.com/roach88/convlog/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func legacyOrdering(t *testing.T, c *Conversation) *LegacyOrdering {
	t.Helper()
	l, ok := c.Ordering().(*LegacyOrdering)
	require.True(t, ok, "legacy mode must select LegacyOrdering")
	return l
}

func timestamps(recs []ir.Record) []int64 {
	out := make([]int64, len(recs))
	for i, r := range recs {
		out[i] = r.Timestamp
	}
	return out
}

func TestLegacyOrdersByTimestamp(t *testing.T) {
	c := newTestConversation(t, ir.ModeLegacy)

	assert.Equal(t, OutcomeNewLeaf, mustInsert(t, c, legacyMsg(1, 30)))
	assert.Equal(t, OutcomeInserted, mustInsert(t, c, legacyMsg(2, 10)))
	assert.Equal(t, OutcomeInserted, mustInsert(t, c, legacyMsg(3, 20)))

	assert.Equal(t, []int64{10, 20, 30}, timestamps(c.SortedHistory()))
	assert.True(t, c.IsLoaded())
	assert.Empty(t, c.Roots())
}

func TestLegacyDisplayAdvancesByTimestamp(t *testing.T) {
	c := newTestConversation(t, ir.ModeLegacy)
	mustInsert(t, c, legacyMsg(1, 30))
	mustInsert(t, c, legacyMsg(2, 10))
	mustInsert(t, c, legacyMsg(3, 20))

	require.True(t, c.UpdateInteraction(ir.Patch{Identity: "2", Timestamp: 10, Status: ir.StatusDisplayed}))
	require.True(t, c.UpdateInteraction(ir.Patch{Identity: "3", Timestamp: 20, Status: ir.StatusDisplayed}))

	last, ok := c.LastDisplayed()
	require.True(t, ok)
	assert.Equal(t, int64(20), last.Timestamp)

	require.True(t, c.UpdateInteraction(ir.Patch{Identity: "2", Timestamp: 10, Status: ir.StatusDisplayed}))
	last, _ = c.LastDisplayed()
	assert.Equal(t, int64(20), last.Timestamp, "display pointer never regresses")
}

func TestLegacyUpdateNeedsMatchingBucket(t *testing.T) {
	c := newTestConversation(t, ir.ModeLegacy)
	mustInsert(t, c, legacyMsg(1, 30))
	faults := c.Events().Faults.Subscribe()
	defer faults.Unsubscribe()

	assert.False(t, c.UpdateInteraction(ir.Patch{Identity: "1", Timestamp: 31, Status: ir.StatusFailure}))
	got := drain(faults)
	require.Len(t, got, 1)
	assert.Equal(t, FaultUnknownUpdateTarget, got[0].Code)

	rec, _ := c.Get("1")
	assert.Equal(t, ir.StatusSuccess, rec.Status)
}

func TestLegacySortIsLazy(t *testing.T) {
	c := newTestConversation(t, ir.ModeLegacy)
	l := legacyOrdering(t, c)

	mustInsert(t, c, legacyMsg(1, 30))
	mustInsert(t, c, legacyMsg(2, 10))
	assert.True(t, l.Dirty())
	assert.Zero(t, l.SortPasses())

	c.SortedHistory()
	assert.False(t, l.Dirty())
	assert.Equal(t, 1, l.SortPasses())

	c.SortedHistory()
	c.Identities()
	assert.Equal(t, 1, l.SortPasses(), "no sort pass while clean")

	mustInsert(t, c, legacyMsg(3, 20))
	id, ok := c.MarkTailRead()
	require.True(t, ok)
	assert.Equal(t, "1", id)
	assert.Equal(t, 2, l.SortPasses())
}

func TestLegacySortIsStable(t *testing.T) {
	c := newTestConversation(t, ir.ModeLegacy)
	mustInsert(t, c, legacyMsg(5, 10))
	mustInsert(t, c, legacyMsg(1, 10))
	mustInsert(t, c, legacyMsg(3, 5))

	assert.Equal(t, []string{"3", "5", "1"}, c.Identities())
}

func TestLegacyDuplicateAndRemove(t *testing.T) {
	c := newTestConversation(t, ir.ModeLegacy)
	mustInsert(t, c, legacyMsg(1, 10))
	mustInsert(t, c, legacyMsg(2, 20))

	assert.Equal(t, OutcomeDuplicate, mustInsert(t, c, legacyMsg(1, 99)))

	sub := c.Events().Changes.Subscribe()
	defer sub.Unsubscribe()

	assert.True(t, c.Remove("1"))
	assert.False(t, c.Remove("1"))
	assert.Equal(t, []string{"2"}, c.Identities())
	assert.False(t, c.UpdateInteraction(ir.Patch{Identity: "1", Timestamp: 10, Status: ir.StatusFailure}))

	changes := drain(sub)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeRemove, changes[0].Kind)
	assert.Equal(t, 0, changes[0].Index)
}

func TestLegacyModeSurvivesSetMode(t *testing.T) {
	c := newTestConversation(t, ir.ModeLegacy)
	c.SetMode(ir.ModePublic)

	assert.Equal(t, ir.ModePublic, c.Mode())
	legacyOrdering(t, c)
}
