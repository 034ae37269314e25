package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/convlog/internal/ir"
)

func TestLoadConversation_Empty(t *testing.T) {
	s := createTestStore(t)

	recs, err := s.LoadConversation(context.Background(), testAccount, testConv)
	require.NoError(t, err)
	assert.NotNil(t, recs, "empty load returns an empty slice")
	assert.Empty(t, recs)
}

func TestLoadConversation_OrderedBySeqThenIdentity(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// written out of seq order; b and a share a seq
	for _, rec := range []ir.Record{
		createTestRecord("c", "b", 3),
		createTestRecord("b", "", 1),
		createTestRecord("a", "", 1),
		createTestRecord("d", "c", 2),
	} {
		require.NoError(t, s.WriteRecord(ctx, testAccount, rec))
	}

	recs, err := s.LoadConversation(ctx, testAccount, testConv)
	require.NoError(t, err)

	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.Identity()
	}
	assert.Equal(t, []string{"a", "b", "d", "c"}, ids)
}

func TestLoadConversation_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := createTestRecord("m1", "m0", 7)
	rec.Body = ir.IRObject{
		"text":  ir.IRString("caf\u00e9"),
		"n":     ir.IRInt(1 << 60),
		"flags": ir.IRArray{ir.IRBool(true), ir.IRString("x")},
	}
	rec.Read = true
	require.NoError(t, s.WriteRecord(ctx, testAccount, rec))

	recs, err := s.LoadConversation(ctx, testAccount, testConv)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec, recs[0])
}

func TestLoadConversation_ScopedByAccount(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveConversation(ctx, "acct-2", testConv, ir.ModeOneToOne))
	require.NoError(t, s.WriteRecord(ctx, testAccount, createTestRecord("m1", "", 1)))
	require.NoError(t, s.WriteRecord(ctx, "acct-2", createTestRecord("m2", "", 2)))

	recs, err := s.LoadConversation(ctx, "acct-2", testConv)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "m2", recs[0].MessageID)
}

func TestConversations_Sorted(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveConversation(ctx, "acct-0", "z", ir.ModeLegacy))
	require.NoError(t, s.SaveConversation(ctx, testAccount, "a", ir.ModePublic))

	refs, err := s.Conversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ir.ConversationRef{
		{Account: "acct-0", Conversation: "z", Mode: ir.ModeLegacy},
		{Account: testAccount, Conversation: "a", Mode: ir.ModePublic},
		{Account: testAccount, Conversation: testConv, Mode: ir.ModeOneToOne},
	}, refs)
}

func TestMaxSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq, err := s.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	require.NoError(t, s.WriteRecord(ctx, testAccount, createTestRecord("m1", "", 4)))
	require.NoError(t, s.WriteRecord(ctx, testAccount, createTestRecord("m2", "m1", 11)))

	seq, err = s.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(11), seq)
}
