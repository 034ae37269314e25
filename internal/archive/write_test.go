package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/convlog/internal/ir"
)

func TestWriteRecord_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := createTestRecord("m1", "", 1)
	require.NoError(t, s.WriteRecord(ctx, testAccount, rec))

	// redelivery with different content keeps the stored row
	changed := rec
	changed.Body = ir.Text("edited")
	changed.Seq = 9
	require.NoError(t, s.WriteRecord(ctx, testAccount, changed))

	recs, err := s.LoadConversation(ctx, testAccount, testConv)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ir.Text("hello m1"), recs[0].Body)
	assert.Equal(t, int64(1), recs[0].Seq)
}

func TestWriteRecord_StoresDigest(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := createTestRecord("m1", "", 1)
	require.NoError(t, s.WriteRecord(ctx, testAccount, rec))

	var digest string
	err := s.db.QueryRow(`SELECT digest FROM records WHERE identity = ?`, "m1").Scan(&digest)
	require.NoError(t, err)
	assert.Equal(t, ir.MustRecordDigest(rec), digest)
}

func TestWriteRecord_RequiresConversation(t *testing.T) {
	s := createTestStore(t)
	rec := createTestRecord("m1", "", 1)
	rec.Conversation = "never-saved"

	err := s.WriteRecord(context.Background(), testAccount, rec)
	assert.Error(t, err, "foreign key should reject a record without its conversation")
}

func TestWriteRecord_LegacyIdentity(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := ir.Record{
		ID:           42,
		Timestamp:    1000,
		Kind:         ir.KindCall,
		Status:       ir.StatusSuccess,
		Conversation: testConv,
		Seq:          1,
	}
	require.NoError(t, s.WriteRecord(ctx, testAccount, rec))

	recs, err := s.LoadConversation(ctx, testAccount, testConv)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec, recs[0])
	assert.Equal(t, "42", recs[0].Identity())
}

func TestUpdateStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteRecord(ctx, testAccount, createTestRecord("m1", "", 1)))
	require.NoError(t, s.UpdateStatus(ctx, testAccount, testConv, "m1", ir.StatusDisplayed))

	// unknown identities are ignored
	require.NoError(t, s.UpdateStatus(ctx, testAccount, testConv, "nope", ir.StatusDisplayed))

	recs, err := s.LoadConversation(ctx, testAccount, testConv)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ir.StatusDisplayed, recs[0].Status)
}

func TestMarkRead(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteRecord(ctx, testAccount, createTestRecord("m1", "", 1)))
	require.NoError(t, s.MarkRead(ctx, testAccount, testConv, "m1"))

	recs, err := s.LoadConversation(ctx, testAccount, testConv)
	require.NoError(t, err)
	assert.True(t, recs[0].Read)
}

func TestDeleteRecord(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteRecord(ctx, testAccount, createTestRecord("m1", "", 1)))
	require.NoError(t, s.WriteRecord(ctx, testAccount, createTestRecord("m2", "m1", 2)))
	require.NoError(t, s.DeleteRecord(ctx, testAccount, testConv, "m1"))

	recs, err := s.LoadConversation(ctx, testAccount, testConv)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "m2", recs[0].MessageID)
}

func TestClearConversation_KeepsConversationRow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteRecord(ctx, testAccount, createTestRecord("m1", "", 1)))
	require.NoError(t, s.ClearConversation(ctx, testAccount, testConv))

	recs, err := s.LoadConversation(ctx, testAccount, testConv)
	require.NoError(t, err)
	assert.Empty(t, recs)

	refs, err := s.Conversations(ctx)
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

func TestSaveConversation_UpdatesMode(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveConversation(ctx, testAccount, testConv, ir.ModePublic))

	refs, err := s.Conversations(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, ir.ModePublic, refs[0].Mode)
}
