package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/convlog/internal/archive"
	"github.com/roach88/convlog/internal/ir"
)

func archiveRecord(conv, id, parent string, ts, seq int64) ir.Record {
	return ir.Record{
		MessageID:    id,
		ParentID:     parent,
		Timestamp:    ts,
		Author:       "alice",
		Kind:         ir.KindText,
		Status:       ir.StatusSuccess,
		Body:         ir.Text("hello " + id),
		Seq:          seq,
		Conversation: conv,
	}
}

// seedArchive writes a swarm chain A <- B <- C and a legacy conversation
// whose rows arrive newest first.
func seedArchive(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "convlog.db")

	st, err := archive.Open(path)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.SaveConversation(ctx, "acct", "swarm:abc", ir.ModeOneToOne))
	for i, r := range []ir.Record{
		archiveRecord("swarm:abc", "A", "", 1000, 1),
		archiveRecord("swarm:abc", "B", "A", 2000, 2),
		archiveRecord("swarm:abc", "C", "B", 3000, 3),
	} {
		require.NoError(t, st.WriteRecord(ctx, "acct", r), "record %d", i)
	}

	require.NoError(t, st.SaveConversation(ctx, "acct", "ring:old", ir.ModeLegacy))
	for _, r := range []ir.Record{
		{ID: 7, Timestamp: 3000, Kind: ir.KindText, Status: ir.StatusSuccess, Seq: 4, Conversation: "ring:old"},
		{ID: 5, Timestamp: 1000, Kind: ir.KindText, Status: ir.StatusSuccess, Seq: 5, Conversation: "ring:old"},
		{ID: 6, Timestamp: 2000, Kind: ir.KindText, Status: ir.StatusSuccess, Seq: 6, Conversation: "ring:old"},
	} {
		require.NoError(t, st.WriteRecord(ctx, "acct", r))
	}
	return path
}

func TestInspect_ReportsRestoredHistory(t *testing.T) {
	db := seedArchive(t)
	opts := &InspectOptions{
		RootOptions: testRootOptions("json"),
		Database:    db,
		History:     true,
		Timeout:     defaultTestTimeout,
	}
	var out bytes.Buffer

	require.NoError(t, runInspect(context.Background(), opts, &out, &bytes.Buffer{}))

	var result InspectResult
	env := decodeResponse(t, out.Bytes(), &result)
	assert.Equal(t, "ok", env.Status)
	require.Equal(t, 2, result.Total)

	// sorted by account then conversation
	legacy, swarm := result.Conversations[0], result.Conversations[1]

	assert.Equal(t, "ring:old", legacy.Conversation)
	assert.Equal(t, "legacy", legacy.Mode)
	assert.Equal(t, 3, legacy.Records)
	require.Len(t, legacy.History, 3)
	assert.Equal(t, []string{"5", "6", "7"}, identitiesOf(legacy.History))

	assert.Equal(t, "swarm:abc", swarm.Conversation)
	assert.True(t, swarm.Loaded)
	assert.Empty(t, swarm.Roots)
	assert.Equal(t, []string{"A", "B", "C"}, identitiesOf(swarm.History))
	assert.Equal(t, ir.HistoryDigest([]string{"A", "B", "C"}), swarm.Digest)
	assert.Nil(t, swarm.Deterministic, "only set with --verify")
}

func identitiesOf(lines []RecordLine) []string {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.Identity
	}
	return ids
}

func TestInspect_Verify(t *testing.T) {
	db := seedArchive(t)
	opts := &InspectOptions{
		RootOptions: testRootOptions("text"),
		Database:    db,
		Verify:      true,
		Timeout:     defaultTestTimeout,
	}
	var out bytes.Buffer

	require.NoError(t, runInspect(context.Background(), opts, &out, &bytes.Buffer{}))
	assert.Contains(t, out.String(), "acct/swarm:abc (one_to_one)")
	assert.Contains(t, out.String(), "✓ deterministic")
	assert.Contains(t, out.String(), "Total: 2 conversation(s)")
	assert.Contains(t, out.String(), "✓ All conversations rebuild deterministically")
}

func TestInspect_FilterConversation(t *testing.T) {
	db := seedArchive(t)
	opts := &InspectOptions{
		RootOptions:  testRootOptions("json"),
		Database:     db,
		Conversation: "swarm:abc",
		Timeout:      defaultTestTimeout,
	}
	var out bytes.Buffer

	require.NoError(t, runInspect(context.Background(), opts, &out, &bytes.Buffer{}))

	var result InspectResult
	decodeResponse(t, out.Bytes(), &result)
	require.Equal(t, 1, result.Total)
	assert.Equal(t, "swarm:abc", result.Conversations[0].Conversation)
	assert.Empty(t, result.Conversations[0].History)
}

func TestInspect_DatabaseFromConfig(t *testing.T) {
	db := seedArchive(t)
	root := testRootOptions("json")
	root.Config.Archive.Path = db
	opts := &InspectOptions{RootOptions: root, Timeout: defaultTestTimeout}
	var out bytes.Buffer

	require.NoError(t, runInspect(context.Background(), opts, &out, &bytes.Buffer{}))

	var result InspectResult
	decodeResponse(t, out.Bytes(), &result)
	assert.Equal(t, 2, result.Total)
}

func TestInspect_MissingArchive(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.db")
	opts := &InspectOptions{RootOptions: testRootOptions("text"), Database: missing, Timeout: time.Second}

	err := runInspect(context.Background(), opts, &bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.NoFileExists(t, missing, "inspect must not create an archive")
}

func TestInspect_NoArchiveConfigured(t *testing.T) {
	opts := &InspectOptions{RootOptions: testRootOptions("text"), Timeout: time.Second}

	err := runInspect(context.Background(), opts, &bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no archive")
}

func TestInspect_EmptyArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	st, err := archive.Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	opts := &InspectOptions{RootOptions: testRootOptions("text"), Database: path, Timeout: time.Second}
	var out bytes.Buffer
	require.NoError(t, runInspect(context.Background(), opts, &out, &bytes.Buffer{}))
	assert.Contains(t, out.String(), "No conversations found")
}

func TestOrderingMode(t *testing.T) {
	db := seedArchive(t)
	opts := &InspectOptions{RootOptions: testRootOptions("json"), Database: db, Timeout: defaultTestTimeout}

	st, err := archive.Open(db)
	require.NoError(t, err)
	defer st.Close()

	eng, err := restoreEngine(context.Background(), opts, st, opts.logger(&bytes.Buffer{}))
	require.NoError(t, err)
	defer eng.Close()

	for _, key := range eng.Keys() {
		conv, _ := eng.Conversation(key)
		want := ir.ModeOneToOne
		if key.Conversation == "ring:old" {
			want = ir.ModeLegacy
		}
		assert.Equal(t, want, orderingMode(conv), key.String())
	}
}
