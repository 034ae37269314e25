package archive

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/convlog/internal/ir"
)

const (
	testAccount = "acct-1"
	testConv    = "swarm:abc"
)

// createTestStore opens a fresh archive in a temp dir with the test
// conversation already saved.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.SaveConversation(context.Background(), testAccount, testConv, ir.ModeOneToOne); err != nil {
		t.Fatalf("SaveConversation() failed: %v", err)
	}
	return s
}

func createTestRecord(id, parent string, seq int64) ir.Record {
	return ir.Record{
		MessageID:    id,
		ParentID:     parent,
		Timestamp:    1_700_000_000_000 + seq,
		Author:       "alice",
		Contact:      "alice",
		Kind:         ir.KindText,
		Status:       ir.StatusSuccess,
		Body:         ir.Text("hello " + id),
		Seq:          seq,
		Conversation: testConv,
	}
}
