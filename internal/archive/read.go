package archive

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/convlog/internal/ir"
)

// LoadConversation returns every stored record of a conversation in
// arrival order: ORDER BY seq ASC, identity ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if nothing is stored.
func (s *Store) LoadConversation(ctx context.Context, account, conversation string) ([]ir.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation, message_id, legacy_id, parent_id, timestamp,
		       author, contact, kind, status, body, read, seq
		FROM records
		WHERE account = ? AND conversation = ?
		ORDER BY seq ASC, identity COLLATE BINARY ASC
	`, account, conversation)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	recs := []ir.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return recs, nil
}

func scanRecord(rows *sql.Rows) (ir.Record, error) {
	var (
		rec          ir.Record
		kind, status string
		body         string
		read         int
	)
	err := rows.Scan(
		&rec.Conversation,
		&rec.MessageID,
		&rec.ID,
		&rec.ParentID,
		&rec.Timestamp,
		&rec.Author,
		&rec.Contact,
		&kind,
		&status,
		&body,
		&read,
		&rec.Seq,
	)
	if err != nil {
		return ir.Record{}, fmt.Errorf("scan record: %w", err)
	}

	rec.Kind = ir.Kind(kind)
	rec.Status = ir.Status(status)
	rec.Read = read != 0
	rec.Body, err = unmarshalBody(body)
	if err != nil {
		return ir.Record{}, fmt.Errorf("record %s: %w", rec.Identity(), err)
	}
	return rec, nil
}

// Conversations lists every stored conversation ordered by account then
// conversation.
func (s *Store) Conversations(ctx context.Context) ([]ir.ConversationRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account, conversation, mode
		FROM conversations
		ORDER BY account COLLATE BINARY ASC, conversation COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	refs := []ir.ConversationRef{}
	for rows.Next() {
		var ref ir.ConversationRef
		var mode string
		if err := rows.Scan(&ref.Account, &ref.Conversation, &mode); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		ref.Mode = ir.Mode(mode)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return refs, nil
}

// MaxSeq returns the highest stored seq, or 0 for an empty archive.
// Used to resume the engine clock.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM records`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("read max seq: %w", err)
	}
	return seq.Int64, nil
}
