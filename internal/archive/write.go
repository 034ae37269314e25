package archive

import (
	"context"
	"fmt"

	"github.com/roach88/convlog/internal/ir"
)

// SaveConversation records a conversation and its mode. Saving again
// updates the mode.
func (s *Store) SaveConversation(ctx context.Context, account, conversation string, mode ir.Mode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (account, conversation, mode)
		VALUES (?, ?, ?)
		ON CONFLICT(account, conversation) DO UPDATE SET mode = excluded.mode
	`, account, conversation, string(mode))
	if err != nil {
		return fmt.Errorf("save conversation %s/%s: %w", account, conversation, err)
	}
	return nil
}

// WriteRecord inserts a record under account and rec.Conversation.
// Uses ON CONFLICT DO NOTHING for idempotency - a known identity is
// silently ignored and the stored row wins.
//
// The conversation must have been saved first (foreign key constraint).
func (s *Store) WriteRecord(ctx context.Context, account string, rec ir.Record) error {
	id := rec.Identity()

	body, err := marshalBody(rec.Body)
	if err != nil {
		return fmt.Errorf("write record %s: %w", id, err)
	}
	digest, err := ir.RecordDigest(rec)
	if err != nil {
		return fmt.Errorf("write record %s: %w", id, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records
		(account, conversation, identity, message_id, legacy_id, parent_id, timestamp,
		 author, contact, kind, status, body, digest, read, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		account,
		rec.Conversation,
		id,
		rec.MessageID,
		rec.ID,
		rec.ParentID,
		rec.Timestamp,
		rec.Author,
		rec.Contact,
		string(rec.Kind),
		string(rec.Status),
		body,
		digest,
		boolToInt(rec.Read),
		rec.Seq,
	)
	if err != nil {
		return fmt.Errorf("write record %s: %w", id, err)
	}
	return nil
}

// UpdateStatus sets the status of a stored record. Updating an identity
// that is not stored is not an error.
func (s *Store) UpdateStatus(ctx context.Context, account, conversation, identity string, status ir.Status) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE records SET status = ?
		WHERE account = ? AND conversation = ? AND identity = ?
	`, string(status), account, conversation, identity)
	if err != nil {
		return fmt.Errorf("update status %s: %w", identity, err)
	}
	return nil
}

// MarkRead sets the read flag of a stored record.
func (s *Store) MarkRead(ctx context.Context, account, conversation, identity string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE records SET read = 1
		WHERE account = ? AND conversation = ? AND identity = ?
	`, account, conversation, identity)
	if err != nil {
		return fmt.Errorf("mark read %s: %w", identity, err)
	}
	return nil
}

// DeleteRecord removes one record.
func (s *Store) DeleteRecord(ctx context.Context, account, conversation, identity string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM records
		WHERE account = ? AND conversation = ? AND identity = ?
	`, account, conversation, identity)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", identity, err)
	}
	return nil
}

// ClearConversation removes every record of a conversation. The
// conversation row and its mode are kept.
func (s *Store) ClearConversation(ctx context.Context, account, conversation string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM records WHERE account = ? AND conversation = ?
	`, account, conversation)
	if err != nil {
		return fmt.Errorf("clear conversation %s/%s: %w", account, conversation, err)
	}
	return nil
}
