package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/convlog/internal/history"
	"github.com/roach88/convlog/internal/ir"
)

// Restore opens every archived conversation with its stored mode and
// begins a bulk load for each. Tokens are returned in archive order.
//
// Restore is safe to repeat: records already held are duplicates and
// leave the history untouched, so a second restore converges to the
// same state as the first.
//
// Loaded records keep the seq they were stamped with, and the clock is
// advanced past the highest one, so new arrivals sort after them in the
// archive.
func (e *Engine) Restore(ctx context.Context) ([]*history.LoadToken, error) {
	if e.archive == nil {
		return nil, fmt.Errorf("restore: no archive configured")
	}

	refs, err := e.archive.Conversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", wrapArchive("list conversations", err))
	}

	tokens := make([]*history.LoadToken, 0, len(refs))
	var errs []error
	for _, ref := range refs {
		mode := ref.Mode
		if mode == "" {
			mode = ir.ModeOneToOne
		}
		key := Key{Account: ref.Account, Conversation: ref.Conversation}
		e.Open(key, mode)

		tok, err := e.Load(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tokens = append(tokens, tok)
	}

	e.logger.Info("restore started", "conversations", len(refs))
	return tokens, errors.Join(errs...)
}
