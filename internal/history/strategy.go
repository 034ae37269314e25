package history

import "github.com/roach88/convlog/internal/ir"

// Outcome reports what an insert did.
type Outcome int

const (
	// OutcomeDuplicate: the identity was already known; nothing changed.
	OutcomeDuplicate Outcome = iota + 1

	// OutcomeNewLeaf: the record was appended at the tail, extending the
	// latest chain.
	OutcomeNewLeaf

	// OutcomeInserted: the record was placed somewhere other than a tail
	// extension.
	OutcomeInserted

	// OutcomeOrphaned: the record is indexed but withheld from the linear
	// history until an anchor arrives.
	OutcomeOrphaned
)

// String returns the snake_case outcome name used in logs and scenarios.
func (o Outcome) String() string {
	switch o {
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeNewLeaf:
		return "new_leaf"
	case OutcomeInserted:
		return "inserted"
	case OutcomeOrphaned:
		return "orphaned"
	default:
		return "unknown"
	}
}

// Placement is a record whose position in the linear history was assigned
// (Moved == false) or changed (Moved == true) by an insert.
type Placement struct {
	Record *ir.Record
	Index  int
	Moved  bool
}

// OrderingStrategy owns the record index and the linear history of one
// conversation and decides where records go.
//
// Implementations are not safe for concurrent use; Conversation serializes
// every call.
type OrderingStrategy interface {
	// Insert indexes rec and places it. Placements list every record that
	// became visible or moved, in the order it happened. Each index is the
	// position right after that step, so applying the placements in order
	// reproduces the history (-1 when not known without sorting).
	Insert(rec *ir.Record) (Outcome, []Placement)

	// Get returns an indexed record by identity.
	Get(identity string) (*ir.Record, bool)

	// Lookup locates the target of a status patch.
	Lookup(p ir.Patch) (*ir.Record, bool)

	// Position returns the record's index in the linear history, or -1.
	Position(identity string) int

	// Remove deletes a record from the index and the linear history and
	// returns its former position (-1 if it was not in the history).
	Remove(identity string) (*ir.Record, int, bool)

	// Reset empties the index and the linear history.
	Reset()

	// Seed appends a record to the linear history only. Used for synthetic
	// placeholders, which never enter the index.
	Seed(rec *ir.Record)

	// IsAfter reports whether candidate is ordered after current.
	IsAfter(candidate, current *ir.Record) (bool, error)

	// History returns the linear history in render order. The slice is
	// owned by the strategy.
	History() []*ir.Record

	// Loaded reports whether the history is complete.
	Loaded() bool

	// Roots returns unresolved parent identities, sorted.
	Roots() []string

	// Orphans returns withheld record identities, sorted.
	Orphans() []string

	// Len returns the number of records in the linear history.
	Len() int
}

// newOrdering selects the strategy for a conversation mode.
func newOrdering(mode ir.Mode, maxWalk int) OrderingStrategy {
	if mode == ir.ModeLegacy {
		return NewLegacyOrdering()
	}
	return NewSwarmOrdering(maxWalk)
}

func lastIndexOf(history []*ir.Record, identity string) int {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Identity() == identity {
			return i
		}
	}
	return -1
}
