package history

import (
	"errors"
	"fmt"

	"github.com/roach88/convlog/internal/ir"
)

// ErrIllegalState marks an operation that is not valid in the current
// conversation state.
var ErrIllegalState = errors.New("illegal state")

// ErrLoadSuperseded is delivered to a load token replaced by a newer
// BeginLoad before it resolved.
var ErrLoadSuperseded = fmt.Errorf("load superseded: %w", ErrIllegalState)

// FaultCode categorizes reconciliation anomalies.
type FaultCode string

const (
	// FaultOrphanInsertion: a swarm record could not be anchored and was
	// withheld from the linear history.
	FaultOrphanInsertion FaultCode = "ORPHAN_INSERTION"

	// FaultDuplicateLoadToken: BeginLoad was called while a previous load
	// was still unresolved.
	FaultDuplicateLoadToken FaultCode = "DUPLICATE_LOAD_TOKEN"

	// FaultUnknownUpdateTarget: a status patch named a record the store
	// does not hold.
	FaultUnknownUpdateTarget FaultCode = "UNKNOWN_UPDATE_TARGET"

	// FaultMissingAuthorResolution: a record in a multi-party conversation
	// carries no author.
	FaultMissingAuthorResolution FaultCode = "MISSING_AUTHOR_RESOLUTION"

	// FaultAncestryCycle: a parent walk revisited an identity or ran past
	// its step budget.
	FaultAncestryCycle FaultCode = "ANCESTRY_CYCLE"
)

// Fault is a typed, structured anomaly report.
type Fault struct {
	// Code identifies the fault category.
	Code FaultCode `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Conversation is the URI of the affected conversation.
	Conversation string `json:"conversation,omitempty"`

	// Identity is the record the fault concerns, if any.
	Identity string `json:"identity,omitempty"`

	// ParentID is the record's causal parent, if relevant.
	ParentID string `json:"parent_id,omitempty"`

	// Details contains additional context.
	Details map[string]string `json:"details,omitempty"`
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.Identity != "" {
		return fmt.Sprintf("%s: %s (conversation=%s, record=%s)", f.Code, f.Message, f.Conversation, f.Identity)
	}
	return fmt.Sprintf("%s: %s (conversation=%s)", f.Code, f.Message, f.Conversation)
}

// IsFault reports whether err is a *Fault with the given code.
// Uses errors.As to handle wrapped errors.
func IsFault(err error, code FaultCode) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code == code
	}
	return false
}

func newOrphanFault(rec *ir.Record) *Fault {
	return &Fault{
		Code:     FaultOrphanInsertion,
		Message:  "record has no anchor in the linear history",
		Identity: rec.Identity(),
		ParentID: rec.ParentID,
	}
}

func newUnknownTargetFault(p ir.Patch) *Fault {
	return &Fault{
		Code:     FaultUnknownUpdateTarget,
		Message:  "update names a record that is not in the store",
		Identity: p.Identity,
		Details: map[string]string{
			"status":    string(p.Status),
			"timestamp": fmt.Sprintf("%d", p.Timestamp),
		},
	}
}

func newMissingAuthorFault(rec *ir.Record, participants int) *Fault {
	return &Fault{
		Code:     FaultMissingAuthorResolution,
		Message:  "record has no author and the conversation has several participants",
		Identity: rec.Identity(),
		Details: map[string]string{
			"participants": fmt.Sprintf("%d", participants),
		},
	}
}

func newDuplicateLoadFault(previous, next string) *Fault {
	return &Fault{
		Code:    FaultDuplicateLoadToken,
		Message: "load started while a previous load was unresolved",
		Details: map[string]string{
			"previous": previous,
			"next":     next,
		},
	}
}

func newAncestryFault(identity, revisited string, steps int) *Fault {
	return &Fault{
		Code:     FaultAncestryCycle,
		Message:  "parent walk did not terminate",
		Identity: identity,
		Details: map[string]string{
			"at":    revisited,
			"steps": fmt.Sprintf("%d", steps),
		},
	}
}
