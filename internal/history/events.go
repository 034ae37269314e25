package history

import (
	"log/slog"

	"github.com/roach88/convlog/internal/ir"
	"github.com/roach88/convlog/internal/notify"
)

// ChangeKind classifies an entry on the Changes topic.
type ChangeKind string

const (
	ChangeAdd    ChangeKind = "add"
	ChangeUpdate ChangeKind = "update"
	ChangeRemove ChangeKind = "remove"

	// ChangeMove reports that an already visible record changed position
	// because a missing ancestor arrived. Its content is unchanged; apply it
	// by removing the record and reinserting it at Index.
	ChangeMove ChangeKind = "move"
)

// Change is one element mutation. Record is a copy taken at emission time.
// Index is the position in the linear history after the change (before it,
// for removals), or -1 when not known without sorting.
type Change struct {
	Kind   ChangeKind `json:"kind"`
	Record ir.Record  `json:"record"`
	Index  int        `json:"index"`
}

// Events groups the observable streams of one conversation.
//
// Changes, Cleared and Faults deliver each value once. The others replay
// their latest value to new subscribers.
type Events struct {
	Changes       *notify.Topic[Change]
	Cleared       *notify.Topic[[]ir.Record]
	Faults        *notify.Topic[*Fault]
	LastDisplayed *notify.Topic[ir.Record]
	Visibility    *notify.Topic[bool]
	Mode          *notify.Topic[ir.Mode]
	Composing     *notify.Topic[[]string]
	Contacts      *notify.Topic[[]string]
}

func newEvents(buffer int, logger *slog.Logger) *Events {
	e := &Events{
		Changes:       notify.NewEventTopic[Change]("changes", buffer),
		Cleared:       notify.NewEventTopic[[]ir.Record]("cleared", buffer),
		Faults:        notify.NewEventTopic[*Fault]("faults", buffer),
		LastDisplayed: notify.NewReplayTopic[ir.Record]("last_displayed", buffer),
		Visibility:    notify.NewReplayTopic[bool]("visibility", buffer),
		Mode:          notify.NewReplayTopic[ir.Mode]("mode", buffer),
		Composing:     notify.NewReplayTopic[[]string]("composing", buffer),
		Contacts:      notify.NewReplayTopic[[]string]("contacts", buffer),
	}
	e.Changes.SetLogger(logger)
	e.Cleared.SetLogger(logger)
	e.Faults.SetLogger(logger)
	e.LastDisplayed.SetLogger(logger)
	e.Visibility.SetLogger(logger)
	e.Mode.SetLogger(logger)
	e.Composing.SetLogger(logger)
	e.Contacts.SetLogger(logger)
	return e
}

func (e *Events) close() {
	e.Changes.Close()
	e.Cleared.Close()
	e.Faults.Close()
	e.LastDisplayed.Close()
	e.Visibility.Close()
	e.Mode.Close()
	e.Composing.Close()
	e.Contacts.Close()
}
