package harness

import "github.com/roach88/convlog/internal/ir"

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Errors lists step and assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Snapshot is the state captured after the last step.
	Snapshot Snapshot `json:"snapshot"`
}

// NewResult creates a passing result.
func NewResult(name string) *Result {
	return &Result{
		Pass:     true,
		Errors:   []string{},
		Snapshot: Snapshot{Scenario: name},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Snapshot is everything a scenario observed. Wall-clock values are left
// out so snapshots are reproducible.
type Snapshot struct {
	Scenario      string         `json:"scenario"`
	Mode          string         `json:"mode"`
	History       []HistoryEntry `json:"history"`
	Roots         []string       `json:"roots"`
	Orphans       []string       `json:"orphans"`
	Loaded        bool           `json:"loaded"`
	LastDisplayed string         `json:"last_displayed"`
	LastRead      string         `json:"last_read"`
	Outcomes      []OutcomeEntry `json:"outcomes"`
	Changes       []ChangeEntry  `json:"changes"`
	Cleared       int            `json:"cleared"`
	Faults        []FaultEntry   `json:"faults"`
	Loads         []LoadEntry    `json:"loads"`
}

// HistoryEntry is one record of the final linear history.
type HistoryEntry struct {
	Identity  string `json:"identity"`
	ParentID  string `json:"parent_id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Read      bool   `json:"read"`
	Synthetic bool   `json:"synthetic"`
}

// OutcomeEntry is the result of one insert step.
type OutcomeEntry struct {
	Identity string `json:"identity"`
	Outcome  string `json:"outcome"`
}

// ChangeEntry is one value observed on the Changes topic.
type ChangeEntry struct {
	Kind     string `json:"kind"`
	Identity string `json:"identity"`
	Index    int    `json:"index"`
}

// FaultEntry is one value observed on the Faults topic.
type FaultEntry struct {
	Code     string `json:"code"`
	Identity string `json:"identity"`
}

// LoadEntry is a load token and how it ended.
type LoadEntry struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// Load token states.
const (
	LoadPending    = "pending"
	LoadResolved   = "resolved"
	LoadSuperseded = "superseded"
	LoadFailed     = "failed"
)

// canonical converts the snapshot to IR values so it can be serialized
// with ir.MarshalCanonical.
func (s *Snapshot) canonical() ir.IRObject {
	history := make(ir.IRArray, len(s.History))
	for i, h := range s.History {
		history[i] = ir.IRObject{
			"identity":  ir.IRString(h.Identity),
			"parent_id": ir.IRString(h.ParentID),
			"kind":      ir.IRString(h.Kind),
			"status":    ir.IRString(h.Status),
			"read":      ir.IRBool(h.Read),
			"synthetic": ir.IRBool(h.Synthetic),
		}
	}
	outcomes := make(ir.IRArray, len(s.Outcomes))
	for i, o := range s.Outcomes {
		outcomes[i] = ir.IRObject{
			"identity": ir.IRString(o.Identity),
			"outcome":  ir.IRString(o.Outcome),
		}
	}
	changes := make(ir.IRArray, len(s.Changes))
	for i, c := range s.Changes {
		changes[i] = ir.IRObject{
			"kind":     ir.IRString(c.Kind),
			"identity": ir.IRString(c.Identity),
			"index":    ir.IRInt(c.Index),
		}
	}
	faults := make(ir.IRArray, len(s.Faults))
	for i, f := range s.Faults {
		faults[i] = ir.IRObject{
			"code":     ir.IRString(f.Code),
			"identity": ir.IRString(f.Identity),
		}
	}
	loads := make(ir.IRArray, len(s.Loads))
	for i, l := range s.Loads {
		loads[i] = ir.IRObject{
			"id":    ir.IRString(l.ID),
			"state": ir.IRString(l.State),
		}
	}

	return ir.IRObject{
		"scenario":       ir.IRString(s.Scenario),
		"mode":           ir.IRString(s.Mode),
		"history":        history,
		"roots":          stringArray(s.Roots),
		"orphans":        stringArray(s.Orphans),
		"loaded":         ir.IRBool(s.Loaded),
		"last_displayed": ir.IRString(s.LastDisplayed),
		"last_read":      ir.IRString(s.LastRead),
		"outcomes":       outcomes,
		"changes":        changes,
		"cleared":        ir.IRInt(s.Cleared),
		"faults":         faults,
		"loads":          loads,
	}
}

func stringArray(ss []string) ir.IRArray {
	arr := make(ir.IRArray, len(ss))
	for i, s := range ss {
		arr[i] = ir.IRString(s)
	}
	return arr
}
