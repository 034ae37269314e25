package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	History  []string // Final linear history for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFinal history:\n")
	for i, id := range e.History {
		fmt.Fprintf(&buf, "  [%d] %s\n", i, id)
	}

	return buf.String()
}

func historyIdentities(s *Snapshot) []string {
	ids := make([]string, len(s.History))
	for i, h := range s.History {
		ids[i] = h.Identity
	}
	return ids
}

func listString(ids []string) string {
	return "[" + strings.Join(ids, ", ") + "]"
}

// assertList compares an identity list exactly, order included.
func assertList(s *Snapshot, typ string, want, got []string) error {
	if slices.Equal(want, got) {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		Expected: listString(want),
		Actual:   listString(got),
		History:  historyIdentities(s),
	}
}

func assertLoaded(s *Snapshot, a Assertion) error {
	if s.Loaded == *a.Value {
		return nil
	}
	return &AssertionError{
		Type:     AssertLoaded,
		Expected: fmt.Sprintf("loaded=%t", *a.Value),
		Actual:   fmt.Sprintf("loaded=%t (roots %s)", s.Loaded, listString(s.Roots)),
		History:  historyIdentities(s),
	}
}

func assertPointer(s *Snapshot, typ, want, got string) error {
	if want == got {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		Expected: fmt.Sprintf("%q", want),
		Actual:   fmt.Sprintf("%q", got),
		History:  historyIdentities(s),
	}
}

func assertCount(s *Snapshot, typ string, want, got int, filter string) error {
	if want == got {
		return nil
	}
	label := typ
	if filter != "" {
		label = fmt.Sprintf("%s(%s)", typ, filter)
	}
	return &AssertionError{
		Type:     label,
		Expected: fmt.Sprintf("%d", want),
		Actual:   fmt.Sprintf("%d", got),
		History:  historyIdentities(s),
	}
}

func countFaults(s *Snapshot, code string) int {
	n := 0
	for _, f := range s.Faults {
		if code == "" || f.Code == code {
			n++
		}
	}
	return n
}

func countChanges(s *Snapshot, kind string) int {
	n := 0
	for _, c := range s.Changes {
		if kind == "" || c.Kind == kind {
			n++
		}
	}
	return n
}

// assertOutcome checks the most recent insert of an identity.
func assertOutcome(s *Snapshot, a Assertion) error {
	got := ""
	for _, o := range s.Outcomes {
		if o.Identity == a.Identity {
			got = o.Outcome
		}
	}
	if got == a.Outcome {
		return nil
	}
	if got == "" {
		got = "never inserted"
	}
	return &AssertionError{
		Type:     AssertOutcome,
		Expected: fmt.Sprintf("%s %s", a.Identity, a.Outcome),
		Actual:   fmt.Sprintf("%s %s", a.Identity, got),
		History:  historyIdentities(s),
	}
}

func assertLoadState(s *Snapshot, a Assertion) error {
	got := "never started"
	for _, l := range s.Loads {
		if l.ID == a.Token {
			got = l.State
		}
	}
	if got == a.State {
		return nil
	}
	return &AssertionError{
		Type:     AssertLoadState,
		Expected: fmt.Sprintf("%s %s", a.Token, a.State),
		Actual:   fmt.Sprintf("%s %s", a.Token, got),
		History:  historyIdentities(s),
	}
}

// EvaluateAssertions runs every assertion against the snapshot and returns
// the failure messages. An empty slice means all assertions passed.
func EvaluateAssertions(s *Snapshot, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertHistoryOrder:
			err = assertList(s, assertion.Type, nonNil(assertion.Identities), historyIdentities(s))
		case AssertRoots:
			err = assertList(s, assertion.Type, nonNil(assertion.Identities), s.Roots)
		case AssertOrphans:
			err = assertList(s, assertion.Type, nonNil(assertion.Identities), s.Orphans)
		case AssertLoaded:
			err = assertLoaded(s, assertion)
		case AssertLastDisplayed:
			err = assertPointer(s, assertion.Type, assertion.Identity, s.LastDisplayed)
		case AssertLastRead:
			err = assertPointer(s, assertion.Type, assertion.Identity, s.LastRead)
		case AssertHistoryLen:
			err = assertCount(s, assertion.Type, *assertion.Count, len(s.History), "")
		case AssertFaultCount:
			err = assertCount(s, assertion.Type, *assertion.Count, countFaults(s, assertion.Code), assertion.Code)
		case AssertChangeCount:
			err = assertCount(s, assertion.Type, *assertion.Count, countChanges(s, assertion.Kind), assertion.Kind)
		case AssertOutcome:
			err = assertOutcome(s, assertion)
		case AssertLoadState:
			err = assertLoadState(s, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
