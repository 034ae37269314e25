package history

import (
	"slices"

	"github.com/roach88/convlog/internal/ir"
)

// SwarmOrdering linearizes records linked by parent pointers.
//
// Placement rules, tried in order:
//
//  1. tail: the history holds no real record yet, or its last record is
//     the parent. Append. (NewLeaf)
//  2. root: some placed record names this one as its parent. Insert before
//     the first such record, unless the parent is already placed further
//     down, in which case insert after the parent. (Inserted)
//  3. mid: the parent is placed. Insert right after it. (Inserted)
//  4. parked: the parent is a known hole. Append; the ancestor will be
//     root-inserted in front of it when it arrives. (Inserted)
//  5. otherwise the record is orphaned: indexed, not placed. (Orphaned)
//
// After a placement, descendants sitting in front of the record are moved
// behind it as one order-preserving block, and orphans connected to the
// record are placed in turn. Together these keep every placed record
// behind its placed parent for any arrival order.
type SwarmOrdering struct {
	index    map[string]*ir.Record
	children map[string][]string
	roots    map[string]struct{}
	orphans  map[string]struct{}
	history  []*ir.Record
	maxWalk  int
}

// NewSwarmOrdering creates an empty swarm ordering. maxWalk bounds parent
// walks; zero or less means bounded only by the index size.
func NewSwarmOrdering(maxWalk int) *SwarmOrdering {
	s := &SwarmOrdering{maxWalk: maxWalk}
	s.Reset()
	return s
}

// Reset empties the index and the linear history.
func (s *SwarmOrdering) Reset() {
	s.index = make(map[string]*ir.Record)
	s.children = make(map[string][]string)
	s.roots = make(map[string]struct{})
	s.orphans = make(map[string]struct{})
	s.history = nil
}

// Insert indexes and places rec.
func (s *SwarmOrdering) Insert(rec *ir.Record) (Outcome, []Placement) {
	id := rec.Identity()
	if _, ok := s.index[id]; ok {
		return OutcomeDuplicate, nil
	}

	s.index[id] = rec
	delete(s.roots, id)
	if rec.ParentID != "" {
		s.children[rec.ParentID] = append(s.children[rec.ParentID], id)
		if _, known := s.index[rec.ParentID]; !known {
			s.roots[rec.ParentID] = struct{}{}
		}
	}

	outcome := s.place(rec)
	if outcome == OutcomeOrphaned {
		s.orphans[id] = struct{}{}
		return outcome, nil
	}

	placed := append([]Placement{{Record: rec, Index: s.Position(id)}}, s.settle(rec)...)
	return outcome, placed
}

// place applies the placement rules. The record must already be indexed.
func (s *SwarmOrdering) place(rec *ir.Record) Outcome {
	id := rec.Identity()

	tail := s.lastReal()
	if tail < 0 || s.history[tail].Identity() == rec.ParentID {
		s.history = append(s.history, rec)
		return OutcomeNewLeaf
	}

	if child := s.firstChild(id); child >= 0 {
		parent := -1
		if rec.ParentID != "" {
			parent = lastIndexOf(s.history, rec.ParentID)
		}
		if parent < child {
			s.insertAt(child, rec)
		} else {
			s.insertAt(parent+1, rec)
		}
		return OutcomeInserted
	}

	if rec.ParentID == "" {
		return OutcomeOrphaned
	}
	if parent := lastIndexOf(s.history, rec.ParentID); parent >= 0 {
		s.insertAt(parent+1, rec)
		return OutcomeInserted
	}
	if _, hole := s.roots[rec.ParentID]; hole {
		s.history = append(s.history, rec)
		return OutcomeInserted
	}
	return OutcomeOrphaned
}

// settle restores causal order around a freshly placed record and places
// orphans it connects, breadth first.
func (s *SwarmOrdering) settle(rec *ir.Record) []Placement {
	var out []Placement
	work := []*ir.Record{rec}

	for len(work) > 0 {
		r := work[0]
		work = work[1:]

		out = append(out, s.adoptDescendants(r)...)

		connected := make([]string, 0, 1+len(s.children[r.Identity()]))
		if r.ParentID != "" {
			connected = append(connected, r.ParentID)
		}
		connected = append(connected, s.children[r.Identity()]...)

		for _, id := range connected {
			if _, orphan := s.orphans[id]; !orphan {
				continue
			}
			o := s.index[id]
			if s.place(o) == OutcomeOrphaned {
				continue
			}
			delete(s.orphans, id)
			out = append(out, Placement{Record: o, Index: s.Position(id)})
			work = append(work, o)
		}
	}
	return out
}

// adoptDescendants moves descendants of rec that precede it to directly
// after it, preserving their relative order. Records move one at a time so
// each placement index holds right after its own move.
func (s *SwarmOrdering) adoptDescendants(rec *ir.Record) []Placement {
	id := rec.Identity()
	if len(s.children[id]) == 0 {
		return nil
	}
	at := lastIndexOf(s.history, id)
	if at <= 0 {
		return nil
	}

	desc := s.descendants(id)
	var moved []*ir.Record
	for _, r := range s.history[:at] {
		if _, ok := desc[r.Identity()]; ok {
			moved = append(moved, r)
		}
	}

	out := make([]Placement, 0, len(moved))
	anchor := id
	for _, r := range moved {
		from := lastIndexOf(s.history, r.Identity())
		s.history = slices.Delete(s.history, from, from+1)
		to := lastIndexOf(s.history, anchor) + 1
		s.insertAt(to, r)
		out = append(out, Placement{Record: r, Index: to, Moved: true})
		anchor = r.Identity()
	}
	return out
}

func (s *SwarmOrdering) descendants(id string) map[string]struct{} {
	desc := make(map[string]struct{})
	queue := append([]string(nil), s.children[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, seen := desc[next]; seen || next == id {
			continue
		}
		desc[next] = struct{}{}
		queue = append(queue, s.children[next]...)
	}
	return desc
}

func (s *SwarmOrdering) firstChild(id string) int {
	if len(s.children[id]) == 0 {
		return -1
	}
	for i, r := range s.history {
		if r.ParentID == id {
			return i
		}
	}
	return -1
}

// lastReal returns the index of the last non-synthetic record, or -1.
func (s *SwarmOrdering) lastReal() int {
	for i := len(s.history) - 1; i >= 0; i-- {
		if !s.history[i].Synthetic {
			return i
		}
	}
	return -1
}

func (s *SwarmOrdering) insertAt(i int, rec *ir.Record) {
	s.history = slices.Insert(s.history, i, rec)
}

// Get returns an indexed record.
func (s *SwarmOrdering) Get(identity string) (*ir.Record, bool) {
	r, ok := s.index[identity]
	return r, ok
}

// Lookup finds a patch target in the index. The patch timestamp is ignored.
func (s *SwarmOrdering) Lookup(p ir.Patch) (*ir.Record, bool) {
	return s.Get(p.Identity)
}

// Position returns the record's index in the linear history, or -1.
func (s *SwarmOrdering) Position(identity string) int {
	return lastIndexOf(s.history, identity)
}

// Remove deletes a record. Its identity becomes a root again when indexed
// records still point at it.
func (s *SwarmOrdering) Remove(identity string) (*ir.Record, int, bool) {
	pos := lastIndexOf(s.history, identity)
	rec, indexed := s.index[identity]
	if !indexed && pos < 0 {
		return nil, -1, false
	}
	if pos >= 0 {
		rec = s.history[pos]
		s.history = slices.Delete(s.history, pos, pos+1)
	}
	if !indexed {
		return rec, pos, true
	}

	delete(s.index, identity)
	delete(s.orphans, identity)
	if p := rec.ParentID; p != "" {
		s.children[p] = slices.DeleteFunc(s.children[p], func(c string) bool { return c == identity })
		if len(s.children[p]) == 0 {
			delete(s.children, p)
			delete(s.roots, p)
		}
	}
	if len(s.children[identity]) > 0 {
		s.roots[identity] = struct{}{}
	}
	return rec, pos, true
}

// Seed appends a synthetic record to the linear history only.
func (s *SwarmOrdering) Seed(rec *ir.Record) {
	s.history = append(s.history, rec)
}

// IsAfter reports whether current is a strict ancestor of candidate.
//
// The walk follows parent pointers through the index and stops at the
// first missing record. Revisiting an identity or exceeding the step
// budget yields an ANCESTRY_CYCLE fault.
func (s *SwarmOrdering) IsAfter(candidate, current *ir.Record) (bool, error) {
	target := current.Identity()
	budget := s.maxWalk
	if budget <= 0 {
		budget = len(s.index) + 1
	}

	seen := map[string]struct{}{candidate.Identity(): {}}
	parent := candidate.ParentID
	for steps := 0; parent != ""; steps++ {
		if parent == target {
			return true, nil
		}
		if _, dup := seen[parent]; dup {
			return false, newAncestryFault(candidate.Identity(), parent, steps)
		}
		if steps >= budget {
			return false, newAncestryFault(candidate.Identity(), parent, steps)
		}
		seen[parent] = struct{}{}

		next, ok := s.index[parent]
		if !ok {
			return false, nil
		}
		parent = next.ParentID
	}
	return false, nil
}

// History returns the linear history.
func (s *SwarmOrdering) History() []*ir.Record {
	return s.history
}

// Loaded reports whether at least one record is indexed and no parent is
// missing.
func (s *SwarmOrdering) Loaded() bool {
	return len(s.index) > 0 && len(s.roots) == 0
}

// Roots returns the missing parent identities, sorted.
func (s *SwarmOrdering) Roots() []string {
	return sortedKeys(s.roots)
}

// Orphans returns withheld record identities, sorted.
func (s *SwarmOrdering) Orphans() []string {
	return sortedKeys(s.orphans)
}

// Len returns the number of records in the linear history.
func (s *SwarmOrdering) Len() int {
	return len(s.history)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
