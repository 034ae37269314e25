package history

import (
	"slices"

	"github.com/roach88/convlog/internal/ir"
)

// LegacyOrdering keeps records ordered by timestamp alone.
//
// Inserts append and mark the history dirty. The stable sort runs only
// when an ordered view is requested while dirty, so a burst of inserts
// costs one sort.
type LegacyOrdering struct {
	known      map[string]*ir.Record
	buckets    map[int64][]*ir.Record
	timestamps []int64
	history    []*ir.Record
	dirty      bool
	sortPasses int
}

// NewLegacyOrdering creates an empty legacy ordering.
func NewLegacyOrdering() *LegacyOrdering {
	l := &LegacyOrdering{}
	l.Reset()
	return l
}

// Reset empties the buckets and the linear history and clears dirty.
func (l *LegacyOrdering) Reset() {
	l.known = make(map[string]*ir.Record)
	l.buckets = make(map[int64][]*ir.Record)
	l.timestamps = nil
	l.history = nil
	l.dirty = false
}

// Insert adds rec to its timestamp bucket and appends it to the history.
// A record at or past the newest known timestamp is a new leaf.
func (l *LegacyOrdering) Insert(rec *ir.Record) (Outcome, []Placement) {
	id := rec.Identity()
	if _, ok := l.known[id]; ok {
		return OutcomeDuplicate, nil
	}

	outcome := OutcomeInserted
	if n := len(l.timestamps); n == 0 || rec.Timestamp >= l.timestamps[n-1] {
		outcome = OutcomeNewLeaf
	}

	l.known[id] = rec
	if _, ok := l.buckets[rec.Timestamp]; !ok {
		i, _ := slices.BinarySearch(l.timestamps, rec.Timestamp)
		l.timestamps = slices.Insert(l.timestamps, i, rec.Timestamp)
	}
	l.buckets[rec.Timestamp] = append(l.buckets[rec.Timestamp], rec)
	l.history = append(l.history, rec)
	l.dirty = true

	return outcome, []Placement{{Record: rec, Index: -1}}
}

// sortHistory stable-sorts by timestamp. No-op while clean.
func (l *LegacyOrdering) sortHistory() {
	if !l.dirty {
		return
	}
	slices.SortStableFunc(l.history, func(a, b *ir.Record) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		}
		return 0
	})
	l.dirty = false
	l.sortPasses++
}

// Dirty reports whether the history needs a sort pass.
func (l *LegacyOrdering) Dirty() bool {
	return l.dirty
}

// SortPasses returns how many sort passes have run.
func (l *LegacyOrdering) SortPasses() int {
	return l.sortPasses
}

// Get returns a record by identity.
func (l *LegacyOrdering) Get(identity string) (*ir.Record, bool) {
	r, ok := l.known[identity]
	return r, ok
}

// Lookup scans the bucket at the patch timestamp for the identity.
func (l *LegacyOrdering) Lookup(p ir.Patch) (*ir.Record, bool) {
	for _, r := range l.buckets[p.Timestamp] {
		if r.Identity() == p.Identity {
			return r, true
		}
	}
	return nil, false
}

// Position returns the sorted index of a record, or -1 while the history
// is dirty or the record is absent.
func (l *LegacyOrdering) Position(identity string) int {
	if l.dirty {
		return -1
	}
	return lastIndexOf(l.history, identity)
}

// Remove deletes a record from its bucket and from the history. The
// history is sorted first so the returned position is meaningful.
func (l *LegacyOrdering) Remove(identity string) (*ir.Record, int, bool) {
	l.sortHistory()

	pos := lastIndexOf(l.history, identity)
	rec, known := l.known[identity]
	if !known && pos < 0 {
		return nil, -1, false
	}
	if pos >= 0 {
		rec = l.history[pos]
		l.history = slices.Delete(l.history, pos, pos+1)
	}
	if !known {
		return rec, pos, true
	}

	delete(l.known, identity)
	bucket := slices.DeleteFunc(l.buckets[rec.Timestamp], func(r *ir.Record) bool {
		return r.Identity() == identity
	})
	if len(bucket) == 0 {
		delete(l.buckets, rec.Timestamp)
		if i, found := slices.BinarySearch(l.timestamps, rec.Timestamp); found {
			l.timestamps = slices.Delete(l.timestamps, i, i+1)
		}
	} else {
		l.buckets[rec.Timestamp] = bucket
	}
	return rec, pos, true
}

// Seed appends a synthetic record to the history only.
func (l *LegacyOrdering) Seed(rec *ir.Record) {
	l.history = append(l.history, rec)
	if len(l.history) > 1 {
		l.dirty = true
	}
}

// IsAfter compares timestamps.
func (l *LegacyOrdering) IsAfter(candidate, current *ir.Record) (bool, error) {
	return candidate.Timestamp > current.Timestamp, nil
}

// History returns the sorted linear history.
func (l *LegacyOrdering) History() []*ir.Record {
	l.sortHistory()
	return l.history
}

// Loaded reports whether any real record is held.
func (l *LegacyOrdering) Loaded() bool {
	return len(l.known) > 0
}

// Roots is always empty: legacy records carry no parent pointers.
func (l *LegacyOrdering) Roots() []string {
	return nil
}

// Orphans is always empty.
func (l *LegacyOrdering) Orphans() []string {
	return nil
}

// Len returns the number of records in the history.
func (l *LegacyOrdering) Len() int {
	return len(l.history)
}
