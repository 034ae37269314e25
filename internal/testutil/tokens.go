package testutil

import (
	"strconv"
	"sync/atomic"
)

// SequentialTokens generates load token ids "<prefix>-1", "<prefix>-2", ...
//
// Unlike history.FixedGenerator it never runs out, which suits scenario
// files that start an arbitrary number of loads. The same scenario run
// with a fresh generator produces byte-identical snapshots.
//
// Thread-safety: SequentialTokens is safe for concurrent use.
type SequentialTokens struct {
	prefix string
	n      atomic.Int64
}

// NewSequentialTokens creates a generator. An empty prefix means "load".
func NewSequentialTokens(prefix string) *SequentialTokens {
	if prefix == "" {
		prefix = "load"
	}
	return &SequentialTokens{prefix: prefix}
}

// Generate returns the next token id.
//
// Implements history.TokenGenerator.
func (g *SequentialTokens) Generate() string {
	return g.prefix + "-" + strconv.FormatInt(g.n.Add(1), 10)
}
