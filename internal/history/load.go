package history

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// TokenGenerator produces load token ids.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 token ids.
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined token ids, in order.
// Panics once exhausted so a test that starts more loads than it expects
// fails loudly.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedGenerator creates a generator that returns tokens in order.
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// Generate returns the next predetermined token.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		panic("FixedGenerator: all tokens exhausted")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}

// LoadToken is the completion handle for one bulk load.
//
// It resolves exactly once: successfully through ResolveLoad, or with an
// error when a newer load supersedes it or the loader fails.
type LoadToken struct {
	ID string

	done chan struct{}
	once sync.Once
	err  error
}

func newLoadToken(id string) *LoadToken {
	return &LoadToken{ID: id, done: make(chan struct{})}
}

// Done is closed once the token resolves.
func (t *LoadToken) Done() <-chan struct{} {
	return t.done
}

// Resolved reports whether the token has resolved.
func (t *LoadToken) Resolved() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Err returns the resolution error, or nil while unresolved or on success.
func (t *LoadToken) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the token resolves or ctx ends.
func (t *LoadToken) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *LoadToken) resolve(err error) bool {
	resolved := false
	t.once.Do(func() {
		t.err = err
		close(t.done)
		resolved = true
	})
	return resolved
}
