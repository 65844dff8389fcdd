// Package dedupe provides an atomic seen-set used as a uniqueness index.
//
// The in-memory ledger relies on it the way the relational store relies on a
// UNIQUE constraint: check-and-record happens under one lock, so two
// concurrent inserts of the same key can never both succeed.
package dedupe

import (
	"context"
	"strings"
	"sync"
)

// keySep never appears in user ids or client event ids.
const keySep = "\x1f"

// Deduper records seen keys.
type Deduper interface {
	// SeenAndRecord atomically checks if key was seen and records it if not.
	// Returns true if key was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, key string) bool

	// Seen reports whether key is recorded, without recording it.
	Seen(ctx context.Context, key string) bool
}

// Key joins parts into a composite index key.
func Key(parts ...string) string {
	return strings.Join(parts, keySep)
}

type inMemoryDeduper struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewInMemoryDeduper creates an unbounded in-memory deduper. Entries are never
// evicted: dropping one would silently turn a uniqueness violation into an insert.
func NewInMemoryDeduper() Deduper {
	return &inMemoryDeduper{seen: make(map[string]struct{})}
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[key]; exists {
		return true
	}
	d.seen[key] = struct{}{}
	return false
}

func (d *inMemoryDeduper) Seen(_ context.Context, key string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, exists := d.seen[key]
	return exists
}
