package core

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type trackedEntry struct {
	id    uuid.UUID
	kind  string
	label string
}

// Tracker hands out identifiers to the resources of one owner and remembers
// which of them are still alive.
type Tracker struct {
	mu      sync.Mutex
	entries []trackedEntry
	index   map[uuid.UUID]int
}

func NewTracker() *Tracker {
	return &Tracker{index: make(map[uuid.UUID]int)}
}

// Acquire registers a new live resource and returns its identifier.
func (t *Tracker) Acquire(kind, label string) uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := uuid.New()
	t.index[id] = len(t.entries)
	t.entries = append(t.entries, trackedEntry{id: id, kind: kind, label: label})
	return id
}

// Release forgets a resource. Releasing an unknown identifier is an error.
func (t *Tracker) Release(id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.index[id]
	if !ok {
		return fmt.Errorf("identifier %s is not tracked: %w", id, ErrInvalidUsage)
	}
	last := len(t.entries) - 1
	if i != last {
		t.entries[i] = t.entries[last]
		t.index[t.entries[i].id] = i
	}
	t.entries = t.entries[:last]
	delete(t.index, id)
	return nil
}

// Has reports whether id is alive.
func (t *Tracker) Has(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.index[id]
	return ok
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Live returns a "kind(label)" description of every live resource.
func (t *Tracker) Live() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, fmt.Sprintf("%s(%s)", e.kind, e.label))
	}
	return out
}
