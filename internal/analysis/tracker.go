package analysis

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Operation is one in-flight analysis.
type Operation struct {
	ID  string
	Ctx context.Context
}

// Tracker holds the single current operation. Beginning a new operation
// cancels the previous one and makes its ID stale.
type Tracker struct {
	mu      sync.Mutex
	current string
	cancel  context.CancelFunc
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Begin starts a new operation derived from parent.
func (t *Tracker) Begin(parent context.Context) Operation {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	t.current = id
	t.cancel = cancel
	return Operation{ID: id, Ctx: ctx}
}

// IsCurrent reports whether id is the current operation.
func (t *Tracker) IsCurrent(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return id != "" && id == t.current
}

// Finish runs commit while id is still current and then releases the slot.
// A stale id gets ErrSuperseded and commit is not called. Holding the lock
// across commit keeps a newer operation from starting mid-write.
func (t *Tracker) Finish(id string, commit func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == "" || id != t.current {
		return ErrSuperseded
	}

	var err error
	if commit != nil {
		err = commit()
	}
	t.releaseLocked()
	return err
}

// Release frees the slot if id is still current. Used on failure paths.
func (t *Tracker) Release(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id != "" && id == t.current {
		t.releaseLocked()
	}
}

func (t *Tracker) releaseLocked() {
	if t.cancel != nil {
		t.cancel()
	}
	t.current = ""
	t.cancel = nil
}
