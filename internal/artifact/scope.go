package artifact

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrScopeClosed is returned by Put after Close.
var ErrScopeClosed = errors.New("artifact scope is closed")

// Scope tracks the references one owner created, grouped in named slots.
// Clearing a slot revokes everything in it; Close revokes everything.
type Scope struct {
	store  Store
	slots  map[string][]Ref
	mu     sync.Mutex
	closed bool
}

// NewScope creates a Scope storing into store.
func NewScope(store Store) *Scope {
	return &Scope{store: store, slots: make(map[string][]Ref)}
}

// Put stores data and records the reference in slot.
func (scope *Scope) Put(ctx context.Context, slot, name, mimeType string, data []byte) (Ref, error) {
	scope.mu.Lock()
	closed := scope.closed
	scope.mu.Unlock()

	if closed {
		return Ref{}, ErrScopeClosed
	}

	ref, putErr := scope.store.Put(ctx, name, mimeType, data)
	if putErr != nil {
		return Ref{}, putErr
	}

	scope.mu.Lock()
	defer scope.mu.Unlock()

	if scope.closed {
		return Ref{}, errors.Join(ErrScopeClosed, scope.store.Revoke(ctx, ref.ID))
	}

	scope.slots[slot] = append(scope.slots[slot], ref)

	return ref, nil
}

// Clear revokes every reference in slot.
func (scope *Scope) Clear(ctx context.Context, slot string) error {
	scope.mu.Lock()
	refs := scope.slots[slot]
	delete(scope.slots, slot)
	scope.mu.Unlock()

	return scope.revoke(ctx, refs)
}

// Refs returns the live references in slot, oldest first.
func (scope *Scope) Refs(slot string) []Ref {
	scope.mu.Lock()
	defer scope.mu.Unlock()

	return slices.Clone(scope.slots[slot])
}

// Owns reports whether id was created through this scope and is still live.
func (scope *Scope) Owns(id string) bool {
	scope.mu.Lock()
	defer scope.mu.Unlock()

	for _, refs := range scope.slots {
		for _, ref := range refs {
			if ref.ID == id {
				return true
			}
		}
	}

	return false
}

// Close revokes every reference and rejects further Puts.
func (scope *Scope) Close(ctx context.Context) error {
	scope.mu.Lock()
	scope.closed = true

	var refs []Ref
	for _, slotRefs := range scope.slots {
		refs = append(refs, slotRefs...)
	}

	scope.slots = make(map[string][]Ref)
	scope.mu.Unlock()

	return scope.revoke(ctx, refs)
}

func (scope *Scope) revoke(ctx context.Context, refs []Ref) error {
	var errs []error

	for _, ref := range refs {
		if revokeErr := scope.store.Revoke(ctx, ref.ID); revokeErr != nil {
			errs = append(errs, fmt.Errorf("revoke %s: %w", ref.ID, revokeErr))
		}
	}

	return errors.Join(errs...)
}
