// Package artifact keeps conversion outputs behind revocable references.
//
// A Store holds artifact bytes; a Scope records which references one owner
// (a flow) created, so they can be revoked when superseded or when the owner
// is torn down.
package artifact

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown or revoked artifact IDs.
var ErrNotFound = errors.New("artifact not found")

// Artifact is a stored output blob.
type Artifact struct {
	ID       string
	Name     string
	MIMEType string
	Data     []byte
}

// Ref is a revocable reference to an Artifact.
type Ref struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Store keeps artifacts until they are revoked.
type Store interface {
	Put(ctx context.Context, name, mimeType string, data []byte) (Ref, error)
	Get(ctx context.Context, id string) (Artifact, error)
	Revoke(ctx context.Context, id string) error
}

func newRef(name, mimeType string, size int) Ref {
	return Ref{
		ID:       uuid.New().String(),
		Name:     name,
		MIMEType: mimeType,
		Size:     int64(size),
	}
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	artifacts map[string]Artifact
	mu        sync.RWMutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{artifacts: make(map[string]Artifact)}
}

// Put implements Store.
func (store *MemoryStore) Put(_ context.Context, name, mimeType string, data []byte) (Ref, error) {
	ref := newRef(name, mimeType, len(data))

	store.mu.Lock()
	store.artifacts[ref.ID] = Artifact{ID: ref.ID, Name: name, MIMEType: mimeType, Data: data}
	store.mu.Unlock()

	return ref, nil
}

// Get implements Store.
func (store *MemoryStore) Get(_ context.Context, id string) (Artifact, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	stored, ok := store.artifacts[id]
	if !ok {
		return Artifact{}, ErrNotFound
	}

	return stored, nil
}

// Revoke implements Store. Revoking an unknown ID is not an error.
func (store *MemoryStore) Revoke(_ context.Context, id string) error {
	store.mu.Lock()
	delete(store.artifacts, id)
	store.mu.Unlock()

	return nil
}

// Len reports how many artifacts are live.
func (store *MemoryStore) Len() int {
	store.mu.RLock()
	defer store.mu.RUnlock()

	return len(store.artifacts)
}
