package selector

import (
	"sync"

	"github.com/dudu/faceswap/internal/detector"
)

// ReferenceStore pins the faces reference mode compares against. It is
// filled once per run and shared by every frame worker.
type ReferenceStore struct {
	mu    sync.RWMutex
	faces []detector.Face
}

// NewReferenceStore returns an empty store
func NewReferenceStore() *ReferenceStore {
	return &ReferenceStore{}
}

// Set replaces the pinned faces
func (r *ReferenceStore) Set(faces ...detector.Face) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faces = append([]detector.Face(nil), faces...)
}

// Faces returns a copy of the pinned faces
func (r *ReferenceStore) Faces() []detector.Face {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]detector.Face(nil), r.faces...)
}

// Empty reports whether no reference is pinned
func (r *ReferenceStore) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.faces) == 0
}

// Clear drops every pinned face
func (r *ReferenceStore) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faces = nil
}
