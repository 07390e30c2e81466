package store

import (
	"sync"

	"github.com/stagecast/stagecast/core"
)

// MemoryStore keeps conversation snapshots in a map. Intended for tests and
// ephemeral runs; snapshots are deep copies, so later mutation of a stored
// conversation does not leak into the store.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*core.Conversation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*core.Conversation)}
}

// Save stores a snapshot of the conversation.
func (s *MemoryStore) Save(conv *core.Conversation) error {
	snapshot := conv.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[snapshot.ID] = snapshot
	return nil
}

// Load returns a copy of the stored conversation.
func (s *MemoryStore) Load(id string) (*core.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return conv.Clone(), nil
}

// Delete removes the conversation. Unknown ids are not an error.
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, id)
	return nil
}

// List returns copies of every stored conversation.
func (s *MemoryStore) List() ([]*core.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.Conversation, 0, len(s.convs))
	for _, conv := range s.convs {
		out = append(out, conv.Clone())
	}
	return out, nil
}
