package core

import "errors"

// ErrNotFound is returned by stores when no conversation has the given id.
var ErrNotFound = errors.New("conversation not found")

// Store persists conversation snapshots. The engine checkpoints after every
// appended message and loads persisted sessions for resumption after a
// restart. Implementations must be safe for concurrent use.
type Store interface {
	// Save persists a snapshot of the conversation.
	Save(conv *Conversation) error
	// Load returns the conversation with the given id, or ErrNotFound.
	Load(id string) (*Conversation, error)
	// Delete removes the conversation. Deleting an unknown id is not an error.
	Delete(id string) error
	// List returns all persisted conversations.
	List() ([]*Conversation, error)
}
