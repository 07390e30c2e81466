package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KnowledgeDoc describes one document of a participant's personal knowledge
// base. The engine only carries the descriptions through to prompts; the
// retrieval subsystem itself is an external collaborator.
type KnowledgeDoc struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Participant describes one character taking part in a conversation. The
// engine treats it as read-only configuration.
type Participant struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Role    string   `json:"role"`
	Persona string   `json:"persona"` // base personality prompt
	Traits  []string `json:"traits,omitempty"`

	ToolNames []string       `json:"tools,omitempty"`
	Knowledge []KnowledgeDoc `json:"knowledge,omitempty"`

	// APIKey is the optional per-participant credential. When empty the
	// engine falls back to its session-level default.
	APIKey string `json:"api_key,omitempty"`

	// Voice is the optional assigned TTS voice; empty disables speech for
	// this participant even when the conversation has voices enabled.
	Voice string `json:"voice,omitempty"`

	// Ordinal is the stable 1-based position assigned at session start,
	// carried through to display sinks for bubble alignment.
	Ordinal int `json:"ordinal,omitempty"`

	CreatedAt time.Time `json:"created_at,omitzero"`
}

// NewParticipant creates a participant with a generated id.
func NewParticipant(name, role, persona string) Participant {
	return Participant{
		ID:        fmt.Sprintf("agent_%s", ShortID()),
		Name:      name,
		Role:      role,
		Persona:   persona,
		CreatedAt: time.Now().UTC(),
	}
}

// ShortID returns an 8-character hex identifier fragment.
func ShortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NewID generates a new unique identifier.
func NewID() string { return uuid.NewString() }
