package core

// DisplayMessage is the payload forwarded to display sinks: once per
// appended transcript entry and once per audio-state transition
// (loading -> speaking -> done).
type DisplayMessage struct {
	ConversationID string `json:"conversation_id"`
	Speaker        string `json:"speaker"`
	Ordinal        int    `json:"ordinal,omitempty"`
	Text           string `json:"text,omitempty"`
	Kind           Kind   `json:"kind"`

	// Loading is true while audio generation for this entry is outstanding.
	Loading bool `json:"loading,omitempty"`
	// Speaking is true while the entry's audio is playing.
	Speaking bool `json:"speaking,omitempty"`
}

// Sink receives display updates. Implementations must tolerate being
// called from arbitrary goroutines; the engine makes no UI-thread
// assumptions.
type Sink interface {
	OnMessage(msg DisplayMessage)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(DisplayMessage)

// OnMessage implements Sink.
func (f SinkFunc) OnMessage(msg DisplayMessage) { f(msg) }
