package core

// Kind classifies a transcript entry.
type Kind string

const (
	// KindAgent marks dialogue spoken by a participant.
	KindAgent Kind = "agent"
	// KindUser marks a message injected by the human user.
	KindUser Kind = "user"
	// KindSystem marks engine-authored announcements (scene changes,
	// termination, explicit stop).
	KindSystem Kind = "system"
	// KindSynopsis marks the condensed summary entry that may lead a
	// per-participant context log. It never appears in the global log.
	KindSynopsis Kind = "synopsis"
)

// UserSpeaker is the speaker name attached to user-injected messages.
const UserSpeaker = "User"

// SystemSpeaker is the speaker name attached to engine announcements.
const SystemSpeaker = "System"

// Message is a single transcript entry. Messages are value types; once
// appended to a conversation they are never mutated.
type Message struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	Kind    Kind   `json:"kind"`
}

// NewAgentMessage creates a dialogue entry spoken by the named participant.
func NewAgentMessage(speaker, text string) Message {
	return Message{Speaker: speaker, Text: text, Kind: KindAgent}
}

// NewUserMessage creates a user-injected entry.
func NewUserMessage(text string) Message {
	return Message{Speaker: UserSpeaker, Text: text, Kind: KindUser}
}

// NewSystemMessage creates an engine announcement entry.
func NewSystemMessage(text string) Message {
	return Message{Speaker: SystemSpeaker, Text: text, Kind: KindSystem}
}

// NewSynopsis creates the leading summary entry of a condensed context log.
func NewSynopsis(text string) Message {
	return Message{Text: text, Kind: KindSynopsis}
}

// IsSynopsis reports whether the message is a context-log summary marker.
func (m Message) IsSynopsis() bool { return m.Kind == KindSynopsis }

// Signature identifies a message by content. It is used when folding
// global-log entries into per-participant context logs so a repeated fold
// never duplicates an entry.
func (m Message) Signature() string { return m.Speaker + "\x1f" + m.Text }
