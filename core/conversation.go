package core

import (
	"fmt"
	"sync"
	"time"
)

// Status is a conversation lifecycle state.
type Status string

const (
	// StatusActive means turns are being scheduled.
	StatusActive Status = "active"
	// StatusPaused means the session is suspended and can be resumed.
	StatusPaused Status = "paused"
	// StatusStopped is terminal: the user ended the session explicitly.
	StatusStopped Status = "stopped"
	// StatusCompleted is terminal: the termination condition was met.
	StatusCompleted Status = "completed"
)

// Terminal reports whether no further turns may ever run.
func (s Status) Terminal() bool { return s == StatusStopped || s == StatusCompleted }

// Policy selects the turn-taking strategy for a conversation.
type Policy string

const (
	// PolicyRoundRobin cycles through participants in ordinal order.
	PolicyRoundRobin Policy = "round_robin"
	// PolicyAgentSelector lets an LLM judge pick each next speaker.
	PolicyAgentSelector Policy = "agent_selector"
	// PolicyHumanLike runs rounds of 1-3 concurrent speakers.
	PolicyHumanLike Policy = "human_like_chat"
)

// Config is the immutable part of a conversation, fixed at creation.
// Environment and Scene are the only fields the engine may later mutate,
// through an explicit scene change.
type Config struct {
	Title                string        `json:"title"`
	Environment          string        `json:"environment"`
	Scene                string        `json:"scene"`
	Participants         []Participant `json:"participants"`
	Policy               Policy        `json:"policy"`
	TerminationCondition string        `json:"termination_condition,omitempty"`
	SelectorAPIKey       string        `json:"selector_api_key,omitempty"`
	VoicesEnabled        bool          `json:"voices_enabled"`
}

// contextLog is a per-participant derived view of the global log. Entries
// is the bounded window handed to that participant's next prompt; Synced
// counts how many global entries have already been folded in, so condensed
// (summarized-away) entries are never resurrected by a later fold.
type contextLog struct {
	Entries []Message `json:"entries"`
	Synced  int       `json:"synced"`
}

// Conversation is the stateful session object tying configuration, status
// and the turn cursor together. The global message log is the single source
// of truth; per-participant context logs are derived, bounded views of it.
// All exported methods are safe for concurrent use.
type Conversation struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`

	Config Config `json:"config"`

	Status   Status                 `json:"status"`
	Messages []Message              `json:"messages"`
	Contexts map[string]*contextLog `json:"contexts"`

	// Cursor is the current-speaker index for the round-robin and
	// agent-selector policies. The human-like policy ignores it.
	Cursor int `json:"cursor"`

	// Invocations counts completed speaking turns per participant,
	// used for the termination-reminder cadence and selector context.
	Invocations map[string]int `json:"invocations"`

	// Rounds counts completed cycles (full round-robin wraps, or
	// human-like rounds).
	Rounds int `json:"rounds"`

	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`

	mu sync.RWMutex
}

// NewConversation creates an active conversation from the given config,
// assigning ids and stable participant ordinals.
func NewConversation(cfg Config) *Conversation {
	for i := range cfg.Participants {
		cfg.Participants[i].Ordinal = i + 1
	}
	now := time.Now().UTC()
	c := &Conversation{
		ID:          fmt.Sprintf("conv_%s", ShortID()),
		ThreadID:    fmt.Sprintf("thread_%s", ShortID()),
		Config:      cfg,
		Status:      StatusActive,
		Contexts:    make(map[string]*contextLog, len(cfg.Participants)),
		Invocations: make(map[string]int, len(cfg.Participants)),
		Created:     now,
		Updated:     now,
	}
	if c.Config.Title == "" {
		c.Config.Title = c.ID
	}
	return c
}

// normalize repairs maps that may be nil after JSON decoding.
func (c *Conversation) normalize() {
	if c.Contexts == nil {
		c.Contexts = make(map[string]*contextLog)
	}
	if c.Invocations == nil {
		c.Invocations = make(map[string]int)
	}
}

// Append adds a message to the end of the global log. Existing entries are
// never touched: the log is strictly append-only.
func (c *Conversation) Append(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Messages = append(c.Messages, msg)
	c.Updated = time.Now().UTC()
}

// Len returns the global log length.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.Messages)
}

// Tail returns a copy of the last n global-log entries (all of them when
// fewer exist).
func (c *Conversation) Tail(n int) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n > len(c.Messages) {
		n = len(c.Messages)
	}
	out := make([]Message, n)
	copy(out, c.Messages[len(c.Messages)-n:])
	return out
}

// ContextFor returns the named participant's context log, first folding in
// any global-log entries not yet present. Folding dedups by signature, so
// repeating it never duplicates an entry. The returned slice is a copy.
func (c *Conversation) ContextFor(name string) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.normalize()
	cl := c.Contexts[name]
	if cl == nil {
		cl = &contextLog{}
		c.Contexts[name] = cl
	}
	if cl.Synced < len(c.Messages) {
		seen := make(map[string]struct{}, len(cl.Entries))
		for _, m := range cl.Entries {
			if !m.IsSynopsis() {
				seen[m.Signature()] = struct{}{}
			}
		}
		for _, m := range c.Messages[cl.Synced:] {
			if _, dup := seen[m.Signature()]; dup {
				continue
			}
			cl.Entries = append(cl.Entries, m)
			seen[m.Signature()] = struct{}{}
		}
		cl.Synced = len(c.Messages)
	}
	out := make([]Message, len(cl.Entries))
	copy(out, cl.Entries)
	return out
}

// SetContext replaces the named participant's context log, typically after
// summarization condensed it. The fold position is preserved so condensed
// entries stay gone.
func (c *Conversation) SetContext(name string, entries []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.normalize()
	cl := c.Contexts[name]
	if cl == nil {
		cl = &contextLog{}
		c.Contexts[name] = cl
	}
	cl.Entries = make([]Message, len(entries))
	copy(cl.Entries, entries)
}

// Transition moves the conversation to the given status, enforcing the
// legal lifecycle: active<->paused, active/paused->stopped,
// active->completed. Terminal states reject every transition.
func (c *Conversation) Transition(to Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	from := c.Status
	if from.Terminal() {
		return fmt.Errorf("conversation %s is %s: cannot transition to %s", c.ID, from, to)
	}
	switch to {
	case StatusPaused, StatusCompleted:
		if from != StatusActive {
			return fmt.Errorf("cannot transition %s from %s", to, from)
		}
	case StatusActive:
		if from != StatusPaused && from != StatusActive {
			return fmt.Errorf("cannot transition %s from %s", to, from)
		}
	case StatusStopped:
		// allowed from any non-terminal state
	default:
		return fmt.Errorf("unknown status %q", to)
	}
	c.Status = to
	c.Updated = time.Now().UTC()
	return nil
}

// CurrentStatus returns the lifecycle state.
func (c *Conversation) CurrentStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Status
}

// Active reports whether turns may currently be scheduled.
func (c *Conversation) Active() bool { return c.CurrentStatus() == StatusActive }

// Participant returns the descriptor for the given name.
func (c *Conversation) Participant(name string) (Participant, bool) {
	for _, p := range c.Config.Participants {
		if p.Name == name {
			return p, true
		}
	}
	return Participant{}, false
}

// IndexOf returns the roster index of the named participant, or -1.
func (c *Conversation) IndexOf(name string) int {
	for i, p := range c.Config.Participants {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Roster returns participant names in ordinal order.
func (c *Conversation) Roster() []string {
	names := make([]string, len(c.Config.Participants))
	for i, p := range c.Config.Participants {
		names[i] = p.Name
	}
	return names
}

// LastSpeaker returns the name of the participant who spoke last in the
// global log, scanning backwards past user and system entries.
func (c *Conversation) LastSpeaker() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Kind == KindAgent {
			return c.Messages[i].Speaker, true
		}
	}
	return "", false
}

// SetCursor positions the current-speaker index.
func (c *Conversation) SetCursor(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Cursor = i
}

// CursorIndex returns the current-speaker index.
func (c *Conversation) CursorIndex() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Cursor
}

// Advance moves the cursor to the next participant and reports whether it
// wrapped back to the first.
func (c *Conversation) Advance() (wrapped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Cursor = (c.Cursor + 1) % len(c.Config.Participants)
	return c.Cursor == 0
}

// RecordInvocation increments the named participant's completed-turn count.
func (c *Conversation) RecordInvocation(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.normalize()
	c.Invocations[name]++
}

// InvocationCounts returns a copy of the per-participant turn counts.
func (c *Conversation) InvocationCounts() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int, len(c.Invocations))
	for k, v := range c.Invocations {
		out[k] = v
	}
	return out
}

// BumpRound increments the completed-round counter and returns it.
func (c *Conversation) BumpRound() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Rounds++
	return c.Rounds
}

// RoundCount returns the completed-round counter.
func (c *Conversation) RoundCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Rounds
}

// SetScene mutates the environment and scene description in place. Empty
// arguments leave the corresponding field untouched.
func (c *Conversation) SetScene(environment, scene string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if environment != "" {
		c.Config.Environment = environment
	}
	if scene != "" {
		c.Config.Scene = scene
	}
	c.Updated = time.Now().UTC()
}

// SceneState returns the current environment and scene description.
func (c *Conversation) SceneState() (environment, scene string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Config.Environment, c.Config.Scene
}

// Clone returns a deep copy safe for independent mutation, used when
// handing snapshots to the persistence collaborator.
func (c *Conversation) Clone() *Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	clone := &Conversation{
		ID:          c.ID,
		ThreadID:    c.ThreadID,
		Config:      c.Config,
		Status:      c.Status,
		Messages:    make([]Message, len(c.Messages)),
		Contexts:    make(map[string]*contextLog, len(c.Contexts)),
		Cursor:      c.Cursor,
		Invocations: make(map[string]int, len(c.Invocations)),
		Rounds:      c.Rounds,
		Created:     c.Created,
		Updated:     c.Updated,
	}
	clone.Config.Participants = make([]Participant, len(c.Config.Participants))
	copy(clone.Config.Participants, c.Config.Participants)
	copy(clone.Messages, c.Messages)
	for name, cl := range c.Contexts {
		entries := make([]Message, len(cl.Entries))
		copy(entries, cl.Entries)
		clone.Contexts[name] = &contextLog{Entries: entries, Synced: cl.Synced}
	}
	for k, v := range c.Invocations {
		clone.Invocations[k] = v
	}
	return clone
}
