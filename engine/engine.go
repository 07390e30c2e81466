// Package engine owns conversation session lifecycles: it starts, pauses,
// resumes and stops conversations, keeps the registry of active sessions,
// and drives each session's turn loop through single-shot timers.
package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/stagecast/stagecast/config"
	"github.com/stagecast/stagecast/core"
	"github.com/stagecast/stagecast/history"
	"github.com/stagecast/stagecast/judge"
	"github.com/stagecast/stagecast/logging"
	"github.com/stagecast/stagecast/model"
	"github.com/stagecast/stagecast/model/openai"
	"github.com/stagecast/stagecast/policy"
	"github.com/stagecast/stagecast/speech"
	"github.com/stagecast/stagecast/store"
	"github.com/stagecast/stagecast/tool"
)

// ErrSessionNotFound is returned for operations on ids with no live session.
var ErrSessionNotFound = errors.New("engine: session not found")

// Options configure an Engine.
type Options struct {
	// Store receives a checkpoint after every appended message.
	Store core.Store
	// Sink receives one display event per message and audio transition.
	Sink core.Sink
	// Factory builds model invokers from credentials.
	Factory model.Factory
	// Settings hold timing and windowing defaults.
	Settings config.Settings
	// Logger is the structured logger; sessions derive scoped loggers.
	Logger *logging.ConversationLogger
	// DefaultAPIKey backs participants and judges without their own key.
	DefaultAPIKey string
	// Synthesizer and Player enable voice output when both are set.
	Synthesizer core.Synthesizer
	Player      core.Player
	// Tools resolves participant tool names. Optional.
	Tools *tool.Registry
}

// Engine is the session lifecycle manager. All methods are safe for
// concurrent use; per-session state is guarded by the conversation's own
// lock plus a session mutex for scheduling.
type Engine struct {
	opts Options
	gate *speech.Gate

	mu       sync.RWMutex
	sessions map[string]*session
}

// New constructs an Engine.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Settings: config.DefaultSettings(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.Sink == nil {
		opts.Sink = core.SinkFunc(func(core.DisplayMessage) {})
	}
	if opts.Factory == nil {
		opts.Factory = openai.Factory()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(nil)
	}

	e := &Engine{
		opts:     opts,
		sessions: make(map[string]*session),
	}
	if opts.Synthesizer != nil && opts.Player != nil {
		e.gate = speech.NewGate(opts.Synthesizer, opts.Player, func(o *speech.Options) {
			o.Logger = opts.Logger.WithComponent("speech")
		})
	}
	return e
}

// Start validates the config, registers a new active session, and schedules
// the first turn after the configured start delay. It returns immediately.
func (e *Engine) Start(cfg core.Config) (string, error) {
	if len(cfg.Participants) == 0 {
		return "", fmt.Errorf("engine: at least one participant is required")
	}
	names := make(map[string]bool, len(cfg.Participants))
	for _, p := range cfg.Participants {
		if p.Name == "" {
			return "", fmt.Errorf("engine: participant with empty name")
		}
		if names[p.Name] {
			return "", fmt.Errorf("engine: duplicate participant name %q", p.Name)
		}
		names[p.Name] = true
	}

	conv := core.NewConversation(cfg)
	s, err := e.newSession(conv)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.sessions[conv.ID] = s
	e.mu.Unlock()

	s.checkpoint()
	s.log.Info("conversation started", "participants", len(cfg.Participants))
	s.schedule(e.opts.Settings.Timing.StartDelay)
	return conv.ID, nil
}

// newSession builds a session's strategy, judge and summarizer for a
// conversation. The judge credential is the session selector key, falling
// back to the engine default.
func (e *Engine) newSession(conv *core.Conversation) (*session, error) {
	selectorKey := conv.Config.SelectorAPIKey
	if selectorKey == "" {
		selectorKey = e.opts.DefaultAPIKey
	}

	var j *judge.Judge
	if selectorKey != "" {
		j = judge.New(e.opts.Factory.NewInvoker(selectorKey), func(o *judge.Options) {
			o.Logger = e.opts.Logger.WithConversation(conv.ID).WithComponent("judge")
		})
	}

	strategy, err := policy.ForPolicy(conv.Config.Policy, j, func(o *policy.Options) {
		o.Logger = e.opts.Logger.WithConversation(conv.ID).WithComponent("policy")
	})
	if err != nil {
		return nil, err
	}

	summarizer := history.New(e.opts.Factory.NewInvoker(selectorKey), func(o *history.Options) {
		o.MaxMessagesBeforeSummary = e.opts.Settings.MaxMessagesBeforeSummary
		o.MessagesToKeepAfterSummary = e.opts.Settings.MessagesToKeepAfterSummary
		o.Logger = e.opts.Logger.WithConversation(conv.ID).WithComponent("history")
	})

	return &session{
		eng:        e,
		conv:       conv,
		strategy:   strategy,
		summarizer: summarizer,
		log:        e.opts.Logger.WithConversation(conv.ID).WithComponent("engine"),
		lastSeen:   make(map[string]core.Message),
	}, nil
}

func (e *Engine) get(id string) (*session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	return s, ok
}

// Pause suspends turn scheduling. Queued unplayed audio for the session is
// discarded; a unit already playing finishes.
func (e *Engine) Pause(id string) error {
	s, ok := e.get(id)
	if !ok {
		return ErrSessionNotFound
	}
	if err := s.conv.Transition(core.StatusPaused); err != nil {
		return err
	}
	s.stopTimer()
	if e.gate != nil {
		e.gate.DiscardPending(id)
	}
	s.checkpoint()
	s.log.Info("conversation paused")
	return nil
}

// Resume reactivates a paused session, or revives a persisted one after a
// restart. The next speaker is re-derived from the message log, not from the
// in-memory cursor, and the next turn runs after the resume delay. An
// already-active session is rejected: its timer loop is the only one allowed
// to schedule turns.
func (e *Engine) Resume(id string) error {
	s, ok := e.get(id)
	if ok {
		if s.conv.CurrentStatus() == core.StatusActive {
			return fmt.Errorf("engine: conversation %s is already active", id)
		}
	} else {
		var err error
		s, err = e.revive(id)
		if err != nil {
			return err
		}
	}

	if s.conv.CurrentStatus() != core.StatusActive {
		if err := s.conv.Transition(core.StatusActive); err != nil {
			return err
		}
	}
	s.rederiveCursor()
	s.checkpoint()
	s.log.Info("conversation resumed")
	s.schedule(e.opts.Settings.Timing.ResumeDelay)
	return nil
}

// revive loads a persisted conversation into a fresh session.
func (e *Engine) revive(id string) (*session, error) {
	conv, err := e.opts.Store.Load(id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if conv.CurrentStatus().Terminal() {
		return nil, fmt.Errorf("engine: conversation %s is %s", id, conv.CurrentStatus())
	}

	s, err := e.newSession(conv)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.sessions[id] = s
	e.mu.Unlock()
	return s, nil
}

// Stop terminates the session, persists final state and removes it from the
// registry. Later operations on the id fail with ErrSessionNotFound.
func (e *Engine) Stop(id string) error {
	s, ok := e.get(id)
	if !ok {
		return ErrSessionNotFound
	}
	if err := s.conv.Transition(core.StatusStopped); err != nil {
		return err
	}
	s.stopTimer()
	if e.gate != nil {
		e.gate.DiscardPending(id)
	}

	msg := core.NewSystemMessage("Conversation stopped.")
	s.conv.Append(msg)
	s.checkpoint()
	s.emit(msg, false, false)
	s.log.Info("conversation stopped")

	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()
	return nil
}

// ChangeScene swaps the environment and scene of a live session and logs a
// system message; the next prompt reflects the new values immediately.
func (e *Engine) ChangeScene(id, environment, scene string) error {
	s, ok := e.get(id)
	if !ok {
		return ErrSessionNotFound
	}
	if s.conv.CurrentStatus().Terminal() {
		return fmt.Errorf("engine: conversation %s is %s", id, s.conv.CurrentStatus())
	}

	s.conv.SetScene(environment, scene)
	env, sc := s.conv.SceneState()
	msg := core.NewSystemMessage(fmt.Sprintf("The scene has changed. Environment: %s. Scene: %s", env, sc))
	s.conv.Append(msg)
	s.checkpoint()
	s.emit(msg, false, false)
	s.log.Info("scene changed")
	return nil
}

// InjectUserMessage appends a user-authored message. The cursor does not
// advance; the next scheduled speaker sees the message as context.
func (e *Engine) InjectUserMessage(id, text string) error {
	s, ok := e.get(id)
	if !ok {
		return ErrSessionNotFound
	}
	if s.conv.CurrentStatus().Terminal() {
		return fmt.Errorf("engine: conversation %s is %s", id, s.conv.CurrentStatus())
	}

	msg := core.NewUserMessage(text)
	s.conv.Append(msg)
	s.checkpoint()
	s.emit(msg, false, false)
	s.log.Info("user message injected")
	return nil
}

// Conversation returns a snapshot of the conversation, preferring the live
// session and falling back to the store for finished or revivable ones.
func (e *Engine) Conversation(id string) (*core.Conversation, error) {
	if s, ok := e.get(id); ok {
		return s.conv.Clone(), nil
	}
	conv, err := e.opts.Store.Load(id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return conv, nil
}

// List returns every persisted conversation, live or not.
func (e *Engine) List() ([]*core.Conversation, error) {
	return e.opts.Store.List()
}

// Close stops all timers and releases the audio worker. Sessions are left in
// their current status; Stop them explicitly for a terminal checkpoint.
func (e *Engine) Close() {
	e.mu.Lock()
	for _, s := range e.sessions {
		s.stopTimer()
	}
	e.mu.Unlock()
	if e.gate != nil {
		e.gate.Close()
	}
}
