// Package stagecast provides a high-level façade over the conversation
// engine. Most applications interact with this package by:
//  1. Creating a Stagecast via New() (optionally overriding the store,
//     display sink, model factory or speech collaborators)
//  2. Starting conversations with a core.Config describing the scene,
//     participants and turn policy
//  3. Steering them with Pause/Resume/Stop, scene changes and injected
//     user messages
//
// The façade delegates orchestration to engine.Engine while keeping setup
// ergonomics concise. All defaults are safe for local development; real
// deployments supply a file store, a websocket sink and provider API keys.
package stagecast

import (
	"github.com/stagecast/stagecast/config"
	"github.com/stagecast/stagecast/core"
	"github.com/stagecast/stagecast/engine"
	"github.com/stagecast/stagecast/logging"
	"github.com/stagecast/stagecast/model"
	"github.com/stagecast/stagecast/tool"
)

// Options configures the Stagecast instance.
type Options struct {
	// Store persists conversation checkpoints. Defaults to in-memory.
	Store core.Store
	// Sink receives display events. Defaults to a discard sink.
	Sink core.Sink
	// Factory builds model invokers from credentials. Defaults to OpenAI.
	Factory model.Factory
	// Settings hold timing and history windows.
	Settings config.Settings
	// Logger defaults to a JSON slog logger at info level.
	Logger *logging.ConversationLogger
	// DefaultAPIKey backs participants without their own credential.
	DefaultAPIKey string
	// Synthesizer and Player enable voice output when both are set.
	Synthesizer core.Synthesizer
	Player      core.Player
	// Tools resolves participant tool names.
	Tools *tool.Registry
}

// Stagecast is the high-level façade over the conversation engine.
type Stagecast struct {
	opts   Options
	engine *engine.Engine
}

// New creates a Stagecast instance with optional overrides.
func New(optFns ...func(o *Options)) *Stagecast {
	opts := Options{
		Settings: config.DefaultSettings(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	e := engine.New(func(o *engine.Options) {
		o.Store = opts.Store
		o.Sink = opts.Sink
		o.Factory = opts.Factory
		o.Settings = opts.Settings
		o.Logger = opts.Logger
		o.DefaultAPIKey = opts.DefaultAPIKey
		o.Synthesizer = opts.Synthesizer
		o.Player = opts.Player
		o.Tools = opts.Tools
	})

	return &Stagecast{opts: opts, engine: e}
}

// Start begins a new conversation and returns its id immediately; turns run
// in the background.
func (s *Stagecast) Start(cfg core.Config) (string, error) { return s.engine.Start(cfg) }

// Pause suspends turn scheduling for a conversation.
func (s *Stagecast) Pause(id string) error { return s.engine.Pause(id) }

// Resume reactivates a paused or persisted conversation.
func (s *Stagecast) Resume(id string) error { return s.engine.Resume(id) }

// Stop terminates a conversation permanently.
func (s *Stagecast) Stop(id string) error { return s.engine.Stop(id) }

// ChangeScene updates the environment and scene of a live conversation.
func (s *Stagecast) ChangeScene(id, environment, scene string) error {
	return s.engine.ChangeScene(id, environment, scene)
}

// InjectUserMessage adds a user-authored message to a live conversation.
func (s *Stagecast) InjectUserMessage(id, text string) error {
	return s.engine.InjectUserMessage(id, text)
}

// Conversation returns a snapshot of a live conversation.
func (s *Stagecast) Conversation(id string) (*core.Conversation, error) {
	return s.engine.Conversation(id)
}

// List returns every persisted conversation.
func (s *Stagecast) List() ([]*core.Conversation, error) { return s.engine.List() }

// Close releases background workers. Live sessions keep their status; call
// Stop first for a terminal checkpoint.
func (s *Stagecast) Close() { s.engine.Close() }
