// Package config holds the tunable settings of the conversation
// orchestrator: turn timing, context-window bounds, reminder cadence and
// process-level environment configuration.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Timing groups the delays that pace a conversation.
type Timing struct {
	// StartDelay is the pause between session start and the first turn.
	StartDelay time.Duration
	// TurnDelayMin / TurnDelayMax bound the randomized inter-turn delay
	// used when voices are disabled.
	TurnDelayMin time.Duration
	TurnDelayMax time.Duration
	// ResumeDelay is the pause before the first turn after a resume.
	ResumeDelay time.Duration
	// ErrorRetryDelay is the pause before retrying a failed turn.
	ErrorRetryDelay time.Duration
}

// Settings are the engine-level knobs. The zero value is not usable; start
// from DefaultSettings.
type Settings struct {
	Timing Timing

	// MaxMessagesBeforeSummary triggers context condensation once a
	// participant's context log grows past it.
	MaxMessagesBeforeSummary int
	// MessagesToKeepAfterSummary is the trailing window preserved
	// verbatim by condensation.
	MessagesToKeepAfterSummary int

	// TerminationReminderFrequency injects a termination-condition
	// reminder into prompts every Nth round.
	TerminationReminderFrequency int

	// ParallelResponseTimeout bounds one human-like round of concurrent
	// speaker invocations.
	ParallelResponseTimeout time.Duration
}

// DefaultSettings returns the stock pacing and window configuration.
func DefaultSettings() Settings {
	return Settings{
		Timing: Timing{
			StartDelay:      1 * time.Second,
			TurnDelayMin:    5 * time.Second,
			TurnDelayMax:    10 * time.Second,
			ResumeDelay:     1 * time.Second,
			ErrorRetryDelay: 30 * time.Second,
		},
		MaxMessagesBeforeSummary:     20,
		MessagesToKeepAfterSummary:   10,
		TerminationReminderFrequency: 4,
		ParallelResponseTimeout:      30 * time.Second,
	}
}

// Env is the process-level configuration loaded from the environment.
type Env struct {
	Addr            string // listen address for the control server
	DataDir         string // conversation store directory
	OpenAIAPIKey    string // default credential for openai-backed agents
	AnthropicAPIKey string // default credential for anthropic-backed agents
	TTSBaseURL      string // speech synthesis service, empty disables voices
	DebugMode       bool
}

// LoadEnv reads process configuration from the environment, consulting an
// optional .env file first. Missing keys fall back to defaults; a missing
// credential is not an error because per-participant keys may cover it.
func LoadEnv() (*Env, error) {
	_ = godotenv.Load()

	env := &Env{
		Addr:            getenv("STAGECAST_ADDR", ":8080"),
		DataDir:         getenv("STAGECAST_DATA_DIR", "data"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		TTSBaseURL:      os.Getenv("STAGECAST_TTS_URL"),
		DebugMode:       getenvBool("STAGECAST_DEBUG", false),
	}
	if err := os.MkdirAll(env.DataDir, 0o755); err != nil {
		return nil, err
	}
	return env, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
