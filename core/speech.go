package core

import "context"

// Synthesizer turns a line of dialogue into audio bytes. A nil payload with
// a nil error means the service produced no audio for this input; callers
// treat both that and an error as "continue without sound".
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Player renders synthesized audio, blocking until playback completes or
// the context is cancelled.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}
