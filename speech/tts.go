package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSynthesizer implements core.Synthesizer against a TTS HTTP service
// that accepts a JSON body and responds with raw audio bytes.
type HTTPSynthesizer struct {
	baseURL string
	client  *http.Client
}

// HTTPSynthesizerOptions configure the HTTP client.
type HTTPSynthesizerOptions struct {
	Timeout time.Duration
}

// NewHTTPSynthesizer creates a synthesizer for the given service URL.
func NewHTTPSynthesizer(baseURL string, optFns ...func(o *HTTPSynthesizerOptions)) *HTTPSynthesizer {
	opts := HTTPSynthesizerOptions{Timeout: 60 * time.Second}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &HTTPSynthesizer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: opts.Timeout},
	}
}

type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// Synthesize posts the text and returns the audio payload.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	body, err := json.Marshal(synthesizeRequest{Text: text, Voice: voice})
	if err != nil {
		return nil, fmt.Errorf("speech: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("speech: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech: synthesis call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speech: synthesis service returned %s", resp.Status)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("speech: read audio payload: %w", err)
	}
	return audio, nil
}

// NopPlayer implements core.Player without producing sound. Used when no
// playback device is wired in; the gate's sequencing still applies.
type NopPlayer struct{}

// Play discards the audio.
func (NopPlayer) Play(ctx context.Context, audio []byte) error {
	return ctx.Err()
}
