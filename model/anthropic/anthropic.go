// Package anthropic implements model.Invoker on the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stagecast/stagecast/model"
)

// Options configure the Anthropic invoker.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
}

// Invoker wraps the Anthropic Messages API behind model.Invoker.
type Invoker struct {
	client anthropic.Client
	opts   Options
}

// New creates an Anthropic invoker bound to the given API key. An empty key
// defers to the SDK's environment-based credential resolution.
func New(apiKey string, optFns ...func(o *Options)) *Invoker {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	return &Invoker{client: anthropic.NewClient(clientOpts...), opts: opts}
}

// Factory returns a model.Factory producing invokers with these options.
func Factory(optFns ...func(o *Options)) model.Factory {
	return model.FactoryFunc(func(apiKey string) model.Invoker {
		return New(apiKey, optFns...)
	})
}

// Invoke implements model.Invoker with a single non-streaming message call.
func (m *Invoker) Invoke(ctx context.Context, req model.Request) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}
	for _, block := range resp.Content {
		if block.Type == "text" {
			if text := block.AsText().Text; text != "" {
				return text, nil
			}
		}
	}
	return "", fmt.Errorf("anthropic: no text content returned")
}

// Info returns metadata describing this Anthropic invoker.
func (m *Invoker) Info() model.Info {
	return model.Info{Name: string(m.opts.Model), Provider: "anthropic"}
}
