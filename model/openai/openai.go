// Package openai implements model.Invoker on the OpenAI Chat Completions
// API. It maps the orchestrator's system/prompt pair onto a two-message
// completion request; streaming and tool calling are not needed for turn
// generation and are deliberately not exposed.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stagecast/stagecast/model"
)

// Options configure the OpenAI invoker.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Invoker wraps the OpenAI Chat Completions API behind model.Invoker.
type Invoker struct {
	client openai.Client
	opts   Options
}

// New creates an OpenAI invoker bound to the given API key. An empty key
// defers to the SDK's environment-based credential resolution.
func New(apiKey string, optFns ...func(o *Options)) *Invoker {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	return &Invoker{client: openai.NewClient(clientOpts...), opts: opts}
}

// Factory returns a model.Factory producing invokers with these options.
func Factory(optFns ...func(o *Options)) model.Factory {
	return model.FactoryFunc(func(apiKey string) model.Invoker {
		return New(apiKey, optFns...)
	})
}

// Invoke implements model.Invoker with a single non-streaming completion.
func (m *Invoker) Invoke(ctx context.Context, req model.Request) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	resp, err := m.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Info returns metadata describing this OpenAI invoker.
func (m *Invoker) Info() model.Info {
	return model.Info{Name: m.opts.Model, Provider: "openai"}
}
