// Package model defines the minimal contract the orchestrator needs from a
// language model provider: one blocking invocation with a persistent system
// instruction and a per-turn prompt. Provider adapters live in subpackages;
// Mock supports deterministic tests.
package model

import (
	"context"
	"fmt"
	"sync"
)

// Request captures the normalized input of one model invocation.
type Request struct {
	// System is the persistent identity instruction (behavioral rules).
	System string `json:"system"`
	// Prompt is the per-turn instruction text.
	Prompt string `json:"prompt"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", ...
}

// Invoker executes a single blocking model call. Implementations must be
// safe for concurrent use; the engine invokes participants in parallel
// during human-like rounds.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (string, error)

	// Info returns information about the model implementation.
	Info() Info
}

// Factory builds an Invoker bound to a credential. The engine calls it once
// per participant, passing either the per-participant key or the session
// default.
type Factory interface {
	NewInvoker(apiKey string) Invoker
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(apiKey string) Invoker

// NewInvoker implements Factory.
func (f FactoryFunc) NewInvoker(apiKey string) Invoker { return f(apiKey) }

// mockResult is one scripted outcome of a Mock invocation.
type mockResult struct {
	text string
	err  error
}

// Mock is a lightweight in-memory Invoker useful for tests and examples.
// Scripted results (Enqueue/EnqueueError) are consumed first, then the
// canned response, then a deterministic echo.
type Mock struct {
	mu       sync.Mutex
	info     Info
	canned   string
	queue    []mockResult
	requests []Request
}

// NewMock constructs a Mock invoker.
func NewMock() *Mock {
	return &Mock{
		info: Info{Name: "mock", Provider: "mock"},
	}
}

// AddResponse sets the canned completion returned once the scripted queue
// is exhausted.
func (m *Mock) AddResponse(response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canned = response
}

// Enqueue schedules the next scripted completion.
func (m *Mock) Enqueue(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockResult{text: text})
}

// EnqueueError schedules the next invocation to fail.
func (m *Mock) EnqueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockResult{err: err})
}

// Requests returns a copy of every request seen so far.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Invoke implements Invoker.
func (m *Mock) Invoke(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		return next.text, next.err
	}
	if m.canned != "" {
		return m.canned, nil
	}
	return fmt.Sprintf("Mock response to: %s", req.Prompt), nil
}

// Info implements Invoker.
func (m *Mock) Info() Info { return m.info }
