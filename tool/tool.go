// Package tool holds the pass-through tool registry. The engine does not
// interpret tools; it resolves each participant's tool names to callables
// and hands them through to the model layer, with one special case: a
// knowledge retriever is attached automatically when a participant carries
// knowledge documents.
package tool

import (
	"context"
	"fmt"
)

// Tool is a named capability a participant can use during a turn.
type Tool interface {
	// Name returns the unique identifier, snake_case by convention.
	Name() string
	// Description is shown to models so they know when to use the tool.
	Description() string
	// Call executes the tool with loosely typed arguments.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ToolError carries a failed call's tool name and a code for categorization.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a ToolError.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

// FunctionTool adapts a plain Go function to the Tool interface.
type FunctionTool struct {
	name        string
	description string
	fn          func(ctx context.Context, args map[string]any) (any, error)
}

// NewFunctionTool wraps fn as a named tool.
func NewFunctionTool(name, description string, fn func(ctx context.Context, args map[string]any) (any, error)) *FunctionTool {
	return &FunctionTool{name: name, description: description, fn: fn}
}

// Name returns the tool name.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the model-facing description.
func (t *FunctionTool) Description() string { return t.description }

// Call invokes the wrapped function. Errors that are not already ToolErrors
// are wrapped with the EXECUTION_ERROR code for uniform downstream handling.
func (t *FunctionTool) Call(ctx context.Context, args map[string]any) (any, error) {
	result, err := t.fn(ctx, args)
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok {
			return nil, toolErr
		}
		return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: "EXECUTION_ERROR"}
	}
	return result, nil
}
