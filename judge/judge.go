// Package judge asks a model structured questions about a conversation:
// who should speak next, and whether the conversation has met its
// termination condition. Model output is free text, so every answer goes
// through a resilient JSON extraction ladder before it is trusted.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/stagecast/stagecast/core"
	"github.com/stagecast/stagecast/logging"
	"github.com/stagecast/stagecast/model"
)

// Terminate is the sentinel speaker name meaning the conversation should end.
const Terminate = "terminate"

// ErrUnparseable is returned when no JSON object can be recovered from the
// model output. Callers fall back to their deterministic policy.
var ErrUnparseable = fmt.Errorf("judge: no parseable JSON in model output")

// recentWindow bounds how much transcript the judge sees per question.
const recentWindow = 10

var (
	braceRe = regexp.MustCompile(`(?s)(\{.*?\})`)
	fenceRe = regexp.MustCompile("(?s)```(?:json)?(.*?)```")
)

// Options configure a Judge.
type Options struct {
	Logger logging.Logger
}

// Judge wraps a model invoker with the selection and termination questions.
type Judge struct {
	invoker model.Invoker
	opts    Options
}

// New creates a Judge backed by the given invoker.
func New(invoker model.Invoker, optFns ...func(o *Options)) *Judge {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Judge{invoker: invoker, opts: opts}
}

type selection struct {
	NextResponse string `json:"next_response"`
}

type verdict struct {
	TerminationDecision bool `json:"termination_decision"`
}

// SelectNext asks which participant should speak next. It returns a
// participant name, or Terminate when the model decides the termination
// condition is met. Unknown names pass through unchanged so the caller can
// apply its own fallback; unparseable output returns ErrUnparseable.
func (j *Judge) SelectNext(ctx context.Context, conv *core.Conversation) (string, error) {
	snapshot := conv.Tail(recentWindow)
	lines := make([]string, 0, len(snapshot))
	for _, m := range snapshot {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Speaker, m.Text))
	}

	roster := make([]string, 0, len(conv.Config.Participants))
	for _, p := range conv.Config.Participants {
		roster = append(roster, fmt.Sprintf("%s (%s)", p.Name, p.Role))
	}

	counts := conv.InvocationCounts()
	countParts := make([]string, 0, len(conv.Config.Participants))
	for _, p := range conv.Config.Participants {
		countParts = append(countParts, fmt.Sprintf("%s: %d", p.Name, counts[p.Name]))
	}

	termination := conv.Config.TerminationCondition
	if termination == "" {
		termination = "None"
	}

	env, scene := conv.SceneState()
	var b strings.Builder
	b.WriteString("You are handling a role play of agents.\n")
	fmt.Fprintf(&b, "These are the last messages of the current conversation:\n%s\n", strings.Join(lines, "\n"))
	fmt.Fprintf(&b, "This is the current environment the agents are in: %s\n", env)
	fmt.Fprintf(&b, "This is the current starting scene: %s\n", scene)
	fmt.Fprintf(&b, "These are the active agents: %s\n", strings.Join(roster, ", "))
	fmt.Fprintf(&b, "Agent invocation counts: %s\n", strings.Join(countParts, ", "))
	fmt.Fprintf(&b, "This is the termination condition for the conversation: %s\n", termination)
	b.WriteString(`Decide which agent should speak next and output the following JSON: {"next_response": "agent_name"}` + "\n")
	b.WriteString(`If the conversation is ready to terminate, output: {"next_response": "terminate"}` + "\n")
	b.WriteString("Do not output anything else, only the JSON response.\n")
	b.WriteString("Note: the last agent to respond may need to speak again if it has more to give to the conversation.")

	text, err := j.invoker.Invoke(ctx, model.Request{Prompt: b.String()})
	if err != nil {
		return "", fmt.Errorf("judge: selection call failed: %w", err)
	}

	var sel selection
	if err := ExtractJSON(text, &sel); err != nil {
		j.opts.Logger.Warn("unparseable selector output", "output", text)
		return "", ErrUnparseable
	}
	return sel.NextResponse, nil
}

// CheckTermination asks whether the conversation has met its termination
// condition. On model failure or unparseable output it returns false; a
// missed check only delays the end by one round.
func (j *Judge) CheckTermination(ctx context.Context, conv *core.Conversation, window int) bool {
	if conv.Config.TerminationCondition == "" {
		return false
	}

	snapshot := conv.Tail(window)
	lines := make([]string, 0, len(snapshot))
	for _, m := range snapshot {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Speaker, m.Text))
	}

	var b strings.Builder
	b.WriteString("You are observing a role play conversation between agents.\n")
	fmt.Fprintf(&b, "These are the most recent messages:\n%s\n", strings.Join(lines, "\n"))
	fmt.Fprintf(&b, "The conversation should end when the following condition is met:\n%s\n", conv.Config.TerminationCondition)
	b.WriteString(`Decide whether the condition has been met and output the following JSON: {"termination_decision": true} or {"termination_decision": false}` + "\n")
	b.WriteString("Do not output anything else, only the JSON response.")

	text, err := j.invoker.Invoke(ctx, model.Request{Prompt: b.String()})
	if err != nil {
		j.opts.Logger.Warn("termination check call failed", "error", err)
		return false
	}

	var v verdict
	if err := ExtractJSON(text, &v); err != nil {
		j.opts.Logger.Warn("unparseable termination output", "output", text)
		return false
	}
	return v.TerminationDecision
}

// ExtractJSON recovers a JSON object from model output. It tries the whole
// text, then the first brace-delimited span, then the contents of a markdown
// code fence. Models wrap structured answers in prose and fences often
// enough that a single json.Unmarshal is not reliable.
func ExtractJSON(text string, out any) error {
	trimmed := strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}
	if m := braceRe.FindStringSubmatch(trimmed); m != nil {
		if err := json.Unmarshal([]byte(m[1]), out); err == nil {
			return nil
		}
	}
	if m := fenceRe.FindStringSubmatch(trimmed); m != nil {
		inner := strings.TrimSpace(m[1])
		if err := json.Unmarshal([]byte(inner), out); err == nil {
			return nil
		}
	}
	return ErrUnparseable
}
