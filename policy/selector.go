package policy

import (
	"context"
	"fmt"

	"github.com/stagecast/stagecast/core"
	"github.com/stagecast/stagecast/judge"
)

// errParsingSentinel may come back verbatim from loosely behaved selector
// prompts; it is treated the same as an unparseable reply.
const errParsingSentinel = "error_parsing"

// AgentSelector lets a judge pick every next speaker. The judge may pick the
// same speaker twice in a row; an unknown name or unparseable reply degrades
// to a round-robin advance so the conversation never stalls.
type AgentSelector struct {
	judge *judge.Judge
	opts  Options
}

// NewAgentSelector creates the judge-driven strategy.
func NewAgentSelector(j *judge.Judge, optFns ...func(o *Options)) *AgentSelector {
	return &AgentSelector{judge: j, opts: buildOptions(optFns)}
}

// Decide asks the judge for the next speaker and moves the cursor to that
// participant, so a later fallback continues from the actual last speaker.
func (s *AgentSelector) Decide(ctx context.Context, conv *core.Conversation) (Decision, error) {
	n := len(conv.Config.Participants)
	if n == 0 {
		return Decision{}, fmt.Errorf("policy: conversation has no participants")
	}

	name, err := s.judge.SelectNext(ctx, conv)
	switch {
	case err != nil:
		s.opts.Logger.Warn("selector failed, falling back to round-robin advance", "error", err)
		return s.fallback(conv, n), nil
	case name == judge.Terminate:
		return Decision{Terminate: true}, nil
	case name == errParsingSentinel:
		s.opts.Logger.Warn("selector returned parse sentinel, falling back to round-robin advance")
		return s.fallback(conv, n), nil
	}

	idx := conv.IndexOf(name)
	if idx < 0 {
		s.opts.Logger.Warn("selector returned unknown participant, falling back to round-robin advance", "name", name)
		return s.fallback(conv, n), nil
	}
	conv.SetCursor(idx)
	return Decision{Speakers: []string{conv.Config.Participants[idx].Name}}, nil
}

func (s *AgentSelector) fallback(conv *core.Conversation, n int) Decision {
	idx := (conv.CursorIndex() + 1) % n
	conv.SetCursor(idx)
	return Decision{Speakers: []string{conv.Config.Participants[idx].Name}}
}

// Observe counts each completed turn as a round for the reminder cadence.
func (s *AgentSelector) Observe(conv *core.Conversation) {
	conv.BumpRound()
}
