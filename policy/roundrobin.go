package policy

import (
	"context"
	"fmt"

	"github.com/stagecast/stagecast/core"
	"github.com/stagecast/stagecast/judge"
)

// RoundRobin cycles through participants in ordinal order. The first speaker
// is chosen uniformly at random; after that the cursor advances modularly.
// When the cursor wraps back to the start and a termination condition is
// configured, a judge evaluates the condition over the recent transcript.
type RoundRobin struct {
	judge *judge.Judge
	opts  Options
}

// NewRoundRobin creates the round-robin strategy. The judge is only used for
// wrap-time termination checks and may be nil when the conversation has no
// termination condition.
func NewRoundRobin(j *judge.Judge, optFns ...func(o *Options)) *RoundRobin {
	return &RoundRobin{judge: j, opts: buildOptions(optFns)}
}

// Decide returns the participant under the cursor, seeding the cursor
// randomly when nobody has spoken yet. At wrap time, with a termination
// condition configured and at least one full round of messages logged, the
// judge reviews the last three rounds' worth of transcript.
func (r *RoundRobin) Decide(ctx context.Context, conv *core.Conversation) (Decision, error) {
	n := len(conv.Config.Participants)
	if n == 0 {
		return Decision{}, fmt.Errorf("policy: conversation has no participants")
	}

	if _, ok := conv.LastSpeaker(); !ok {
		conv.SetCursor(r.opts.Rand.Intn(n))
	}

	cur := conv.CursorIndex()
	if cur == 0 && r.judge != nil && conv.Config.TerminationCondition != "" && conv.Len() >= n {
		if r.judge.CheckTermination(ctx, conv, 3*n) {
			return Decision{Terminate: true}, nil
		}
	}

	return Decision{Speakers: []string{conv.Config.Participants[cur].Name}}, nil
}

// Observe advances the cursor; a wrap back to index zero completes a round.
func (r *RoundRobin) Observe(conv *core.Conversation) {
	if conv.Advance() {
		conv.BumpRound()
	}
}
