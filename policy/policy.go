// Package policy implements the turn selection strategies. A strategy
// decides who speaks next (or that the conversation should end); the engine
// executes the turns and reports completed ones back via Observe so the
// strategy can keep its cursor and round bookkeeping.
package policy

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/stagecast/stagecast/core"
	"github.com/stagecast/stagecast/judge"
	"github.com/stagecast/stagecast/logging"
)

// Decision is a strategy's answer for the next step of a conversation.
type Decision struct {
	// Speakers lists the participants to invoke. Sequential policies
	// return exactly one; the human-like policy returns the round's set.
	Speakers []string
	// Parallel marks the speakers as one concurrent round.
	Parallel bool
	// Terminate means the termination condition is met and no further
	// turns should run.
	Terminate bool
}

// Strategy decides turn order for one conversation. Implementations are not
// safe for concurrent use; the engine serializes calls per session.
type Strategy interface {
	// Decide picks the next speaker set for an active conversation.
	Decide(ctx context.Context, conv *core.Conversation) (Decision, error)
	// Observe reports a completed step so the strategy can advance its
	// cursor and round counters. Skipped (failed) turns are not reported.
	Observe(conv *core.Conversation)
}

// Options configure strategy construction.
type Options struct {
	Logger logging.Logger
	// Rand drives speaker randomization. Defaults to a time-seeded source;
	// tests inject a fixed seed.
	Rand *rand.Rand
}

func buildOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return opts
}

// ForPolicy constructs the strategy named by a conversation config. The
// judge may be nil only for the round-robin policy without a termination
// condition; the judge-driven policies require it.
func ForPolicy(p core.Policy, j *judge.Judge, optFns ...func(o *Options)) (Strategy, error) {
	switch p {
	case core.PolicyRoundRobin:
		return NewRoundRobin(j, optFns...), nil
	case core.PolicyAgentSelector:
		if j == nil {
			return nil, fmt.Errorf("policy: %q requires a judge", p)
		}
		return NewAgentSelector(j, optFns...), nil
	case core.PolicyHumanLike:
		return NewHumanLike(j, optFns...), nil
	default:
		return nil, fmt.Errorf("policy: unknown policy %q", p)
	}
}
