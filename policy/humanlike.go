package policy

import (
	"context"
	"fmt"

	"github.com/stagecast/stagecast/core"
	"github.com/stagecast/stagecast/judge"
)

// maxRoundSpeakers caps how many participants speak in one human-like round.
const maxRoundSpeakers = 3

// HumanLike runs parallel rounds of one to three distinct speakers, the way
// a group chat has several people typing at once. Each slot is filled by a
// judge pick, deduplicated against the round; when the judge errs or repeats
// itself the slot falls back to a random not-yet-picked participant.
type HumanLike struct {
	judge *judge.Judge
	opts  Options
}

// NewHumanLike creates the parallel-round strategy. A nil judge degrades
// every slot to random choice, which keeps the policy usable without a
// selector credential.
func NewHumanLike(j *judge.Judge, optFns ...func(o *Options)) *HumanLike {
	return &HumanLike{judge: j, opts: buildOptions(optFns)}
}

// Decide picks the round's speaker set. Before a new round starts, the same
// wrap-time termination check as round-robin runs over the recent
// transcript. A terminate verdict from any slot's judge call ends the
// conversation immediately.
func (h *HumanLike) Decide(ctx context.Context, conv *core.Conversation) (Decision, error) {
	n := len(conv.Config.Participants)
	if n == 0 {
		return Decision{}, fmt.Errorf("policy: conversation has no participants")
	}

	if h.judge != nil && conv.Config.TerminationCondition != "" && conv.Len() >= n {
		if h.judge.CheckTermination(ctx, conv, 3*n) {
			return Decision{Terminate: true}, nil
		}
	}

	size := 1 + h.opts.Rand.Intn(maxRoundSpeakers)
	if size > n {
		size = n
	}

	picked := make([]string, 0, size)
	seen := make(map[string]bool, size)
	for len(picked) < size {
		name, err := h.pickSlot(ctx, conv)
		if err == nil && name == judge.Terminate {
			return Decision{Terminate: true}, nil
		}
		if err != nil || name == errParsingSentinel || conv.IndexOf(name) < 0 || seen[name] {
			name = h.randomUnpicked(conv, seen)
		}
		seen[name] = true
		picked = append(picked, name)
	}

	return Decision{Speakers: picked, Parallel: true}, nil
}

func (h *HumanLike) pickSlot(ctx context.Context, conv *core.Conversation) (string, error) {
	if h.judge == nil {
		return "", fmt.Errorf("policy: no judge configured")
	}
	return h.judge.SelectNext(ctx, conv)
}

func (h *HumanLike) randomUnpicked(conv *core.Conversation, seen map[string]bool) string {
	candidates := make([]string, 0, len(conv.Config.Participants))
	for _, p := range conv.Config.Participants {
		if !seen[p.Name] {
			candidates = append(candidates, p.Name)
		}
	}
	return candidates[h.opts.Rand.Intn(len(candidates))]
}

// Observe counts the completed round.
func (h *HumanLike) Observe(conv *core.Conversation) {
	conv.BumpRound()
}
