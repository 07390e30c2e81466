package engine

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stagecast/stagecast/core"
	"github.com/stagecast/stagecast/history"
	"github.com/stagecast/stagecast/judge"
	"github.com/stagecast/stagecast/logging"
	"github.com/stagecast/stagecast/model"
	"github.com/stagecast/stagecast/policy"
	"github.com/stagecast/stagecast/prompt"
	"github.com/stagecast/stagecast/speech"
)

// session drives one conversation's turn loop. Scheduled units of work are
// single-shot timers that re-check status before running, so a pause or stop
// between ticks is always honored.
type session struct {
	eng        *Engine
	conv       *core.Conversation
	strategy   policy.Strategy
	summarizer *history.Summarizer
	log        *logging.ConversationLogger

	mu    sync.Mutex
	timer *time.Timer

	// lastSeen tracks, per participant, the newest context entry included
	// in their previous human-like prompt.
	seenMu   sync.Mutex
	lastSeen map[string]core.Message
}

func (s *session) schedule(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, s.tick)
}

func (s *session) stopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// tick is the scheduled unit of work. Status is checked first so stale
// timers no-op after pause or termination.
func (s *session) tick() {
	if !s.conv.Active() {
		return
	}
	s.step(context.Background())
}

func (s *session) step(ctx context.Context) {
	dec, err := s.strategy.Decide(ctx, s.conv)
	if err != nil {
		s.log.Warn("turn decision failed", "error", err)
		s.schedule(s.eng.opts.Settings.Timing.ErrorRetryDelay)
		return
	}
	if dec.Terminate {
		s.complete()
		return
	}
	if !s.conv.Active() {
		return
	}
	// A one-speaker round is an ordinary sequential turn.
	if dec.Parallel && len(dec.Speakers) > 1 {
		s.runRound(ctx, dec.Speakers)
		return
	}
	s.runTurn(ctx, dec.Speakers[0])
}

// runTurn executes one sequential speaking turn. A failed invocation leaves
// the cursor untouched and retries the same turn after the error delay.
func (s *session) runTurn(ctx context.Context, name string) {
	start := time.Now()
	msg, err := s.invokeSpeaker(ctx, name)
	if err != nil {
		s.log.LogTurn(name, time.Since(start), false, err)
		s.schedule(s.eng.opts.Settings.Timing.ErrorRetryDelay)
		return
	}
	if !s.conv.Active() {
		// The session went inactive while the call was in flight; the
		// result is discarded.
		return
	}
	if msg == nil {
		// Declined turns advance the strategy like completed ones.
		s.strategy.Observe(s.conv)
		s.log.LogTurn(name, time.Since(start), false, nil)
		s.schedule(s.turnDelay())
		return
	}

	s.conv.Append(*msg)
	s.conv.RecordInvocation(name)
	s.strategy.Observe(s.conv)
	s.checkpoint()
	s.emit(*msg, false, false)
	s.log.LogTurn(name, time.Since(start), true, nil)

	if done, gated := s.enqueueAudio(*msg); gated {
		go func() {
			<-done
			if s.conv.Active() {
				s.schedule(s.eng.opts.Settings.Timing.ResumeDelay)
			}
		}()
		return
	}
	s.schedule(s.turnDelay())
}

// runRound executes a parallel human-like round. Invocations run
// concurrently on a bounded group; appends happen in completion order under
// the conversation lock. Individual failures skip that speaker without
// aborting the round.
func (s *session) runRound(ctx context.Context, speakers []string) {
	rctx, cancel := context.WithTimeout(ctx, s.eng.opts.Settings.ParallelResponseTimeout)
	defer cancel()

	var spoke []core.Message
	var spokeMu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(len(speakers))
	for _, name := range speakers {
		name := name
		g.Go(func() error {
			start := time.Now()
			msg, err := s.invokeSpeaker(rctx, name)
			if err != nil {
				s.log.LogTurn(name, time.Since(start), false, err)
				return nil
			}
			if msg == nil || !s.conv.Active() {
				s.log.LogTurn(name, time.Since(start), false, nil)
				return nil
			}
			s.conv.Append(*msg)
			s.conv.RecordInvocation(name)
			s.checkpoint()
			s.emit(*msg, false, false)
			s.log.LogTurn(name, time.Since(start), true, nil)

			spokeMu.Lock()
			spoke = append(spoke, *msg)
			spokeMu.Unlock()
			return nil
		})
	}
	g.Wait()

	if !s.conv.Active() {
		return
	}
	s.strategy.Observe(s.conv)

	if len(spoke) == 0 {
		s.schedule(s.eng.opts.Settings.Timing.ErrorRetryDelay)
		return
	}

	dones := make([]<-chan struct{}, 0, len(spoke))
	for _, msg := range spoke {
		if done, gated := s.enqueueAudio(msg); gated {
			dones = append(dones, done)
		}
	}
	if len(dones) > 0 {
		// The next round waits for the whole queue to drain.
		go func() {
			for _, done := range dones {
				<-done
			}
			if s.conv.Active() {
				s.schedule(s.eng.opts.Settings.Timing.ResumeDelay)
			}
		}()
		return
	}
	s.schedule(s.turnDelay())
}

// humanLikeReply is the decline-capable response contract used by the
// human-like policy.
type humanLikeReply struct {
	IsResponding string `json:"is_responding"`
	Response     string `json:"response"`
}

// invokeSpeaker builds the speaker's prompt and runs the model call. It
// returns (nil, nil) when a human-like speaker declines the turn. Errors are
// transient: nothing is appended and the caller retries.
func (s *session) invokeSpeaker(ctx context.Context, name string) (*core.Message, error) {
	p, ok := s.conv.Participant(name)
	if !ok {
		return nil, fmt.Errorf("engine: unknown participant %q", name)
	}

	key := p.APIKey
	if key == "" {
		key = s.eng.opts.DefaultAPIKey
	}
	if key == "" {
		return nil, fmt.Errorf("engine: no usable credential for %q", name)
	}
	invoker := s.eng.opts.Factory.NewInvoker(key)

	entries := s.conv.ContextFor(name)
	entries = s.summarizer.Condense(ctx, entries)
	s.conv.SetContext(name, entries)

	if s.eng.opts.Tools != nil {
		effective := s.eng.opts.Tools.ForParticipant(&p)
		toolNames := make([]string, 0, len(effective))
		for _, t := range effective {
			toolNames = append(toolNames, t.Name())
		}
		p.ToolNames = toolNames
	}

	env, scene := s.conv.SceneState()
	in := prompt.TurnInput{
		Participant:          &p,
		Environment:          env,
		Scene:                scene,
		Roster:               s.conv.Roster(),
		Context:              entries,
		TerminationCondition: s.conv.Config.TerminationCondition,
		RemindTermination:    s.shouldRemindTermination(),
	}

	humanLike := s.conv.Config.Policy == core.PolicyHumanLike
	var turnPrompt string
	if humanLike {
		turnPrompt = prompt.HumanLikeTurn(in, s.takeLastSeen(name, entries))
	} else {
		turnPrompt = prompt.Turn(in)
	}

	start := time.Now()
	raw, err := invoker.Invoke(ctx, model.Request{
		System: prompt.Identity(&p),
		Prompt: turnPrompt,
	})
	s.log.WithParticipant(name).LogModelCall(invoker.Info().Provider, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("engine: invoke %q: %w", name, err)
	}

	text := strings.TrimSpace(raw)
	if humanLike {
		var reply humanLikeReply
		if err := judge.ExtractJSON(text, &reply); err != nil {
			return nil, fmt.Errorf("engine: unparseable response from %q: %w", name, err)
		}
		if !strings.EqualFold(reply.IsResponding, "yes") || strings.TrimSpace(reply.Response) == "" {
			return nil, nil
		}
		text = strings.TrimSpace(reply.Response)
	}
	if text == "" {
		return nil, fmt.Errorf("engine: empty response from %q", name)
	}

	msg := core.NewAgentMessage(name, text)
	return &msg, nil
}

// takeLastSeen returns the hint for a human-like prompt and records the
// newest entry the speaker is about to see.
func (s *session) takeLastSeen(name string, entries []core.Message) *core.Message {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()

	var hint *core.Message
	if seen, ok := s.lastSeen[name]; ok {
		hint = &seen
	}
	if len(entries) > 0 {
		s.lastSeen[name] = entries[len(entries)-1]
	}
	return hint
}

// shouldRemindTermination implements the reminder cadence: every Nth
// completed round, when a condition is configured.
func (s *session) shouldRemindTermination() bool {
	if s.conv.Config.TerminationCondition == "" {
		return false
	}
	freq := s.eng.opts.Settings.TerminationReminderFrequency
	if freq <= 0 {
		return false
	}
	rounds := s.conv.RoundCount()
	return rounds > 0 && rounds%freq == 0
}

// complete marks the conversation terminated by its condition and announces
// it with a system message.
func (s *session) complete() {
	if err := s.conv.Transition(core.StatusCompleted); err != nil {
		return
	}
	s.stopTimer()

	msg := core.NewSystemMessage("The termination condition has been met. Conversation completed.")
	s.conv.Append(msg)
	s.checkpoint()
	s.emit(msg, false, false)
	s.log.Info("conversation completed")
}

// rederiveCursor points the cursor at the participant after whoever spoke
// last in the log. History, not the in-memory cursor, is the source of truth
// across pause or restart.
func (s *session) rederiveCursor() {
	last, ok := s.conv.LastSpeaker()
	if !ok {
		return
	}
	idx := s.conv.IndexOf(last)
	if idx < 0 {
		return
	}
	s.conv.SetCursor((idx + 1) % len(s.conv.Config.Participants))
}

// checkpoint persists a snapshot. Failure is logged and otherwise ignored;
// the next successful checkpoint catches up.
func (s *session) checkpoint() {
	if err := s.eng.opts.Store.Save(s.conv); err != nil {
		s.log.Warn("checkpoint failed", "error", err)
	}
}

// emit sends one display event.
func (s *session) emit(msg core.Message, loading, speaking bool) {
	ordinal := 0
	if p, ok := s.conv.Participant(msg.Speaker); ok {
		ordinal = p.Ordinal
	}
	s.eng.opts.Sink.OnMessage(core.DisplayMessage{
		ConversationID: s.conv.ID,
		Speaker:        msg.Speaker,
		Ordinal:        ordinal,
		Text:           msg.Text,
		Kind:           msg.Kind,
		Loading:        loading,
		Speaking:       speaking,
	})
}

// enqueueAudio hands a message to the gate when voices are on and the
// speaker has one. The returned channel closes when playback (or a synthetic
// completion after failure) finishes.
func (s *session) enqueueAudio(msg core.Message) (<-chan struct{}, bool) {
	if s.eng.gate == nil || !s.conv.Config.VoicesEnabled {
		return nil, false
	}
	p, ok := s.conv.Participant(msg.Speaker)
	if !ok || p.Voice == "" {
		return nil, false
	}

	s.emit(msg, true, false)
	start := time.Now()
	done := s.eng.gate.Enqueue(speech.Request{
		ConversationID: s.conv.ID,
		Speaker:        msg.Speaker,
		Text:           msg.Text,
		Voice:          p.Voice,
		OnReady: func() {
			s.emit(msg, false, true)
		},
	})
	go func() {
		<-done
		s.emit(msg, false, false)
		s.log.WithParticipant(msg.Speaker).LogAudio(p.Voice, time.Since(start), nil)
	}()
	return done, true
}

// turnDelay returns the randomized inter-turn pause.
func (s *session) turnDelay() time.Duration {
	t := s.eng.opts.Settings.Timing
	if t.TurnDelayMax <= t.TurnDelayMin {
		return t.TurnDelayMin
	}
	return t.TurnDelayMin + time.Duration(rand.Int63n(int64(t.TurnDelayMax-t.TurnDelayMin)))
}
