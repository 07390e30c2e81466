// Package speech implements the audio synchronization gate. When voices are
// enabled, a conversation turn is not considered delivered until its audio
// has been generated and played; the gate serializes that work on a single
// worker so at most one unit plays at a time.
package speech

import (
	"context"
	"sync"

	"github.com/stagecast/stagecast/core"
	"github.com/stagecast/stagecast/logging"
)

// Request is one unit of audio work.
type Request struct {
	ConversationID string
	Speaker        string
	Text           string
	Voice          string
	// OnReady fires when synthesis succeeded and playback is about to
	// start. Optional; used for display state transitions.
	OnReady func()
}

type pending struct {
	req  Request
	done chan struct{}
}

// Options configure a Gate.
type Options struct {
	Logger logging.Logger
}

// Gate owns a FIFO queue of audio requests and a dedicated worker that
// synthesizes and plays them one at a time. Synthesis or playback failure is
// treated as a synthetic completion, so a dead TTS service never deadlocks a
// conversation.
type Gate struct {
	synth  core.Synthesizer
	player core.Player
	opts   Options

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*pending
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGate starts the worker. Close releases it.
func NewGate(synth core.Synthesizer, player core.Player, optFns ...func(o *Options)) *Gate {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gate{
		synth:  synth,
		player: player,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}
	g.cond = sync.NewCond(&g.mu)
	g.wg.Add(1)
	go g.run()
	return g
}

// Enqueue appends a request to the queue and returns a channel that closes
// when the request is finished, either because playback completed or because
// it failed or was discarded.
func (g *Gate) Enqueue(req Request) <-chan struct{} {
	p := &pending{req: req, done: make(chan struct{})}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		close(p.done)
		return p.done
	}
	g.queue = append(g.queue, p)
	g.cond.Signal()
	return p.done
}

// DiscardPending drops every queued (not yet playing) request for the given
// conversation, completing their done channels. A unit already playing is
// allowed to finish. Safe to call when nothing is queued.
func (g *Gate) DiscardPending(conversationID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	kept := g.queue[:0]
	for _, p := range g.queue {
		if p.req.ConversationID == conversationID {
			close(p.done)
			continue
		}
		kept = append(kept, p)
	}
	g.queue = kept
}

// Close discards the queue and stops the worker after the current unit.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	for _, p := range g.queue {
		close(p.done)
	}
	g.queue = nil
	g.cancel()
	g.cond.Signal()
	g.mu.Unlock()
	g.wg.Wait()
}

func (g *Gate) run() {
	defer g.wg.Done()
	for {
		g.mu.Lock()
		for len(g.queue) == 0 && !g.closed {
			g.cond.Wait()
		}
		if g.closed {
			g.mu.Unlock()
			return
		}
		p := g.queue[0]
		g.queue = g.queue[1:]
		g.mu.Unlock()

		g.process(p)
	}
}

// process runs one request through both phases. Every exit path closes the
// done channel exactly once.
func (g *Gate) process(p *pending) {
	defer close(p.done)

	audio, err := g.synth.Synthesize(g.ctx, p.req.Text, p.req.Voice)
	if err != nil || len(audio) == 0 {
		g.opts.Logger.Warn("synthesis failed, continuing without sound",
			"conversation", p.req.ConversationID,
			"speaker", p.req.Speaker,
			"error", err)
		return
	}

	if p.req.OnReady != nil {
		p.req.OnReady()
	}

	if err := g.player.Play(g.ctx, audio); err != nil {
		g.opts.Logger.Warn("playback failed",
			"conversation", p.req.ConversationID,
			"speaker", p.req.Speaker,
			"error", err)
	}
}
