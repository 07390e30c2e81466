package engine

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagecast/stagecast/config"
	"github.com/stagecast/stagecast/core"
	"github.com/stagecast/stagecast/logging"
	"github.com/stagecast/stagecast/model"
)

func fastSettings() config.Settings {
	s := config.DefaultSettings()
	s.Timing.StartDelay = time.Millisecond
	s.Timing.TurnDelayMin = time.Millisecond
	s.Timing.TurnDelayMax = 2 * time.Millisecond
	s.Timing.ResumeDelay = time.Millisecond
	s.Timing.ErrorRetryDelay = 5 * time.Millisecond
	return s
}

func quietLogger() *logging.ConversationLogger {
	return logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelError, Output: io.Discard})
}

func newTestEngine(mock *model.Mock, optFns ...func(o *Options)) *Engine {
	base := func(o *Options) {
		o.Factory = model.FactoryFunc(func(apiKey string) model.Invoker { return mock })
		o.Settings = fastSettings()
		o.Logger = quietLogger()
		o.DefaultAPIKey = "test-key"
	}
	return New(append([]func(o *Options){base}, optFns...)...)
}

func testConfig(policy core.Policy, names ...string) core.Config {
	participants := make([]core.Participant, 0, len(names))
	for _, name := range names {
		participants = append(participants, core.Participant{
			ID:   "agent_" + name,
			Name: name,
			Role: "Speaker",
		})
	}
	return core.Config{
		Title:        "test",
		Environment:  "A room",
		Scene:        "People talk.",
		Participants: participants,
		Policy:       policy,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for " + msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (e *Engine) messageCount(t *testing.T, id string) int {
	t.Helper()
	conv, err := e.Conversation(id)
	if err != nil {
		return -1
	}
	return conv.Len()
}

// slowInvoker wraps a Mock with an artificial call duration and tracks the
// highest number of overlapping invocations.
type slowInvoker struct {
	mock    *model.Mock
	delay   time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (s *slowInvoker) Invoke(ctx context.Context, req model.Request) (string, error) {
	cur := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if cur <= seen || s.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}
	time.Sleep(s.delay)
	return s.mock.Invoke(ctx, req)
}

func (s *slowInvoker) Info() model.Info { return s.mock.Info() }

func TestStartValidation(t *testing.T) {
	e := newTestEngine(model.NewMock())
	defer e.Close()

	_, err := e.Start(testConfig(core.PolicyRoundRobin))
	assert.Error(t, err, "no participants")

	cfg := testConfig(core.PolicyRoundRobin, "Ada", "Ada")
	_, err = e.Start(cfg)
	assert.Error(t, err, "duplicate names")

	cfg = testConfig(core.PolicyRoundRobin, "Ada", "")
	_, err = e.Start(cfg)
	assert.Error(t, err, "empty name")
}

func TestTwoAgentRoundRobinAlternates(t *testing.T) {
	mock := model.NewMock()
	mock.AddResponse("Nice weather today.")
	e := newTestEngine(mock)
	defer e.Close()

	id, err := e.Start(testConfig(core.PolicyRoundRobin, "Ada", "Grace"))
	require.NoError(t, err)

	waitFor(t, func() bool { return e.messageCount(t, id) >= 4 }, "four turns")
	require.NoError(t, e.Pause(id))

	conv, err := e.Conversation(id)
	require.NoError(t, err)
	msgs := conv.Tail(conv.Len())[:4]

	counts := map[string]int{}
	for i, m := range msgs {
		assert.Equal(t, core.KindAgent, m.Kind)
		counts[m.Speaker]++
		if i > 0 {
			assert.NotEqual(t, msgs[i-1].Speaker, m.Speaker, "speakers must alternate")
		}
	}
	assert.Equal(t, 2, counts["Ada"])
	assert.Equal(t, 2, counts["Grace"])
}

func TestPauseStopsScheduling(t *testing.T) {
	mock := model.NewMock()
	mock.AddResponse("Hello.")
	e := newTestEngine(mock)
	defer e.Close()

	id, err := e.Start(testConfig(core.PolicyRoundRobin, "Ada", "Grace"))
	require.NoError(t, err)

	waitFor(t, func() bool { return e.messageCount(t, id) >= 1 }, "first turn")
	require.NoError(t, e.Pause(id))

	frozen := e.messageCount(t, id)
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, e.messageCount(t, id), frozen+1, "at most an in-flight turn lands after pause")

	conv, err := e.Conversation(id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPaused, conv.CurrentStatus())
}

func TestResumePicksSpeakerAfterLastLogged(t *testing.T) {
	mock := model.NewMock()
	mock.AddResponse("Onward.")
	e := newTestEngine(mock)
	defer e.Close()

	id, err := e.Start(testConfig(core.PolicyRoundRobin, "Ada", "Grace", "Linus"))
	require.NoError(t, err)

	waitFor(t, func() bool { return e.messageCount(t, id) >= 2 }, "two turns")
	require.NoError(t, e.Pause(id))

	s, ok := e.get(id)
	require.True(t, ok)
	// Let any in-flight turn land before reading the log.
	time.Sleep(20 * time.Millisecond)
	last, ok := s.conv.LastSpeaker()
	require.True(t, ok)
	wantNext := s.conv.Config.Participants[(s.conv.IndexOf(last)+1)%3].Name
	before := s.conv.Len()

	// Corrupt the in-memory cursor; resume must re-derive it from the log.
	s.conv.SetCursor(s.conv.IndexOf(last))

	require.NoError(t, e.Resume(id))
	waitFor(t, func() bool { return e.messageCount(t, id) > before }, "post-resume turn")

	conv, err := e.Conversation(id)
	require.NoError(t, err)
	msgs := conv.Tail(conv.Len())
	assert.Equal(t, wantNext, msgs[before].Speaker)
}

func TestStopIsTerminal(t *testing.T) {
	mock := model.NewMock()
	mock.AddResponse("Hi.")
	e := newTestEngine(mock)
	defer e.Close()

	id, err := e.Start(testConfig(core.PolicyRoundRobin, "Ada", "Grace"))
	require.NoError(t, err)
	waitFor(t, func() bool { return e.messageCount(t, id) >= 1 }, "first turn")
	require.NoError(t, e.Stop(id))

	// Subsequent operations fail clearly.
	assert.ErrorIs(t, e.Pause(id), ErrSessionNotFound)
	assert.ErrorIs(t, e.Stop(id), ErrSessionNotFound)
	assert.ErrorIs(t, e.InjectUserMessage(id, "hello?"), ErrSessionNotFound)

	// Reads still work from the persisted snapshot.
	conv, err := e.Conversation(id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusStopped, conv.CurrentStatus())

	// The final state is persisted with a stop announcement.
	persisted, err := e.opts.Store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusStopped, persisted.CurrentStatus())
	tail := persisted.Tail(1)
	require.Len(t, tail, 1)
	assert.Equal(t, core.KindSystem, tail[0].Kind)

	// No growth across several would-be scheduler ticks.
	frozen := persisted.Len()
	time.Sleep(60 * time.Millisecond)
	persisted, err = e.opts.Store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, frozen, persisted.Len())
}

func TestSelectorTerminateCompletesConversation(t *testing.T) {
	mock := model.NewMock()
	mock.Enqueue(`{"next_response": "terminate"}`)
	e := newTestEngine(mock)
	defer e.Close()

	cfg := testConfig(core.PolicyAgentSelector, "Ada", "Grace")
	cfg.TerminationCondition = "They finish"
	cfg.SelectorAPIKey = "selector-key"
	id, err := e.Start(cfg)
	require.NoError(t, err)

	waitFor(t, func() bool {
		conv, err := e.Conversation(id)
		return err == nil && conv.CurrentStatus() == core.StatusCompleted
	}, "completion")

	conv, err := e.Conversation(id)
	require.NoError(t, err)
	tail := conv.Tail(1)
	require.Len(t, tail, 1)
	assert.Equal(t, core.KindSystem, tail[0].Kind)
	assert.Contains(t, tail[0].Text, "completed")

	// Completed is terminal: no further history growth.
	frozen := conv.Len()
	time.Sleep(60 * time.Millisecond)
	conv, err = e.Conversation(id)
	require.NoError(t, err)
	assert.Equal(t, frozen, conv.Len())
}

func TestInjectUserMessage(t *testing.T) {
	mock := model.NewMock()
	mock.AddResponse("Answering the user.")
	e := newTestEngine(mock)
	defer e.Close()

	id, err := e.Start(testConfig(core.PolicyRoundRobin, "Ada", "Grace"))
	require.NoError(t, err)
	require.NoError(t, e.InjectUserMessage(id, "What do you both think?"))

	conv, err := e.Conversation(id)
	require.NoError(t, err)
	found := false
	for _, m := range conv.Tail(conv.Len()) {
		if m.Kind == core.KindUser {
			assert.Equal(t, core.UserSpeaker, m.Speaker)
			assert.Equal(t, "What do you both think?", m.Text)
			found = true
		}
	}
	assert.True(t, found, "user message present in log")
}

func TestChangeSceneAffectsStateAndLog(t *testing.T) {
	mock := model.NewMock()
	mock.AddResponse("Noted.")
	e := newTestEngine(mock)
	defer e.Close()

	id, err := e.Start(testConfig(core.PolicyRoundRobin, "Ada", "Grace"))
	require.NoError(t, err)
	require.NoError(t, e.ChangeScene(id, "A rooftop", "The sun sets over the city."))

	s, ok := e.get(id)
	require.True(t, ok)
	env, scene := s.conv.SceneState()
	assert.Equal(t, "A rooftop", env)
	assert.Equal(t, "The sun sets over the city.", scene)

	conv, err := e.Conversation(id)
	require.NoError(t, err)
	foundSystem := false
	for _, m := range conv.Tail(conv.Len()) {
		if m.Kind == core.KindSystem {
			assert.Contains(t, m.Text, "A rooftop")
			foundSystem = true
		}
	}
	assert.True(t, foundSystem)
}

func TestMissingCredentialSkipsTurn(t *testing.T) {
	mock := model.NewMock()
	mock.AddResponse("Should never be spoken.")
	e := newTestEngine(mock, func(o *Options) {
		o.DefaultAPIKey = ""
	})
	defer e.Close()

	id, err := e.Start(testConfig(core.PolicyRoundRobin, "Ada", "Grace"))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	conv, err := e.Conversation(id)
	require.NoError(t, err)
	assert.Equal(t, 0, conv.Len(), "no partial appends without a credential")
	assert.Equal(t, core.StatusActive, conv.CurrentStatus(), "session keeps retrying")
}

func TestHumanLikeRoundProducesMessages(t *testing.T) {
	mock := model.NewMock()
	mock.AddResponse(`{"is_responding": "yes", "response": "Count me in!"}`)
	e := newTestEngine(mock)
	defer e.Close()

	cfg := testConfig(core.PolicyHumanLike, "Ada", "Grace", "Linus")
	id, err := e.Start(cfg)
	require.NoError(t, err)

	waitFor(t, func() bool { return e.messageCount(t, id) >= 2 }, "parallel round output")
	require.NoError(t, e.Pause(id))

	conv, err := e.Conversation(id)
	require.NoError(t, err)
	for _, m := range conv.Tail(conv.Len()) {
		assert.Equal(t, core.KindAgent, m.Kind)
		assert.GreaterOrEqual(t, conv.IndexOf(m.Speaker), 0)
		assert.Equal(t, "Count me in!", m.Text)
	}
}

func TestHumanLikeDeclineAppendsNothing(t *testing.T) {
	mock := model.NewMock()
	mock.AddResponse(`{"is_responding": "no", "response": null}`)
	e := newTestEngine(mock)
	defer e.Close()

	id, err := e.Start(testConfig(core.PolicyHumanLike, "Ada", "Grace"))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	conv, err := e.Conversation(id)
	require.NoError(t, err)
	assert.Equal(t, 0, conv.Len())
	assert.Equal(t, core.StatusActive, conv.CurrentStatus())
}

func TestHumanLikeSingleSpeakerRound(t *testing.T) {
	mock := model.NewMock()
	mock.AddResponse(`{"is_responding": "yes", "response": "Talking to myself."}`)
	e := newTestEngine(mock)
	defer e.Close()

	id, err := e.Start(testConfig(core.PolicyHumanLike, "Ada"))
	require.NoError(t, err)

	waitFor(t, func() bool { return e.messageCount(t, id) >= 2 }, "single-speaker rounds")
	require.NoError(t, e.Pause(id))

	conv, err := e.Conversation(id)
	require.NoError(t, err)
	for _, m := range conv.Tail(conv.Len()) {
		assert.Equal(t, "Ada", m.Speaker)
		assert.Equal(t, "Talking to myself.", m.Text)
	}
	assert.GreaterOrEqual(t, conv.RoundCount(), 2)
}

func TestHumanLikeSingleSpeakerDeclineAdvancesRound(t *testing.T) {
	mock := model.NewMock()
	mock.AddResponse(`{"is_responding": "no", "response": null}`)
	e := newTestEngine(mock)
	defer e.Close()

	id, err := e.Start(testConfig(core.PolicyHumanLike, "Ada"))
	require.NoError(t, err)

	// A declined one-speaker round appends nothing but still counts.
	waitFor(t, func() bool {
		conv, err := e.Conversation(id)
		return err == nil && conv.RoundCount() >= 2
	}, "declined rounds")

	conv, err := e.Conversation(id)
	require.NoError(t, err)
	assert.Equal(t, 0, conv.Len())
	assert.Equal(t, core.StatusActive, conv.CurrentStatus())
}

func TestResumeRevivesPersistedConversation(t *testing.T) {
	mock := model.NewMock()
	mock.AddResponse("Back again.")
	e := newTestEngine(mock)
	defer e.Close()

	id, err := e.Start(testConfig(core.PolicyRoundRobin, "Ada", "Grace"))
	require.NoError(t, err)
	waitFor(t, func() bool { return e.messageCount(t, id) >= 1 }, "first turn")
	require.NoError(t, e.Pause(id))

	// Simulate a restart by dropping the live session but keeping storage.
	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()

	before := 0
	if conv, err := e.opts.Store.Load(id); err == nil {
		before = conv.Len()
	}

	require.NoError(t, e.Resume(id))
	waitFor(t, func() bool { return e.messageCount(t, id) > before }, "revived turn")

	conv, err := e.Conversation(id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, conv.CurrentStatus())
}

func TestResumeOnActiveSessionIsRejected(t *testing.T) {
	mock := model.NewMock()
	mock.AddResponse("Still talking.")
	slow := &slowInvoker{mock: mock, delay: 30 * time.Millisecond}
	e := newTestEngine(mock, func(o *Options) {
		o.Factory = model.FactoryFunc(func(string) model.Invoker { return slow })
	})
	defer e.Close()

	id, err := e.Start(testConfig(core.PolicyRoundRobin, "Ada", "Grace"))
	require.NoError(t, err)

	// Resuming mid-turn must not start a second turn loop.
	time.Sleep(50 * time.Millisecond)
	err = e.Resume(id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already active")

	waitFor(t, func() bool { return e.messageCount(t, id) >= 3 }, "three turns")
	require.NoError(t, e.Pause(id))
	assert.Equal(t, int32(1), slow.maxSeen.Load(), "turns must run one at a time")
}

func TestResumeUnknownID(t *testing.T) {
	e := newTestEngine(model.NewMock())
	defer e.Close()
	assert.ErrorIs(t, e.Resume("conv_missing"), ErrSessionNotFound)
}
