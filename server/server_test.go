package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagecast/stagecast/config"
	"github.com/stagecast/stagecast/core"
	"github.com/stagecast/stagecast/display"
	"github.com/stagecast/stagecast/engine"
	"github.com/stagecast/stagecast/logging"
	"github.com/stagecast/stagecast/model"
)

// slowSettings keep scheduled turns far in the future so handler tests see a
// quiescent conversation.
func slowSettings() config.Settings {
	s := config.DefaultSettings()
	s.Timing.StartDelay = time.Hour
	s.Timing.TurnDelayMin = time.Hour
	s.Timing.TurnDelayMax = 2 * time.Hour
	s.Timing.ResumeDelay = time.Hour
	s.Timing.ErrorRetryDelay = time.Hour
	return s
}

func newTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()
	mock := model.NewMock()
	mock.AddResponse("A reply.")
	eng := engine.New(func(o *engine.Options) {
		o.Factory = model.FactoryFunc(func(string) model.Invoker { return mock })
		o.Settings = slowSettings()
		o.DefaultAPIKey = "test-key"
		o.Logger = logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelError, Output: io.Discard})
	})
	t.Cleanup(eng.Close)

	hub := display.NewHub()
	return New(eng, hub), eng
}

func createBody() []byte {
	b, _ := json.Marshal(map[string]any{
		"title":       "Panel",
		"environment": "A radio studio",
		"scene":       "Two hosts mid-show",
		"policy":      "round_robin",
		"participants": []map[string]any{
			{"name": "Ada", "role": "host"},
			{"name": "Bram", "role": "guest"},
		},
	})
	return b
}

func doJSON(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func startConversation(t *testing.T, s *Server) string {
	t.Helper()
	w := doJSON(t, s.Handler(), http.MethodPost, "/api/conversations", createBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func TestCreateConversation(t *testing.T) {
	s, eng := newTestServer(t)
	id := startConversation(t, s)

	conv, err := eng.Conversation(id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, conv.CurrentStatus())
	assert.Equal(t, "Panel", conv.Config.Title)
}

func TestCreateConversationRejectsBadBody(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s.Handler(), http.MethodPost, "/api/conversations", []byte(`{"title":"x"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s.Handler(), http.MethodPost, "/api/conversations", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLifecycleRoutes(t *testing.T) {
	s, eng := newTestServer(t)
	id := startConversation(t, s)

	w := doJSON(t, s.Handler(), http.MethodPost, "/api/conversations/"+id+"/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)
	conv, err := eng.Conversation(id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPaused, conv.CurrentStatus())

	w = doJSON(t, s.Handler(), http.MethodPost, "/api/conversations/"+id+"/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	conv, err = eng.Conversation(id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, conv.CurrentStatus())

	w = doJSON(t, s.Handler(), http.MethodPost, "/api/conversations/"+id+"/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	conv, err = eng.Conversation(id)
	require.NoError(t, err)
	assert.Equal(t, core.StatusStopped, conv.CurrentStatus())
}

func TestUnknownConversationIs404(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{
		"/api/conversations/conv_missing/pause",
		"/api/conversations/conv_missing/resume",
		"/api/conversations/conv_missing/stop",
	} {
		w := doJSON(t, s.Handler(), http.MethodPost, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}

	w := doJSON(t, s.Handler(), http.MethodGet, "/api/conversations/conv_missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInjectMessage(t *testing.T) {
	s, eng := newTestServer(t)
	id := startConversation(t, s)

	body, _ := json.Marshal(map[string]string{"text": "Please wrap up."})
	w := doJSON(t, s.Handler(), http.MethodPost, "/api/conversations/"+id+"/messages", body)
	require.Equal(t, http.StatusOK, w.Code)

	conv, err := eng.Conversation(id)
	require.NoError(t, err)
	msgs := conv.Tail(conv.Len())
	require.Len(t, msgs, 1)
	assert.Equal(t, core.UserSpeaker, msgs[0].Speaker)
	assert.Equal(t, "Please wrap up.", msgs[0].Text)
}

func TestInjectMessageRequiresText(t *testing.T) {
	s, _ := newTestServer(t)
	id := startConversation(t, s)

	w := doJSON(t, s.Handler(), http.MethodPost, "/api/conversations/"+id+"/messages", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChangeScene(t *testing.T) {
	s, eng := newTestServer(t)
	id := startConversation(t, s)

	body, _ := json.Marshal(map[string]string{
		"environment": "A rooftop bar",
		"scene":       "Sunset, the show goes mobile",
	})
	w := doJSON(t, s.Handler(), http.MethodPost, "/api/conversations/"+id+"/scene", body)
	require.Equal(t, http.StatusOK, w.Code)

	conv, err := eng.Conversation(id)
	require.NoError(t, err)
	env, _ := conv.SceneState()
	assert.Equal(t, "A rooftop bar", env)
}

func TestListConversations(t *testing.T) {
	s, _ := newTestServer(t)
	startConversation(t, s)
	startConversation(t, s)

	w := doJSON(t, s.Handler(), http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Conversations []json.RawMessage `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Conversations, 2)
}

func TestGetConversation(t *testing.T) {
	s, _ := newTestServer(t)
	id := startConversation(t, s)

	w := doJSON(t, s.Handler(), http.MethodGet, "/api/conversations/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id)
}
