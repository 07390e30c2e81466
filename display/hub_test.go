package display

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagecast/stagecast/core"
)

func dial(t *testing.T, hub *Hub, conversationID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, conversationID)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, hub *Hub, conversationID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers(conversationID) != want {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber count never reached %d", want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastsToConversationSubscribers(t *testing.T) {
	hub := NewHub()
	conn := dial(t, hub, "conv_1")
	waitForSubscribers(t, hub, "conv_1", 1)

	hub.OnMessage(core.DisplayMessage{
		ConversationID: "conv_1",
		Speaker:        "Ada",
		Ordinal:        1,
		Text:           "hello",
		Kind:           core.KindAgent,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var got core.DisplayMessage
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, "Ada", got.Speaker)
	assert.Equal(t, 1, got.Ordinal)
	assert.Equal(t, "hello", got.Text)
}

func TestHubIsolatesConversations(t *testing.T) {
	hub := NewHub()
	other := dial(t, hub, "conv_other")
	waitForSubscribers(t, hub, "conv_other", 1)

	hub.OnMessage(core.DisplayMessage{ConversationID: "conv_1", Speaker: "Ada", Text: "secret"})

	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := other.ReadMessage()
	assert.Error(t, err, "subscriber of another conversation must not receive the message")
}

func TestHubRemovesClientOnDisconnect(t *testing.T) {
	hub := NewHub()
	conn := dial(t, hub, "conv_1")
	waitForSubscribers(t, hub, "conv_1", 1)

	conn.Close()
	waitForSubscribers(t, hub, "conv_1", 0)
}

func TestHubBroadcastWithoutSubscribers(t *testing.T) {
	hub := NewHub()
	assert.NotPanics(t, func() {
		hub.OnMessage(core.DisplayMessage{ConversationID: "conv_1", Text: "nobody listening"})
	})
}
