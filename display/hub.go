// Package display fans conversation events out to websocket subscribers.
// The Hub implements core.Sink, so the engine stays unaware of transport.
package display

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stagecast/stagecast/core"
	"github.com/stagecast/stagecast/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from the app's own origin; a deployment
	// behind another host should tighten this.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one websocket subscriber. A slow client whose buffer fills up is
// dropped rather than allowed to stall the broadcast.
type client struct {
	conversationID string
	conn           *websocket.Conn
	send           chan []byte
	closeOnce      sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Options configure a Hub.
type Options struct {
	Logger logging.Logger
}

// Hub tracks subscribers per conversation and broadcasts display messages to
// them. It implements core.Sink.
type Hub struct {
	opts Options

	mu      sync.RWMutex
	clients map[string]map[*client]struct{} // conversation id -> subscribers
}

// NewHub creates an empty hub.
func NewHub(optFns ...func(o *Options)) *Hub {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Hub{
		opts:    opts,
		clients: make(map[string]map[*client]struct{}),
	}
}

// OnMessage implements core.Sink, broadcasting to the message's conversation.
func (h *Hub) OnMessage(msg core.DisplayMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.opts.Logger.Error("encode display message", "error", err)
		return
	}

	h.mu.RLock()
	subscribers := make([]*client, 0, len(h.clients[msg.ConversationID]))
	for c := range h.clients[msg.ConversationID] {
		subscribers = append(subscribers, c)
	}
	h.mu.RUnlock()

	for _, c := range subscribers {
		select {
		case c.send <- payload:
		default:
			h.opts.Logger.Warn("dropping slow websocket subscriber", "conversation", msg.ConversationID)
			h.remove(c)
		}
	}
}

// Subscribers reports the current subscriber count for a conversation.
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[conversationID])
}

// ServeWS upgrades an HTTP request to a websocket subscription on the given
// conversation and pumps messages until the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, conversationID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.opts.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conversationID: conversationID,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
	}
	h.add(c)

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.conversationID] == nil {
		h.clients[c.conversationID] = make(map[*client]struct{})
	}
	h.clients[c.conversationID][c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	subscribers, ok := h.clients[c.conversationID]
	if ok {
		delete(subscribers, c)
		if len(subscribers) == 0 {
			delete(h.clients, c.conversationID)
		}
	}
	h.mu.Unlock()
	c.close()
}

// readPump discards inbound frames; the feed is one-way. Its real job is
// noticing disconnects and keeping the pong deadline fresh.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
