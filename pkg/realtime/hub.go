// Package realtime implements the WebSocket Hub (spec §4.H): an
// authenticated pub/sub fan-out that delivers processed events and session
// updates to subscribed clients.
package realtime

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/fuel-code/server/pkg/domain"
	"github.com/fuel-code/server/pkg/processor"
	"github.com/fuel-code/server/pkg/transcript"
)

// CloseUnauthorized is the application close code sent when a client's
// token does not match the configured API key (spec §4.H step 1).
const CloseUnauthorized websocket.StatusCode = 4001

const (
	pingInterval = 30 * time.Second
	pongTimeout  = 10 * time.Second
	scopeAll     = "all"
	writeTimeout = 5 * time.Second
)

// ServerMessage is the envelope for every message the hub sends a client
// (spec §4.H step 4).
type ServerMessage struct {
	Type        string                  `json:"type"`
	Event       *domain.Event           `json:"event,omitempty"`
	SessionID   string                  `json:"session_id,omitempty"`
	WorkspaceID string                  `json:"workspace_id,omitempty"`
	Lifecycle   domain.Lifecycle        `json:"lifecycle,omitempty"`
	Summary     *string                 `json:"summary,omitempty"`
	Stats       *domain.TranscriptStats `json:"stats,omitempty"`
	Channel     string                  `json:"channel,omitempty"`
	Message     string                  `json:"message,omitempty"`
}

// clientMessage is what a connected client may send (spec §4.H step 3).
type clientMessage struct {
	Type        string `json:"type"`
	Scope       string `json:"scope,omitempty"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

// client is one connected WebSocket, with its own subscription set.
// subscriptions is mutated by the connection's own read-loop goroutine but
// read by broadcast(), which runs on whatever goroutine calls
// BroadcastEvent/BroadcastSessionUpdate/BroadcastTranscriptUpdate — so every
// access goes through mu, not just alive.
type client struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[string]bool
	alive         bool
	mu            sync.Mutex
}

func (c *client) subscribe(scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[scope] = true
}

func (c *client) unsubscribe(scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, scope)
}

func (c *client) subscribedToAny(scopes []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range scopes {
		if c.subscriptions[s] {
			return true
		}
	}
	return false
}

// Hub fans out events and session updates to authenticated, subscribed
// WebSocket clients (spec §4.H), satisfying both processor.Broadcaster and
// transcript.Broadcaster.
type Hub struct {
	apiKey string

	mu      sync.RWMutex
	clients map[string]*client

	stopCh   chan struct{}
	stopOnce sync.Once
}

var (
	_ processor.Broadcaster  = (*Hub)(nil)
	_ transcript.Broadcaster = (*Hub)(nil)
)

// NewHub builds a Hub that authenticates connections against apiKey.
func NewHub(apiKey string) *Hub {
	return &Hub{
		apiKey:  apiKey,
		clients: make(map[string]*client),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the shared keepalive scheduler (spec §5c: "a shared ping
// scheduler").
func (h *Hub) Start(ctx context.Context) {
	go h.pingLoop(ctx)
}

// Stop terminates the keepalive scheduler; existing connections are closed
// individually as their read loops exit.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// CheckToken compares token to the configured API key in constant time
// (spec §4.H step 1).
func (h *Hub) CheckToken(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.apiKey)) == 1
}

// Accept registers an already-upgraded connection whose token the caller
// has checked, and runs its read loop until it closes. Blocks until the
// connection is done.
func (h *Hub) Accept(ctx context.Context, conn *websocket.Conn) {
	c := &client{
		id:            uuid.Must(uuid.NewV7()).String(),
		conn:          conn,
		subscriptions: make(map[string]bool),
		alive:         true,
	}
	h.register(c)
	defer h.unregister(c)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.send(c, ServerMessage{Type: "error", Message: "invalid message"})
			continue
		}
		h.handleClientMessage(c, msg)
	}
}

func (h *Hub) handleClientMessage(c *client, msg clientMessage) {
	switch msg.Type {
	case "subscribe":
		scope := subscriptionScope(msg)
		if scope == "" {
			h.send(c, ServerMessage{Type: "error", Message: "subscribe requires scope, workspace_id, or session_id"})
			return
		}
		c.subscribe(scope)
		h.send(c, ServerMessage{Type: "subscribed", Channel: scope})
	case "unsubscribe":
		scope := subscriptionScope(msg)
		c.unsubscribe(scope)
		h.send(c, ServerMessage{Type: "unsubscribed", Channel: scope})
	case "pong":
		c.mu.Lock()
		c.alive = true
		c.mu.Unlock()
	}
}

func subscriptionScope(msg clientMessage) string {
	switch {
	case msg.Scope == scopeAll:
		return scopeAll
	case msg.WorkspaceID != "":
		return "workspace:" + msg.WorkspaceID
	case msg.SessionID != "":
		return "session:" + msg.SessionID
	default:
		return ""
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.id)
}

// BroadcastEvent implements processor.Broadcaster (spec §4.H "broadcastEvent").
func (h *Hub) BroadcastEvent(e *domain.Event) {
	msg := ServerMessage{Type: "event", Event: e}
	scopes := []string{scopeAll, "workspace:" + e.WorkspaceID}
	if e.SessionID != nil {
		scopes = append(scopes, "session:"+*e.SessionID)
	}
	h.broadcast(scopes, msg)
}

// BroadcastSessionUpdate implements processor.Broadcaster (used by the
// Event Processor for lifecycle-affecting handlers).
func (h *Hub) BroadcastSessionUpdate(u processor.SessionUpdate) {
	h.broadcast(
		[]string{scopeAll, "workspace:" + u.WorkspaceID, "session:" + u.SessionID},
		ServerMessage{
			Type:        "session.update",
			SessionID:   u.SessionID,
			WorkspaceID: u.WorkspaceID,
			Lifecycle:   u.Lifecycle,
		},
	)
}

// BroadcastTranscriptUpdate implements transcript.Broadcaster (used by the
// Transcript Pipeline, which additionally has summary/stats to report).
func (h *Hub) BroadcastTranscriptUpdate(u transcript.SessionUpdate) {
	h.broadcast(
		[]string{scopeAll, "workspace:" + u.WorkspaceID, "session:" + u.SessionID},
		ServerMessage{
			Type:        "session.update",
			SessionID:   u.SessionID,
			WorkspaceID: u.WorkspaceID,
			Lifecycle:   u.Lifecycle,
			Summary:     u.Summary,
			Stats:       u.Stats,
		},
	)
}

func (h *Hub) broadcast(scopes []string, msg ServerMessage) {
	h.mu.RLock()
	recipients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.subscribedToAny(scopes) {
			recipients = append(recipients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range recipients {
		h.send(c, msg)
	}
}

// send delivers msg to c with one write on the caller's goroutine, so the
// producer waits for it; each write is bounded by writeTimeout. A write
// failure or timeout terminates that client's connection but never the
// broadcast loop.
func (h *Hub) send(c *client, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshaling websocket message failed", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Warn("websocket send failed, terminating client", "client_id", c.id, "error", err)
		_ = c.conn.Close(websocket.StatusInternalError, "send failed")
	}
}

// pingLoop marks every client not-alive, pings them, and terminates any
// client still not-alive after pongTimeout (spec §4.H step 5, "total stale
// deadline ~40s").
func (h *Hub) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.pingAll()
		}
	}
}

func (h *Hub) pingAll() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		c.alive = false
		c.mu.Unlock()
		h.send(c, ServerMessage{Type: "ping"})
	}

	time.AfterFunc(pongTimeout, func() {
		for _, c := range clients {
			c.mu.Lock()
			stale := !c.alive
			c.mu.Unlock()
			if stale {
				_ = c.conn.Close(websocket.StatusPolicyViolation, "ping timeout")
			}
		}
	})
}
