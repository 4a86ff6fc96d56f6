// Package realtime is the websocket transport behind presence channels.
//
// Each upgraded connection is registered under the caller's (participant id, role)
// for as long as it stays open. Broker events reach the client as JSON envelopes.
package realtime

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"connect-platform/internal/auth"
	"connect-platform/internal/config"
	"connect-platform/internal/observability"
	"connect-platform/internal/presence"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrClosed       = errors.New("realtime: connection closed")
	ErrSlowConsumer = errors.New("realtime: send buffer full")
)

const (
	sendBuffer   = 32
	writeTimeout = 10 * time.Second
	maxReadBytes = 4096
)

// Envelope is the wire format of every server-to-client message.
type Envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Registry is the subset of presence.Registry the hub needs.
type Registry interface {
	Register(participantID string, role presence.Role, ch presence.Channel) presence.Channel
	Deregister(ch presence.Channel) int
	Len() int
}

type Hub struct {
	registry     Registry
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	log          *slog.Logger
}

func NewHub(registry Registry, cfg config.RealtimeConfig, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	ping := cfg.PingInterval
	if ping <= 0 {
		ping = 25 * time.Second
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	return &Hub{
		registry:     registry,
		pingInterval: ping,
		log:          log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

func presenceRole(role string) (presence.Role, bool) {
	switch role {
	case string(presence.RoleRequester):
		return presence.RoleRequester, true
	case string(presence.RoleCounterpart):
		return presence.RoleCounterpart, true
	default:
		return "", false
	}
}

// Handle upgrades an authenticated request and serves the connection until it closes.
func (h *Hub) Handle(c *gin.Context) {
	participantID, err := auth.ParticipantID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "participant_id required"})
		return
	}
	rawRole, _ := auth.Role(c.Request.Context())
	role, ok := presenceRole(rawRole)
	if !ok {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role cannot hold a presence channel"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.log.Warn("websocket upgrade failed", "participant_id", participantID, "err", err)
		return
	}

	cn := newConn(uuid.NewString(), ws)
	if prev := h.registry.Register(participantID, role, cn); prev != nil {
		if old, ok := prev.(*conn); ok {
			old.Close()
		}
	}
	observability.SetPresenceChannels(h.registry.Len())
	h.log.Info("presence channel opened", "participant_id", participantID, "role", role, "channel_id", cn.id)

	go cn.writeLoop(h.pingInterval)
	cn.readLoop(2 * h.pingInterval)

	h.registry.Deregister(cn)
	cn.Close()
	observability.SetPresenceChannels(h.registry.Len())
	h.log.Info("presence channel closed", "participant_id", participantID, "role", role, "channel_id", cn.id)
}

// conn implements presence.Channel over one websocket.
type conn struct {
	id   string
	ws   *websocket.Conn
	send chan Envelope

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(id string, ws *websocket.Conn) *conn {
	return &conn{
		id:   id,
		ws:   ws,
		send: make(chan Envelope, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *conn) ID() string { return c.id }

// Send queues an event without blocking. A full buffer drops the event.
func (c *conn) Send(event string, payload any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- Envelope{Event: event, Payload: payload}:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSlowConsumer
	}
}

func (c *conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *conn) writeLoop(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case env := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}

// readLoop discards client frames and returns when the peer goes away.
func (c *conn) readLoop(pongWait time.Duration) {
	c.ws.SetReadLimit(maxReadBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.NextReader(); err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	}
}
