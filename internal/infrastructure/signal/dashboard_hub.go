package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"callscope/internal/core/domain"
	"callscope/internal/infrastructure/distributed"
	"callscope/pkg/tracing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrTooManyClients = errors.New("dashboard client limit reached")

type HubConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBufferSize int
	MaxClients     int
	// AllowedOrigins lists accepted Origin headers. Empty allows any.
	AllowedOrigins []string
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendBufferSize: 64,
		MaxClients:     100,
	}
}

// Message is the frame pushed to dashboards.
type Message struct {
	Type      domain.EventName `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	SessionID domain.SessionID `json:"session_id,omitempty"`
	RoomID    domain.RoomID    `json:"room_id,omitempty"`
	Instance  string           `json:"instance,omitempty"`
	Payload   any              `json:"payload,omitempty"`
}

// ClientMessage is what dashboards send: "subscribe"/"unsubscribe" narrow or
// widen the room filter, "ping" gets a "pong".
type ClientMessage struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"room_id,omitempty"`
}

// DashboardHub pushes bus events to websocket dashboards. A client with no
// room subscriptions receives everything.
type DashboardHub struct {
	config   HubConfig
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

type client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}

	mu    sync.RWMutex
	rooms map[domain.RoomID]struct{}
}

func NewDashboardHub(config HubConfig, logger *zap.SugaredLogger) *DashboardHub {
	d := DefaultHubConfig()
	if config.PingInterval <= 0 {
		config.PingInterval = d.PingInterval
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = d.PongTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = d.WriteTimeout
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = d.SendBufferSize
	}

	h := &DashboardHub{
		config:  config,
		logger:  logger,
		clients: make(map[string]*client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *DashboardHub) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades the request and serves the client until it
// disconnects. The optional room_id query parameter sets the initial filter.
func (h *DashboardHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.config.MaxClients > 0 && h.ClientCount() >= h.config.MaxClients {
		http.Error(w, ErrTooManyClients.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:    uuid.NewString(),
		conn:  conn,
		send:  make(chan []byte, h.config.SendBufferSize),
		done:  make(chan struct{}),
		rooms: make(map[domain.RoomID]struct{}),
	}
	if room := r.URL.Query().Get("room_id"); room != "" {
		c.rooms[domain.RoomID(room)] = struct{}{}
	}

	if err := h.register(c); err != nil {
		h.logger.Warnw("rejecting dashboard client", "client_id", c.id, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	h.logger.Infow("dashboard connected", "client_id", c.id, "remote_addr", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
}

func (h *DashboardHub) register(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("dashboard hub closed")
	}
	if h.config.MaxClients > 0 && len(h.clients) >= h.config.MaxClients {
		return ErrTooManyClients
	}
	h.clients[c.id] = c
	return nil
}

func (h *DashboardHub) unregister(c *client, reason string) {
	h.mu.Lock()
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
		h.logger.Infow("dashboard disconnected", "client_id", c.id, "reason", reason)
	})
}

func (h *DashboardHub) readPump(c *client) {
	defer h.unregister(c, "read closed")

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugw("dashboard read failed", "client_id", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
		h.handleClientMessage(c, msg)
	}
}

func (h *DashboardHub) handleClientMessage(c *client, msg ClientMessage) {
	_, span := tracing.TraceDashboardMessage(context.Background(), msg.Type, c.id)
	defer span.End()

	switch msg.Type {
	case "subscribe":
		if msg.RoomID == "" {
			return
		}
		c.mu.Lock()
		c.rooms[msg.RoomID] = struct{}{}
		c.mu.Unlock()
	case "unsubscribe":
		c.mu.Lock()
		if msg.RoomID == "" {
			c.rooms = make(map[domain.RoomID]struct{})
		} else {
			delete(c.rooms, msg.RoomID)
		}
		c.mu.Unlock()
	case "ping":
		h.enqueue(c, Message{Type: "pong", Timestamp: time.Now()})
	default:
		h.logger.Debugw("unknown dashboard message", "client_id", c.id, "type", msg.Type)
	}
}

func (h *DashboardHub) writePump(c *client) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()
	defer h.unregister(c, "write closed")

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Debugw("dashboard write failed", "client_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) wants(room domain.RoomID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.rooms) == 0 || room == "" {
		return true
	}
	_, ok := c.rooms[room]
	return ok
}

// HandleEvent is subscribed to the local bus.
func (h *DashboardHub) HandleEvent(ev domain.Event) {
	h.Broadcast(Message{
		Type:      ev.Name,
		Timestamp: ev.Timestamp,
		SessionID: ev.SessionID,
		RoomID:    ev.RoomID,
		Payload:   ev.Payload,
	})
}

// HandleRemoteEvent relays an event forwarded by another instance.
func (h *DashboardHub) HandleRemoteEvent(ev *distributed.RemoteEvent) {
	h.Broadcast(Message{
		Type:      ev.Name,
		Timestamp: ev.Timestamp,
		SessionID: ev.SessionID,
		RoomID:    ev.RoomID,
		Instance:  ev.InstanceID,
		Payload:   ev.Payload,
	})
}

// Broadcast encodes msg once and queues it for every interested client. A
// client whose buffer is full is disconnected.
func (h *DashboardHub) Broadcast(msg Message) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.wants(msg.RoomID) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorw("failed to encode dashboard message", "type", msg.Type, "error", err)
		return
	}
	for _, c := range targets {
		h.push(c, frame)
	}
}

func (h *DashboardHub) enqueue(c *client, msg Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.push(c, frame)
}

func (h *DashboardHub) push(c *client, frame []byte) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		h.logger.Warnw("dashboard client too slow, dropping", "client_id", c.id)
		h.unregister(c, "slow consumer")
	}
}

func (h *DashboardHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *DashboardHub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		h.unregister(c, "hub closed")
	}
}
