// Package ws streams committed settlement events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scorepeers/settlement/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// backlogLimit caps how many stream entries a reconnecting client
	// replays. It stays below sendBufferSize.
	backlogLimit = 200
)

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	// contests filters events by contest ID. Empty means every contest.
	contests map[string]bool
	mu       sync.RWMutex
}

// filterMsg is the JSON message a client sends to narrow or widen its feed.
type filterMsg struct {
	Action   string   `json:"action"` // "follow", "unfollow" or "all"
	Contests []string `json:"contests"`
}

// envelope wraps every frame sent to clients.
type envelope struct {
	Type     string               `json:"type"`
	StreamID string               `json:"stream_id,omitempty"`
	Event    *domain.ContestEvent `json:"event,omitempty"`
	Time     time.Time            `json:"time"`
}

// Hub bridges committed settlement events from the signal bus to connected
// WebSocket clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan domain.ContestEvent
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a hub fed by bus. allowedOrigins restricts the upgrade;
// empty allows every origin.
func NewHub(bus domain.SignalBus, allowedOrigins []string, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan domain.ContestEvent, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger.With(slog.String("component", "ws")),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}

// Run starts the hub's main event loop and the bus subscription. It returns
// when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	go h.subscribe(ctx)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case ev := <-h.broadcast:
			data, err := json.Marshal(envelope{Type: "contest_event", Event: &ev, Time: time.Now().UTC()})
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.follows(ev.ContestID) {
					continue
				}
				select {
				case c.send <- data:
				default:
					h.logger.Warn("ws: dropping event for slow client",
						slog.String("contest_id", ev.ContestID),
					)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribe forwards settlement events from the bus to the broadcast loop.
func (h *Hub) subscribe(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, domain.SettlementChannel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", domain.SettlementChannel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed to channel", slog.String("channel", domain.SettlementChannel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed",
					slog.String("channel", domain.SettlementChannel),
				)
				return
			}
			var ev domain.ContestEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				h.logger.Warn("ws: malformed settlement event", slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. A since query parameter replays the durable
// stream after that ID before live events start.
// GET /ws?contest_id=...&since=...
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		contests: make(map[string]bool),
	}
	if id := r.URL.Query().Get("contest_id"); id != "" {
		c.contests[id] = true
	}

	c.enqueue(envelope{Type: "hello", Time: time.Now().UTC()})
	if since := r.URL.Query().Get("since"); since != "" {
		h.replay(r.Context(), c, since)
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// replay sends stream entries after lastID that match the client's filter.
func (h *Hub) replay(ctx context.Context, c *client, lastID string) {
	msgs, err := h.bus.StreamRead(ctx, domain.SettlementStream, lastID, backlogLimit)
	if err != nil {
		h.logger.Warn("ws: backlog read failed",
			slog.String("since", lastID),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, m := range msgs {
		var ev domain.ContestEvent
		if err := json.Unmarshal(m.Payload, &ev); err != nil || !c.follows(ev.ContestID) {
			continue
		}
		c.enqueue(envelope{Type: "contest_event", StreamID: m.ID, Event: &ev, Time: ev.At})
	}
}

// readPump reads filter messages from the client until the connection ends.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg filterMsg
		if err := json.Unmarshal(message, &msg); err == nil && msg.Action != "" {
			c.applyFilter(msg)
		}
	}
}

func (c *client) applyFilter(msg filterMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "follow":
		for _, id := range msg.Contests {
			c.contests[id] = true
		}
	case "unfollow":
		for _, id := range msg.Contests {
			delete(c.contests, id)
		}
	case "all":
		clear(c.contests)
	}
}

// follows reports whether events for contestID should reach this client.
func (c *client) follows(contestID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.contests) == 0 || c.contests[contestID]
}

func (c *client) enqueue(env envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump sends queued JSON frames and periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
