// Package notify delivers detected match events to push subscribers and
// message brokers.
package notify

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"cs2-tracker/internal/constants"
	"cs2-tracker/internal/domain"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Subscription narrows what a websocket client receives. An empty match set
// means every match.
type Subscription struct {
	MatchIDs      map[string]bool
	MinImportance int
}

func (s Subscription) wants(e domain.Event) bool {
	if e.Importance < s.MinImportance {
		return false
	}
	if len(s.MatchIDs) == 0 {
		return true
	}
	return s.MatchIDs[strings.ToLower(e.MatchID)]
}

type clientMessage struct {
	Type          string   `json:"type"`
	MatchIDs      []string `json:"match_ids"`
	MinImportance int      `json:"min_importance"`
}

type serverMessage struct {
	Type  string        `json:"type"`
	Event *domain.Event `json:"event,omitempty"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu  sync.RWMutex
	sub Subscription
}

func (c *client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

func (c *client) setSubscription(s Subscription) {
	c.mu.Lock()
	c.sub = s
	c.mu.Unlock()
}

// Hub fans events out to connected websocket clients.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan domain.Event
	done       chan struct{}
	logger     zerolog.Logger

	connected *atomic.Int64
	dropped   *atomic.Int64
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan domain.Event, constants.HubBroadcastBuffer),
		done:       make(chan struct{}),
		logger:     logger,
		connected:  atomic.NewInt64(0),
		dropped:    atomic.NewInt64(0),
	}
}

// Run owns the client set until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.connected.Store(0)
			return

		case c := <-h.register:
			h.clients[c] = true
			h.connected.Inc()
			h.logger.Debug().Int64("clients", h.connected.Load()).Msg("websocket client connected")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.connected.Dec()
				h.logger.Debug().Int64("clients", h.connected.Load()).Msg("websocket client disconnected")
			}

		case e := <-h.broadcast:
			h.deliver(e)
		}
	}
}

func (h *Hub) deliver(e domain.Event) {
	data, err := json.Marshal(serverMessage{Type: "event", Event: &e})
	if err != nil {
		h.logger.Error().Err(err).Str("event_id", e.ID).Msg("failed to encode event")
		return
	}
	for c := range h.clients {
		if !c.subscription().wants(e) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Slow reader; drop it rather than stall every other client.
			delete(h.clients, c)
			close(c.send)
			h.connected.Dec()
			h.dropped.Inc()
		}
	}
}

// Publish queues events for delivery. Events that do not fit in the
// broadcast buffer are dropped.
func (h *Hub) Publish(ctx context.Context, evs []domain.Event) error {
	for _, e := range evs {
		select {
		case h.broadcast <- e:
		case <-ctx.Done():
			return ctx.Err()
		default:
			h.dropped.Inc()
			h.logger.Warn().Str("event_id", e.ID).Msg("hub broadcast buffer full, event dropped")
		}
	}
	return nil
}

func (h *Hub) Name() string { return "websocket" }

func (h *Hub) Clients() int64 { return h.connected.Load() }

func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// ServeHTTP upgrades the request and attaches the connection to the hub.
// Query parameters match_id (repeatable) and min_importance set the initial
// subscription.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, constants.HubClientBuffer),
		sub:  subscriptionFromQuery(r),
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

func subscriptionFromQuery(r *http.Request) Subscription {
	q := r.URL.Query()
	msg := clientMessage{MatchIDs: q["match_id"]}
	if n, err := strconv.Atoi(q.Get("min_importance")); err == nil {
		msg.MinImportance = n
	}
	return msg.subscription()
}

func (m clientMessage) subscription() Subscription {
	s := Subscription{MinImportance: m.MinImportance}
	if len(m.MatchIDs) > 0 {
		s.MatchIDs = make(map[string]bool, len(m.MatchIDs))
		for _, id := range m.MatchIDs {
			s.MatchIDs[strings.ToLower(strings.TrimSpace(id))] = true
		}
	}
	return s
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *client) handleMessage(message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.hub.logger.Debug().Err(err).Msg("failed to decode client message")
		return
	}

	switch msg.Type {
	case "subscribe":
		c.setSubscription(msg.subscription())
	case "unsubscribe":
		c.setSubscription(Subscription{})
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
