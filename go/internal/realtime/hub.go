package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/teamsync/go/internal/events"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Hub manages websocket connections and fans events out to the
// connections subscribed to a topic
type Hub struct {
	// Live connections by ID, and topic -> subscribed connections
	connections map[string]*Connection
	topics      map[string]map[string]*Connection
	mu          sync.RWMutex

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	// Connection configuration
	config ConnectionConfig

	// Outbound events, delivered in order by a single goroutine
	dispatchCh chan outbound
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	hub     *Hub
	handler MessageHandler
	limiter *rate.Limiter

	// Connection metadata
	ConnectedAt time.Time
	RemoteAddr  string

	// topics this connection is subscribed to, guarded by hub.mu
	topics map[string]struct{}
	closed bool
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	DispatchBuffer  int
	CommandRate     rate.Limit
	CommandBurst    int
	CheckOrigin     func(r *http.Request) bool
}

// outbound is one event for a topic, or for a single connection when
// ConnectionID is set
type outbound struct {
	Topic        string
	ConnectionID string
	Event        *events.Event
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  16 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		DispatchBuffer:  4096,
		CommandRate:     20,
		CommandBurst:    40,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewHub creates a new connection hub
func NewHub(config ConnectionConfig) *Hub {
	defaults := DefaultConnectionConfig()
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaults.SendBuffer
	}
	if config.DispatchBuffer <= 0 {
		config.DispatchBuffer = defaults.DispatchBuffer
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	return &Hub{
		connections: make(map[string]*Connection),
		topics:      make(map[string]map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:     config,
		dispatchCh: make(chan outbound, config.DispatchBuffer),
	}
}

// Start processes outbound events until ctx is cancelled
func (h *Hub) Start(ctx context.Context) {
	log.Info().Msg("hub started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("hub shutting down")
			h.closeAll()
			return
		case d := <-h.dispatchCh:
			h.handleDispatch(d)
		}
	}
}

// Upgrade upgrades an HTTP connection to WebSocket and starts its pumps.
// Messages read from the connection go to handler, one at a time.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, handler MessageHandler) (*Connection, error) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, h.config.SendBuffer),
		hub:         h,
		handler:     handler,
		ConnectedAt: time.Now(),
		RemoteAddr:  r.RemoteAddr,
		topics:      make(map[string]struct{}),
	}
	if h.config.CommandRate > 0 {
		c.limiter = rate.NewLimiter(h.config.CommandRate, h.config.CommandBurst)
	}

	h.register(c)

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ID).
		Str("remote_addr", c.RemoteAddr).
		Msg("WebSocket connection established")
	return c, nil
}

func (h *Hub) register(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c.ID] = c

	log.Debug().
		Str("connection_id", c.ID).
		Int("total_connections", len(h.connections)).
		Msg("connection registered")
}

// unregister removes a connection from every topic and closes its send
// channel. Safe to call more than once.
func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	delete(h.connections, c.ID)
	for topic := range c.topics {
		h.removeFromTopic(topic, c.ID)
	}
	c.topics = nil
	close(c.Send)

	log.Info().
		Str("connection_id", c.ID).
		Msg("connection unregistered")
}

// removeFromTopic must be called with h.mu held
func (h *Hub) removeFromTopic(topic, connectionID string) {
	if members, ok := h.topics[topic]; ok {
		delete(members, connectionID)
		// Clean up empty topic pools
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Subscribe adds a live connection to a topic
func (h *Hub) Subscribe(topic, connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.connections[connectionID]
	if !ok || c.closed {
		return
	}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[string]*Connection)
	}
	h.topics[topic][connectionID] = c
	c.topics[topic] = struct{}{}
}

// Unsubscribe removes a connection from a topic
func (h *Hub) Unsubscribe(topic, connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromTopic(topic, connectionID)
	if c, ok := h.connections[connectionID]; ok && c.topics != nil {
		delete(c.topics, topic)
	}
}

// Broadcast queues an event for every connection subscribed to topic
func (h *Hub) Broadcast(topic string, event *events.Event) {
	h.enqueue(outbound{Topic: topic, Event: event})
}

// Unicast queues an event for one connection
func (h *Hub) Unicast(connectionID string, event *events.Event) {
	h.enqueue(outbound{ConnectionID: connectionID, Event: event})
}

func (h *Hub) enqueue(d outbound) {
	select {
	case h.dispatchCh <- d:
	default:
		log.Warn().
			Str("topic", d.Topic).
			Str("connection_id", d.ConnectionID).
			Str("event_type", string(d.Event.Type)).
			Msg("dispatch channel full, dropping message")
	}
}

// handleDispatch delivers one queued event
func (h *Hub) handleDispatch(d outbound) {
	h.mu.RLock()
	var targets []*Connection
	if d.ConnectionID != "" {
		if c, ok := h.connections[d.ConnectionID]; ok {
			targets = append(targets, c)
		}
	} else {
		// Snapshot the subscribers to avoid holding the lock while sending
		for _, c := range h.topics[d.Topic] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	// Marshal the event once
	data, err := json.Marshal(d.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for dispatch")
		return
	}

	for _, c := range targets {
		h.send(c, data)
	}

	log.Debug().
		Str("event_type", string(d.Event.Type)).
		Str("topic", d.Topic).
		Int("connections", len(targets)).
		Msg("event dispatched")
}

// send hands data to a connection's writer. A full buffer means the
// client is too slow, so the connection is dropped.
func (h *Hub) send(c *Connection, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- data:
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Msg("connection send buffer full, closing connection")
		// closing the socket ends the read pump, which unregisters
		c.Conn.Close()
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Conn.Close()
	}
}

type HubStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveTopics     int            `json:"active_topics"`
	TopicConnections map[string]int `json:"topic_connections"`
}

// Stats returns statistics about active connections
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	counts := make(map[string]int, len(h.topics))
	for topic, members := range h.topics {
		counts[topic] = len(members)
	}
	return HubStats{
		TotalConnections: len(h.connections),
		ActiveTopics:     len(h.topics),
		TopicConnections: counts,
	}
}
