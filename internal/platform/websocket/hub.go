// Package websocket provides the real-time fan-out hub that keeps patient
// thread views and clinic ticket queues in sync with server-side state. It
// implements a hub-and-spoke pattern where connections join topics and
// receive every event published to those topics while they are joined.
//
// Delivery is best-effort, at-most-once, with no persistence or replay: a
// connection that was not joined at publish time misses the event and must
// re-fetch state through the regular query endpoints on reconnect.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ThreadTopic names the patient-facing topic for one conversation thread.
func ThreadTopic(threadID uuid.UUID) string {
	return "thread:" + threadID.String()
}

// ClinicTopic names the clinician-facing topic for one clinic's ticket queue.
func ClinicTopic(clinicID uuid.UUID) string {
	return "clinic:" + clinicID.String()
}

// Publisher is the narrow interface services use to fan out events.
type Publisher interface {
	Publish(topic string, payload any)
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client represents a single connected observer.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
	conn   Conn
}

// Hub tracks live observers per topic. The topic membership tables are the
// only structures mutated concurrently by connection lifecycles and
// publishers, so every mutation and delivery iteration runs under the hub's
// single lock. The hub is an injectable service: construct one per process
// (or per test) rather than sharing a package-level instance.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Client]struct{}
	all    map[*Client]struct{}

	logger zerolog.Logger
}

// NewHub creates a hub ready to manage observers.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[*Client]struct{}),
		all:    make(map[*Client]struct{}),
		logger: logger,
	}
}

// Join registers a client and subscribes it to the given topics.
func (h *Hub) Join(client *Client, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range topics {
		if h.topics[topic] == nil {
			h.topics[topic] = make(map[*Client]struct{})
		}
		h.topics[topic][client] = struct{}{}
	}
	client.Topics = append(client.Topics, topics...)
}

// Leave removes a client from every topic it was joined to and closes its
// send channel. Safe to call for a client that was never joined.
func (h *Hub) Leave(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		if members, ok := h.topics[topic]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	delete(h.all, client)
	close(client.Send)
}

// Publish delivers payload to every connection currently joined to topic.
// A delivery failure to one connection (including a full send buffer) is
// swallowed and does not affect delivery to the others or raise to the
// caller.
func (h *Hub) Publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("marshal realtime event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.topics[topic] {
		select {
		case client.Send <- data:
		default:
			// Slow consumer; drop rather than block the publisher.
		}
	}
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients joined to a topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// Serve upgrades the HTTP connection, joins it to the given topics, and
// pumps until the peer disconnects. Authorization (which topics this caller
// may join) is the route handler's responsibility.
func (h *Hub) Serve(c echo.Context, topics ...string) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:   uuid.New().String(),
		Send: make(chan []byte, 256),
		conn: &gorillaConnAdapter{ws},
	}
	h.Join(client, topics...)

	go h.writePump(client)
	h.readPump(client)
	return nil
}

// readPump consumes inbound frames until the connection drops, then cleans
// up the client's topic memberships. Inbound content is ignored; clients
// only observe.
func (h *Hub) readPump(client *Client) {
	defer func() {
		h.Leave(client)
		client.conn.Close()
	}()
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump writes queued events to the connection until the send channel
// closes or a write fails.
func (h *Hub) writePump(client *Client) {
	defer client.conn.Close()
	for message := range client.Send {
		if err := client.conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy Conn.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
