package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sweeney/nilm-server/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	clientSendSize = 64
)

// Hub broadcasts pipeline messages to connected WebSocket clients. A client
// whose send queue is full is disconnected rather than awaited.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*wsClient
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log.With(slog.String("component", "ws")),
		clients: make(map[string]*wsClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboard clients connect from arbitrary origins on the LAN.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientSendSize),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	metrics.WebsocketClients.Set(float64(n))
	h.mu.Unlock()
	h.log.Info("client connected", slog.String("client_id", c.id), slog.Int("clients", n))

	go h.writePump(c)
	go h.readPump(c)
}

// Publish sends the message to every connected client without blocking.
func (h *Hub) Publish(topic string, payload any) {
	data, err := json.Marshal(Envelope{Topic: topic, Payload: payload})
	if err != nil {
		h.log.Error("marshal broadcast", slog.String("topic", topic), slog.Any("error", err))
		return
	}

	h.mu.Lock()
	var slow []*wsClient
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		delete(h.clients, c.id)
		close(c.send)
	}
	metrics.WebsocketClients.Set(float64(len(h.clients)))
	h.mu.Unlock()

	for _, c := range slow {
		h.log.Warn("dropping slow client", slog.String("client_id", c.id))
	}
}

// ClientCount reports how many clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients.
func (h *Hub) Close() error {
	h.mu.Lock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
	metrics.WebsocketClients.Set(0)
	h.mu.Unlock()
	return nil
}

// writePump drains the client's send queue onto the connection. A closed
// send channel (slow client or hub shutdown) closes the connection.
func (h *Hub) writePump(c *wsClient) {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.unregister(c)
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, nil)
}

// readPump discards inbound messages and unregisters on disconnect. The
// protocol is broadcast-only; reading is still required to process control
// frames.
func (h *Hub) readPump(c *wsClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.unregister(c)
			return
		}
	}
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	metrics.WebsocketClients.Set(float64(len(h.clients)))
	h.mu.Unlock()
	h.log.Info("client disconnected", slog.String("client_id", c.id))
}
