package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

// Hub maintains active WebSocket connections and fans trade updates out
// to subscribed clients.
type Hub struct {
	log *zap.Logger

	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Info("ws_connected", zap.String("client", client.id), zap.Int("total", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.log.Info("ws_disconnected", zap.String("client", client.id), zap.Int("total", len(h.clients)))
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastToChannel sends a message to all clients subscribed to a channel
func (h *Hub) BroadcastToChannel(channel string, data interface{}) {
	message, err := json.Marshal(data)
	if err != nil {
		h.log.Error("ws_marshal", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.IsSubscribed(channel) {
			select {
			case client.send <- message:
			default:
				// Buffer full, skip this client
			}
		}
	}
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	subscriptions map[string]bool
	subsMu        sync.RWMutex
}

// IsSubscribed checks if client is subscribed to a channel
func (c *Client) IsSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

// Subscribe adds a channel subscription
func (c *Client) Subscribe(channel string) {
	c.subsMu.Lock()
	c.subscriptions[channel] = true
	c.subsMu.Unlock()
	c.hub.log.Info("ws_subscribe", zap.String("client", c.id), zap.String("channel", channel))
}

// Unsubscribe removes a channel subscription
func (c *Client) Unsubscribe(channel string) {
	c.subsMu.Lock()
	delete(c.subscriptions, channel)
	c.subsMu.Unlock()
	c.hub.log.Info("ws_unsubscribe", zap.String("client", c.id), zap.String("channel", channel))
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("ws_read", zap.Error(err))
			}
			break
		}

		// Handle subscription requests
		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.log.Warn("ws_bad_message", zap.Error(err))
			continue
		}

		switch req.Op {
		case "subscribe":
			for _, channel := range req.Channels {
				c.Subscribe(channel)
			}
		case "unsubscribe":
			for _, channel := range req.Channels {
				c.Unsubscribe(channel)
			}
		default:
			c.hub.log.Warn("ws_unknown_op", zap.String("op", req.Op))
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to current write
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket handles WebSocket upgrade and client lifecycle
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws_upgrade", zap.Error(err))
		return
	}

	client := &Client{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		id:            conn.RemoteAddr().String(),
		subscriptions: make(map[string]bool),
	}

	client.hub.register <- client

	// Start read and write pumps in separate goroutines
	go client.writePump()
	go client.readPump()
}
