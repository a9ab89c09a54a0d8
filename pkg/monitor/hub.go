// Package monitor mirrors the outgoing frame stream to WebSocket clients
// for live inspection. Each client gets a bounded queue; a slow client
// loses frames rather than stalling the capture loop.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sdrstream/pkg/frame"
)

const clientQueue = 256

// Hello is the first message sent to every client.
type Hello struct {
	Type      string `json:"type"`
	Session   string `json:"session"`
	FrameSize int    `json:"frame_size"`
	Status    any    `json:"status,omitempty"`
}

// Update is sent to every client when the operator changes the stream or
// tuning state.
type Update struct {
	Type   string `json:"type"`
	Status any    `json:"status"`
}

type client struct {
	conn *websocket.Conn
	send chan any
}

// writePump drains the client's queue onto the connection.
func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		var err error
		switch v := msg.(type) {
		case []byte:
			err = c.conn.WriteMessage(websocket.BinaryMessage, v)
		default:
			err = c.conn.WriteJSON(v)
		}
		if err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// Hub fans frames out to connected clients.
type Hub struct {
	session string
	status  func() any

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	upgrader websocket.Upgrader
	dropped  atomic.Uint64
}

// NewHub returns a hub that greets clients with session and, if status is
// non-nil, its current value.
func NewHub(session string, status func() any) *Hub {
	return &Hub{
		session: session,
		status:  status,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 65536,
		},
	}
}

// WriteFrame queues f.Data for every client.
func (h *Hub) WriteFrame(f *frame.Frame) error {
	h.broadcast(f.Data)
	return nil
}

// Broadcast queues a JSON message, usually an Update, for every client.
func (h *Hub) Broadcast(v any) {
	h.broadcast(v)
}

func (h *Hub) broadcast(msg any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages were skipped for full client queues.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// ServeHTTP upgrades the request and streams frames until the client goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("monitor: upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan any, clientQueue)}
	hello := Hello{Type: "hello", Session: h.session, FrameSize: frame.Size}
	if h.status != nil {
		hello.Status = h.status()
	}
	c.send <- hello

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("monitor: client connected", "remote", r.RemoteAddr)
	go c.writePump()

	defer func() {
		if h.remove(c) {
			close(c.send)
		}
		slog.Info("monitor: client disconnected", "remote", r.RemoteAddr)
	}()

	// Clients only talk to close the connection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	return true
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Serve runs an HTTP server on addr exposing the hub at /ws and a JSON
// status document at /api/status until ctx is cancelled.
func Serve(ctx context.Context, addr string, h *Hub) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var status any
		if h.status != nil {
			status = h.status()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"session": h.session,
			"clients": h.Clients(),
			"dropped": h.Dropped(),
			"status":  status,
		})
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("monitor: listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		h.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("monitor: listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}
