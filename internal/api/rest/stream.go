package rest

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/davidleathers/anomaly-detection-backend/internal/domain/detection"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientBacklog  = 32
	broadcastDepth = 256
)

// StreamHub fans detection records out to WebSocket subscribers. Slow
// clients are disconnected rather than allowed to stall the broadcast.
type StreamHub struct {
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	broadcast chan *detection.Record
	done      chan struct{}
	stopOnce  sync.Once

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

type streamClient struct {
	conn *websocket.Conn
	send chan *detection.Record
}

func NewStreamHub(logger *slog.Logger) *StreamHub {
	return &StreamHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The stream carries no credentials and feeds dashboards.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		broadcast: make(chan *detection.Record, broadcastDepth),
		done:      make(chan struct{}),
		clients:   make(map[*streamClient]struct{}),
	}
}

// Run pumps broadcasts to subscribers until Stop is called.
func (h *StreamHub) Run() {
	for {
		select {
		case record := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- record:
				default:
					// Backlogged client; drop it.
					go h.remove(client)
				}
			}
			h.mu.RUnlock()
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop disconnects all subscribers and ends Run.
func (h *StreamHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast queues a record for all subscribers. Never blocks; the oldest
// events are lost when the hub cannot keep up.
func (h *StreamHub) Broadcast(record *detection.Record) {
	select {
	case h.broadcast <- record:
	default:
	}
}

// Subscribers reports the current connection count.
func (h *StreamHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and registers the connection.
func (h *StreamHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	client := &streamClient{
		conn: conn,
		send: make(chan *detection.Record, clientBacklog),
	}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writePump(client)
	go h.readPump(client)
}

func (h *StreamHub) remove(client *streamClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	_ = client.conn.Close()
}

func (h *StreamHub) writePump(client *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case record, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(record); err != nil {
				h.remove(client)
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(client)
				return
			}
		}
	}
}

func (h *StreamHub) readPump(client *streamClient) {
	defer h.remove(client)

	client.conn.SetReadLimit(512)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Subscribers only listen; any read error ends the session.
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}
