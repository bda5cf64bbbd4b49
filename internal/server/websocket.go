package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/coffeefilter/internal/logging"
	"github.com/conneroisu/coffeefilter/internal/validation"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 54 * time.Second

	// Clients only ever send control frames.
	maxMessageSize = 512

	sendBuffer = 64
)

// reloadMessage is pushed to every reload client.
type reloadMessage struct {
	Type      string    `json:"type"`
	Key       string    `json:"key,omitempty"`
	Event     string    `json:"event,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type reloadClient struct {
	conn *websocket.Conn
	send chan []byte
}

// reloadHub fans source change notifications out to websocket clients.
type reloadHub struct {
	mutex   sync.Mutex
	clients map[*reloadClient]struct{}
	closed  bool
	logger  logging.Logger
}

func newReloadHub(logger logging.Logger) *reloadHub {
	return &reloadHub{
		clients: make(map[*reloadClient]struct{}),
		logger:  logger.WithComponent("reload"),
	}
}

// run disconnects every client once ctx ends.
func (h *reloadHub) run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

func (h *reloadHub) add(c *reloadClient) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *reloadHub) remove(c *reloadClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *reloadHub) count() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// broadcast queues msg for every client. Clients that cannot keep up are
// dropped.
func (h *reloadHub) broadcast(msg reloadMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error(context.Background(), err, "Failed to marshal reload message")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *reloadHub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.checkOrigin(r); err != nil {
		s.logger.Warn(r.Context(), err, "Rejected reload connection", "origin", r.Header.Get("Origin"))
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	// Origin was checked above against the configured list.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Warn(r.Context(), err, "WebSocket upgrade error")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := &reloadClient{conn: conn, send: make(chan []byte, sendBuffer)}
	if !s.hub.add(client) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	s.logger.Debug(r.Context(), "Reload client connected", "clients", s.hub.count())

	// The request context ends when the handler returns, so the pumps get
	// their own.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		client.readPump(ctx)
		s.hub.remove(client)
	}()
	go client.writePump(ctx, s.logger)
}

// checkOrigin accepts the server's own address and configured origins.
func (s *Server) checkOrigin(r *http.Request) error {
	allowed := append([]string{r.Host}, s.config.Server.AllowedOrigins...)
	return validation.ValidateOrigin(r.Header.Get("Origin"), allowed)
}

// readPump discards client frames until the connection ends.
func (c *reloadClient) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

func (c *reloadClient) writePump(ctx context.Context, logger logging.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				logger.Debug(ctx, "Reload write failed", "error", err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

