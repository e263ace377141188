package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"wecare/internal/kvstore"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Frame is one websocket message in either direction.
type Frame struct {
	Type     string          `json:"type"`
	Key      string          `json:"key,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	OldValue json.RawMessage `json:"oldValue,omitempty"`
	NewValue json.RawMessage `json:"newValue,omitempty"`
	Origin   string          `json:"origin,omitempty"`
	Error    string          `json:"error,omitempty"`
}

const (
	FrameStorage = "storage"
	FrameSet     = "set"
	FrameRemove  = "remove"
	FrameGet     = "get"
	FrameValue   = "value"
	FrameAck     = "ack"
	FrameError   = "error"
)

// Hub bridges remote tabs to their sessions: storage events go out as
// frames and set/remove frames come in as writes.
type Hub struct {
	sessions *Sessions
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
}

type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session *kvstore.Session
	send    chan []byte
	detach  func()

	closeOnce sync.Once
	done      chan struct{}
}

// NewHub builds a Hub. allowedOrigins is the CORS list; "*" or empty
// accepts any browser origin.
func NewHub(sessions *Sessions, allowedOrigins string, logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	allowed := make(map[string]bool)
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}

	h := &Hub{
		sessions: sessions,
		logger:   logger,
		clients:  make(map[string]*Client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[origin]
		},
	}
	return h
}

// Handler returns the http handler serving /ws.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWebSocket)
	return mux
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Token required", http.StatusUnauthorized)
		return
	}

	sess, err := h.sessions.Resolve(token)
	if err != nil {
		h.logger.Infow("Websocket rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("Websocket upgrade failed", "session", sess.ID(), "error", err)
		return
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		session: sess,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}
	client.detach = sess.OnStorage(client.forward)
	if !h.register(client) {
		client.detach()
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// Clients returns the number of attached tabs.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// register attaches client to its session. A session has one tab, so an
// older connection for the same session is dropped.
func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	prev := h.clients[c.session.ID()]
	h.clients[c.session.ID()] = c
	count := len(h.clients)
	h.mu.Unlock()

	if prev != nil {
		h.logger.Infow("Replacing existing websocket for session", "session", c.session.ID())
		prev.close()
	}
	h.logger.Infow("Websocket client registered", "session", c.session.ID(), "clients", count)
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if h.clients[c.session.ID()] == c {
		delete(h.clients, c.session.ID())
	}
	h.mu.Unlock()
}

// forward runs on the session's dispatch goroutine.
func (c *Client) forward(ev kvstore.StorageEvent) {
	c.enqueue(Frame{
		Type:     FrameStorage,
		Key:      ev.Key,
		OldValue: ev.OldValue,
		NewValue: ev.NewValue,
		Origin:   ev.Origin,
	})
}

// enqueue hands a frame to the write pump. A client that cannot keep up is
// disconnected rather than silently missing events.
func (c *Client) enqueue(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		c.hub.logger.Errorw("Websocket frame marshal failed", "type", f.Type, "error", err)
		return
	}

	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.hub.logger.Warnw("Websocket client buffer full, closing", "session", c.session.ID())
		c.close()
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.detach != nil {
			c.detach()
		}
		close(c.done)
		c.hub.unregister(c)
		c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.Warnw("Websocket read error", "session", c.session.ID(), "error", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(message, &f); err != nil {
			c.enqueue(Frame{Type: FrameError, Error: "invalid frame"})
			continue
		}
		c.handle(f)
	}
}

func (c *Client) handle(f Frame) {
	if f.Key == "" {
		c.enqueue(Frame{Type: FrameError, Error: "key required"})
		return
	}

	var err error
	switch f.Type {
	case FrameSet:
		if len(f.Value) == 0 {
			c.enqueue(Frame{Type: FrameError, Key: f.Key, Error: "value required"})
			return
		}
		err = c.session.SetRaw(f.Key, f.Value)
	case FrameRemove:
		err = c.session.Remove(f.Key)
	case FrameGet:
		raw, ok := c.session.GetRaw(f.Key)
		if !ok {
			raw = json.RawMessage("null")
		}
		c.enqueue(Frame{Type: FrameValue, Key: f.Key, Value: raw})
		return
	default:
		c.enqueue(Frame{Type: FrameError, Key: f.Key, Error: "unknown frame type " + f.Type})
		return
	}

	if err != nil {
		c.enqueue(Frame{Type: FrameError, Key: f.Key, Error: err.Error()})
		return
	}
	c.enqueue(Frame{Type: FrameAck, Key: f.Key})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		case <-c.session.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session closed"),
				time.Now().Add(writeWait))
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warnw("Websocket write failed", "session", c.session.ID(), "error", err)
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
