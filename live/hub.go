// Package live pushes form snapshots to WebSocket clients and accepts
// field changes and submit intents from them.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/dalemusser/regform/form"
	"go.uber.org/zap"
)

// ErrHubClosed is returned when a client connects after Close.
var ErrHubClosed = errors.New("live: hub closed")

// Options configures a Hub.
type Options struct {
	// OriginPatterns lists the allowed cross-origin hosts. Same-origin
	// requests are always accepted.
	OriginPatterns []string

	// WriteTimeout bounds a single message write. Default: 10s.
	WriteTimeout time.Duration

	// MaxMessageSize is the largest inbound message accepted. Default: 32KB.
	MaxMessageSize int64

	// SendBuffer is the number of outbound messages queued per client
	// before new ones are dropped. Default: 16.
	SendBuffer int

	// SubmitTimeout bounds sink delivery for one submit. The connection
	// context is detached, so a client leaving mid-publish does not abort
	// it. Default: 15s.
	SubmitTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 32 * 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 16
	}
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = 15 * time.Second
	}
}

// Inbound is a message sent by a client: {"type":"change","field":...} or
// {"type":"submit"}.
type Inbound struct {
	Type    string `json:"type"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
	Checked bool   `json:"checked,omitempty"`
}

// Outbound is a message sent to clients. Snapshots are broadcast; the
// other types answer the client that sent the request.
type Outbound struct {
	Type     string                 `json:"type"`
	Snapshot *form.Snapshot         `json:"snapshot,omitempty"`
	Record   *form.SubmissionRecord `json:"record,omitempty"`
	Errors   form.Errors            `json:"errors,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Outbound message types.
const (
	TypeSnapshot  = "snapshot"
	TypeSubmitted = "submitted"
	TypeRejected  = "rejected"
	TypeError     = "error"
)

// Hub tracks connected clients of one form session.
type Hub struct {
	session *form.Session
	logger  *zap.Logger
	opts    Options

	mu          sync.RWMutex
	clients     map[*client]struct{}
	closed      bool
	unsubscribe func()
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub returns a hub broadcasting every snapshot of session.
func NewHub(session *form.Session, logger *zap.Logger, opts Options) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.setDefaults()

	h := &Hub{
		session: session,
		logger:  logger,
		opts:    opts,
		clients: make(map[*client]struct{}),
	}
	h.unsubscribe = session.Subscribe(func(snap form.Snapshot) {
		h.broadcast(Outbound{Type: TypeSnapshot, Snapshot: &snap})
	})
	return h
}

// ServeHTTP upgrades the request and serves the client until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.opts.MaxMessageSize)

	c := &client{conn: conn, send: make(chan []byte, h.opts.SendBuffer)}
	if err := h.add(c); err != nil {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.remove(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	snap := h.session.Snapshot()
	h.enqueue(c, Outbound{Type: TypeSnapshot, Snapshot: &snap})
	go h.writeLoop(ctx, c)

	for {
		var msg Inbound
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				h.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		h.handle(ctx, c, msg)
	}
}

func (h *Hub) handle(ctx context.Context, c *client, msg Inbound) {
	switch msg.Type {
	case "change":
		// Accepted changes reach every client through the subscription.
		h.session.Apply(form.FieldChange{Field: msg.Field, Value: msg.Value, Checked: msg.Checked})
	case "submit":
		h.submit(ctx, c)
	default:
		h.enqueue(c, Outbound{Type: TypeError, Error: "unknown message type " + msg.Type})
	}
}

func (h *Hub) submit(ctx context.Context, c *client) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.opts.SubmitTimeout)
	defer cancel()

	rec, err := h.session.Submit(ctx)
	var invalid *form.InvalidError
	switch {
	case err == nil:
		h.enqueue(c, Outbound{Type: TypeSubmitted, Record: &rec})
	case errors.As(err, &invalid):
		h.enqueue(c, Outbound{Type: TypeRejected, Errors: invalid.Errors})
	default:
		h.enqueue(c, Outbound{Type: TypeError, Error: err.Error()})
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				c.conn.CloseNow()
				return
			}
		}
	}
}

func (h *Hub) add(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.clients[c] = struct{}{}
	return nil
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) encode(msg Outbound) ([]byte, bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode live message", zap.String("type", msg.Type), zap.Error(err))
		return nil, false
	}
	return data, true
}

// enqueue queues msg for c without blocking.
func (h *Hub) enqueue(c *client, msg Outbound) {
	data, ok := h.encode(msg)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; ok {
		h.trySend(c, data)
	}
}

func (h *Hub) broadcast(msg Outbound) {
	data, ok := h.encode(msg)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		h.trySend(c, data)
	}
}

// trySend must be called with h.mu held for reading.
func (h *Hub) trySend(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn("live client too slow; message dropped")
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops broadcasting and disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.Unlock()

	h.unsubscribe()
	for _, conn := range conns {
		conn.CloseNow()
	}
}
