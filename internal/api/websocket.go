package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-gateway/internal/gateway"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
)

const (
	// sendBufferSize is the per-client outbound frame queue length.
	sendBufferSize = 256

	defaultWriteWait = 10 * time.Second

	// codeHandshakeTimeout is reported to telemetry when no connect frame arrives.
	codeHandshakeTimeout = "HANDSHAKE_TIMEOUT"
)

// Hub tracks authenticated connections and fans gateway events out to them.
// It implements gateway.Fanout.
type Hub struct {
	logger *logging.Logger
	// maxBuffered caps the bytes queued for one client; 0 disables the cap.
	maxBuffered int64
	clients     map[*client]struct{}
	mu          sync.RWMutex
}

// client is one WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	connID string
	send   chan []byte
	done   chan struct{}
	queued atomic.Int64
	// session is set once the handshake succeeds, before register.
	session   *gateway.Session
	closeOnce sync.Once
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger, maxBufferedBytes int) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		logger:      logger.Component("hub"),
		maxBuffered: int64(maxBufferedBytes),
		clients:     make(map[*client]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// register adds an authenticated client to the broadcast set.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client registered", "conn_id", c.connID, "clients", n)
}

// unregister removes c and stops its write pump. Safe to call twice.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.stop()
	h.logger.Debug("websocket client unregistered", "conn_id", c.connID, "clients", n)
}

// Broadcast queues frame for every registered session that match accepts.
// Slow clients over their buffer budget miss the frame.
func (h *Hub) Broadcast(frame []byte, match func(*gateway.Session) bool) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	dropped := 0
	for _, c := range clients {
		if match != nil && !match(c.session) {
			continue
		}
		if !c.trySend(frame) {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("broadcast dropped for slow clients", "dropped", dropped)
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.stop()
		c.conn.Close() //nolint:errcheck // shutting down
	}
}

func newClient(h *Hub, conn *websocket.Conn, connID string) *client {
	return &client{
		hub:    h,
		conn:   conn,
		connID: connID,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

func (c *client) stop() {
	c.closeOnce.Do(func() { close(c.done) })
}

// trySend queues data without blocking.
func (c *client) trySend(data []byte) bool {
	size := int64(len(data))
	if c.hub.maxBuffered > 0 && c.queued.Load()+size > c.hub.maxBuffered {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		c.queued.Add(size)
		return true
	default:
		return false
	}
}

// reply queues a response, waiting for room rather than dropping it.
// A nil response sends nothing.
func (c *client) reply(ctx context.Context, resp *gateway.ResponseFrame) bool {
	if resp == nil {
		return true
	}
	data, err := json.Marshal(resp)
	if err != nil {
		c.hub.logger.Error("failed to marshal response", "conn_id", c.connID, "error", err)
		return false
	}
	select {
	case c.send <- data:
		c.queued.Add(int64(len(data)))
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// writeFrame writes v directly. Only used before the write pump starts.
func (c *client) writeFrame(v any, wait time.Duration) error {
	//nolint:errcheck // Best-effort deadline; write error caught below
	c.conn.SetWriteDeadline(time.Now().Add(wait))
	return c.conn.WriteJSON(v)
}

// closeWith sends a close frame. WriteControl is safe alongside other writers.
func (c *client) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	//nolint:errcheck // Best-effort close frame; the socket is closed next anyway
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *client) writePump(pingInterval, writeWait time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck // unblocks the read loop
	}()

	for {
		select {
		case message := <-c.send:
			c.queued.Add(-int64(len(message)))
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop serves requests in order until the socket fails or ctx ends.
func (c *client) readLoop(ctx context.Context, gw *gateway.Gateway, idle time.Duration) {
	//nolint:errcheck // Best-effort deadline on loop entry
	c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "conn_id", c.connID, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "conn_id", c.connID, "error", err)
			}
			return
		}
		// Any frame counts as liveness, browsers do not always answer pings.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(idle))

		if !c.reply(ctx, gw.Handle(ctx, c.session, message)) {
			return
		}
	}
}

func newUpgrader(maxMessageSize int) websocket.Upgrader {
	bufSize := 4096
	if maxMessageSize > 0 && maxMessageSize < bufSize {
		bufSize = maxMessageSize
	}
	return websocket.Upgrader{
		ReadBufferSize:  bufSize,
		WriteBufferSize: bufSize,
		CheckOrigin: func(_ *http.Request) bool {
			// Browser origins are checked by the handshake, which knows the client kind.
			return true
		},
	}
}

// handleWebSocket upgrades the request and runs the connection to completion.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	addr := s.clientFrom(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.logger.Debug("websocket upgrade failed", "remote_ip", addr.IP, "error", err)
		return
	}
	defer conn.Close() //nolint:errcheck // closed on every exit path

	c := newClient(s.hub, conn, uuid.NewString())
	s.serveConn(r.Context(), c, gateway.ConnMeta{
		ConnID:   c.connID,
		RemoteIP: addr.IP,
		IsLocal:  addr.Local,
		Host:     r.Host,
		Origin:   r.Header.Get("Origin"),
	})
}

func (s *Server) serveConn(parent context.Context, c *client, meta gateway.ConnMeta) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if s.wsCfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	}

	meta.Nonce = uuid.NewString()
	meta.StartedAt = time.Now()
	challenge := gateway.EventFrame{
		Type:    gateway.FrameEvent,
		Event:   gateway.EventConnectChallenge,
		Payload: gateway.Challenge{Nonce: meta.Nonce, TS: meta.StartedAt.UnixMilli()},
	}
	if err := c.writeFrame(challenge, s.writeWait()); err != nil {
		s.logger.Debug("sending connect challenge failed", "conn_id", c.connID, "error", err)
		return
	}

	//nolint:errcheck // Best-effort deadline; a timeout surfaces from ReadMessage
	c.conn.SetReadDeadline(meta.StartedAt.Add(s.handshakeTimeout()))
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			s.logger.Info("handshake timed out", "conn_id", c.connID, "remote_ip", meta.RemoteIP)
			s.telemetry.ObserveHandshake(gateway.OutcomeRejected, "", codeHandshakeTimeout, time.Since(meta.StartedAt))
			c.closeWith(gateway.ClosePolicyViolation, "handshake timeout")
		}
		return
	}

	outcome := s.gateway.Handshake(ctx, raw, meta)
	if resp := outcome.Response(); resp != nil {
		if err := c.writeFrame(resp, s.writeWait()); err != nil {
			s.logger.Debug("sending handshake response failed", "conn_id", c.connID, "error", err)
			if outcome.Session != nil {
				s.gateway.Disconnect(outcome.Session)
			}
			return
		}
	}
	if outcome.Rejection != nil {
		c.closeWith(outcome.Rejection.CloseCode, outcome.Rejection.CloseReason())
		return
	}

	c.session = outcome.Session
	defer s.gateway.Disconnect(c.session)
	s.hub.register(c)
	defer s.hub.unregister(c)

	go c.writePump(s.pingInterval(), s.writeWait())
	c.readLoop(ctx, s.gateway, s.pingInterval()+s.writeWait())
}

func (s *Server) handshakeTimeout() time.Duration {
	return secondsOr(s.wsCfg.HandshakeTimeout, defaultWriteWait)
}

func (s *Server) pingInterval() time.Duration {
	return secondsOr(s.wsCfg.PingInterval, 30*time.Second)
}

// writeWait bounds each write; the pong timeout doubles as the write timeout.
func (s *Server) writeWait() time.Duration {
	return secondsOr(s.wsCfg.PongTimeout, defaultWriteWait)
}

func secondsOr(secs int, fallback time.Duration) time.Duration {
	if secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
