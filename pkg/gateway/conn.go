package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jtjenkins/Together-sub000/pkg/protocol"
)

// State is the lifecycle state of a single connection.
type State int32

const (
	// StateConnecting: transport established, credential not yet verified.
	StateConnecting State = iota
	// StateAuthenticated: identity verified, session not yet registered.
	StateAuthenticated
	// StateActive: registered and eligible to receive events.
	StateActive
	// StateClosing: teardown in progress.
	StateClosing
	// StateClosed: fully torn down.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// PresenceHandler reacts to a client PRESENCE_UPDATE. It applies the
// new presence and returns the user IDs that should be notified of the
// change; the connection then dispatches PRESENCE_UPDATE to them.
type PresenceHandler interface {
	OnPresenceUpdate(ctx context.Context, userID string, payload json.RawMessage) ([]string, error)
}

// conn drives a single WebSocket through its lifecycle. It owns two
// goroutines: the read loop (the caller's goroutine) and the write
// loop. The write loop is the only writer on the socket and closes it
// on exit, which unblocks the read loop.
type conn struct {
	ws         *websocket.Conn
	sess       *Session
	registry   *Registry
	dispatcher *Dispatcher
	presence   PresenceHandler
	config     *Config
	logger     *slog.Logger
	metrics    *Metrics

	state atomic.Int32
}

func newConn(ws *websocket.Conn, sess *Session, srv *Server) *conn {
	c := &conn{
		ws:         ws,
		sess:       sess,
		registry:   srv.registry,
		dispatcher: srv.dispatcher,
		presence:   srv.presence,
		config:     srv.config,
		logger: srv.logger.With(
			"user_id", sess.UserID,
			"conn_id", sess.ConnID),
		metrics: srv.metrics,
	}
	c.state.Store(int32(StateAuthenticated))
	return c
}

// State returns the connection's current lifecycle state.
func (c *conn) State() State {
	return State(c.state.Load())
}

// run drives the connection until it closes. It blocks until teardown
// is complete, so the HTTP handler goroutine stays parked here for the
// lifetime of the connection.
func (c *conn) run(ctx context.Context) {
	c.state.Store(int32(StateActive))
	c.logger.Debug("connection active")

	go c.writeLoop()
	c.readLoop(ctx)

	c.teardown()
}

// writeLoop drains the session queue onto the socket. It exits when the
// session is torn down or a write fails, and closes the socket on the
// way out to unblock the read loop.
func (c *conn) writeLoop() {
	defer c.ws.Close()

	for {
		select {
		case <-c.sess.Done():
			// Flush anything already queued, then say goodbye. The
			// close frame is best effort; a superseded connection may
			// already be gone.
			c.flush()
			c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second),
			)
			return
		case <-c.sess.notify:
			if !c.flush() {
				return
			}
		}
	}
}

// flush writes all queued messages in order. It reports false if a
// write failed, in which case the connection is beyond saving.
func (c *conn) flush() bool {
	for _, msg := range c.sess.drain() {
		c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.logger.Debug("write failed", "error", err)
			c.sess.Close()
			return false
		}
	}
	return true
}

// readLoop consumes inbound frames until the socket closes or the
// client violates the protocol. Every inbound frame, whatever its
// opcode, refreshes the read deadline; a client that goes silent longer
// than the heartbeat timeout is disconnected by the deadline expiring.
func (c *conn) readLoop(ctx context.Context) {
	c.ws.SetReadLimit(c.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.config.HeartbeatTimeout))

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.config.HeartbeatTimeout))

		msg, err := protocol.Decode(data)
		if err != nil {
			c.protocolViolation(NewProtocolError(c.sess.UserID, "decode", err))
			return
		}
		if err := protocol.ValidateInbound(msg); err != nil {
			c.protocolViolation(NewProtocolError(c.sess.UserID, "validate", err))
			return
		}

		switch msg.Op {
		case protocol.OpHeartbeat:
			c.handleHeartbeat()
		case protocol.OpPresenceUpdate:
			c.handlePresenceUpdate(ctx, msg.D)
		}
	}
}

// handleHeartbeat replies with HEARTBEAT_ACK through the outbound queue
// so acks keep FIFO order with dispatched events.
func (c *conn) handleHeartbeat() {
	c.metrics.RecordHeartbeat()

	data, err := protocol.NewHeartbeatACK().Encode()
	if err != nil {
		return
	}
	c.sess.Enqueue(data)
}

// handlePresenceUpdate applies the presence change and notifies the
// interested audience. Handler failure is logged and swallowed; a bad
// presence payload never costs the client its connection.
func (c *conn) handlePresenceUpdate(ctx context.Context, payload json.RawMessage) {
	if c.presence == nil {
		return
	}

	audience, err := c.presence.OnPresenceUpdate(ctx, c.sess.UserID, payload)
	if err != nil {
		c.logger.Warn("presence update failed", "error", err)
		return
	}
	if len(audience) == 0 || c.dispatcher == nil {
		return
	}
	c.dispatcher.BroadcastToUserList(ctx, audience, protocol.EventPresenceUpdate, payload)
}

// protocolViolation closes the connection with a policy-violation close
// code. The close reason stays generic; the specifics go to the log.
func (c *conn) protocolViolation(perr *ProtocolError) {
	c.logger.Warn("protocol violation, closing connection", "error", perr)
	c.metrics.RecordProtocolError()

	c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "policy violation"),
		time.Now().Add(time.Second),
	)
}

// teardown runs once the read loop returns. Closing the session stops
// the write loop (which closes the socket); the guarded deregistration
// is a no-op when a newer connection has already replaced this one.
func (c *conn) teardown() {
	c.state.Store(int32(StateClosing))

	c.sess.Close()
	c.registry.Deregister(c.sess.UserID, c.sess.ConnID)

	c.state.Store(int32(StateClosed))
	c.logger.Debug("connection closed")
}
