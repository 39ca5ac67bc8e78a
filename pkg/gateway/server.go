package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/jtjenkins/Together-sub000/pkg/protocol"
)

// Authenticator verifies the credential presented on the upgrade
// request and returns the authenticated user's ID.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// BootstrapProvider builds the READY payload for a freshly connected
// user. If nil, a minimal payload carrying only the user ID is sent.
type BootstrapProvider interface {
	Bootstrap(ctx context.Context, userID string) (any, error)
}

// ServerOptions configures a gateway Server. Registry and Authenticator
// are required; everything else has a usable zero value.
type ServerOptions struct {
	Registry      *Registry
	Dispatcher    *Dispatcher
	Authenticator Authenticator
	Presence      PresenceHandler
	Bootstrap     BootstrapProvider
	Config        *Config
	Logger        *slog.Logger
	Metrics       *Metrics
}

// Server accepts WebSocket upgrade requests, authenticates them, and
// hands each accepted connection to its own read/write loops.
type Server struct {
	registry   *Registry
	dispatcher *Dispatcher
	auth       Authenticator
	presence   PresenceHandler
	bootstrap  BootstrapProvider
	config     *Config
	logger     *slog.Logger
	metrics    *Metrics

	upgrader websocket.Upgrader
	closed   atomic.Bool
}

// NewServer creates a gateway server from the given options.
func NewServer(opts ServerOptions) *Server {
	config := opts.Config
	if config == nil {
		config = DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		registry:   opts.Registry,
		dispatcher: opts.Dispatcher,
		auth:       opts.Authenticator,
		presence:   opts.Presence,
		bootstrap:  opts.Bootstrap,
		config:     config,
		logger:     logger.With("component", "gateway"),
		metrics:    opts.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
	}
}

// HandleGateway handles a WebSocket upgrade request. The credential is
// carried in the "token" query parameter and verified before the
// upgrade; a rejected credential gets a plain 401 so the client sees a
// standard HTTP failure rather than a short-lived socket.
//
// The handler goroutine is parked in the connection's read loop until
// the connection closes.
func (s *Server) HandleGateway(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		s.logger.Debug("connection rejected", "error", ErrServerClosed)
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	token := r.URL.Query().Get("token")
	userID, err := s.auth.Authenticate(r.Context(), token)
	if err != nil {
		s.logger.Debug("authentication rejected", "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.logger.Debug("upgrade failed", "user_id", userID, "error", err)
		return
	}

	// The request context dies with the hijacked HTTP connection, so
	// everything past the upgrade runs on a fresh one.
	ctx := context.Background()

	// READY is handed to Register so it is queued before the session
	// becomes visible to fan-out; it is always the first message the
	// client reads.
	sess := s.registry.Register(userID, s.readyMessage(ctx, userID))

	c := newConn(ws, sess, s)
	c.run(ctx)
}

// readyMessage builds the encoded READY dispatch for a freshly
// authenticated user.
func (s *Server) readyMessage(ctx context.Context, userID string) []byte {
	var payload any
	if s.bootstrap != nil {
		p, err := s.bootstrap.Bootstrap(ctx, userID)
		if err != nil {
			s.logger.Warn("bootstrap failed, sending minimal ready",
				"user_id", userID, "error", err)
		} else {
			payload = p
		}
	}
	if payload == nil {
		payload = map[string]string{"user_id": userID}
	}

	msg, err := protocol.NewDispatch(protocol.EventReady, payload)
	if err != nil {
		s.logger.Warn("ready payload not serializable", "user_id", userID, "error", err)
		msg, _ = protocol.NewDispatch(protocol.EventReady, map[string]string{"user_id": userID})
	}
	data, err := msg.Encode()
	if err != nil {
		return nil
	}
	return data
}

// Handler returns an http.Handler exposing the gateway endpoint at
// GET /gateway.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/gateway", s.HandleGateway)
	return r
}

// Shutdown stops accepting new connections and closes every registered
// session. Connections observe the close and tear down on their own.
func (s *Server) Shutdown() {
	if s.closed.Swap(true) {
		return
	}
	s.logger.Info("gateway shutting down", "active", s.registry.Count())
	s.registry.Shutdown()
}
