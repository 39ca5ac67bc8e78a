package gateway

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Registry is the authoritative map of user ID to live session. It
// enforces the single-session-per-user invariant: registering a user
// who already has a session replaces and closes the prior one.
//
// All lock sections are short and perform no I/O; message delivery
// happens via Session.Enqueue, which never blocks.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	peak     int

	totalRegistered   atomic.Uint64
	totalDeregistered atomic.Uint64

	logger  *slog.Logger
	metrics *Metrics
}

// NewRegistry creates an empty registry. A nil logger falls back to
// slog.Default; a nil metrics is valid and records nothing.
func NewRegistry(logger *slog.Logger, metrics *Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger.With("component", "registry"),
		metrics:  metrics,
	}
}

// Register creates and stores a new session for the user, returning it.
// If the user already has a session, the old one is removed first and
// closed after the lock is released; its connection observes the close
// through Session.Done and tears itself down.
//
// Welcome messages are enqueued before the session is published, so
// they are guaranteed to precede anything fan-out delivers to it.
func (r *Registry) Register(userID string, welcome ...[]byte) *Session {
	sess := newSession(userID)
	for _, msg := range welcome {
		if msg != nil {
			sess.Enqueue(msg)
		}
	}

	r.mu.Lock()
	prev := r.sessions[userID]
	r.sessions[userID] = sess
	active := len(r.sessions)
	if active > r.peak {
		r.peak = active
	}
	r.mu.Unlock()

	r.totalRegistered.Add(1)
	r.metrics.RecordRegister(active)

	if prev != nil {
		prev.Close()
		r.logger.Info("session replaced",
			"user_id", userID,
			"old_conn_id", prev.ConnID,
			"new_conn_id", sess.ConnID)
	} else {
		r.logger.Info("session registered",
			"user_id", userID,
			"conn_id", sess.ConnID,
			"active", active)
	}

	return sess
}

// Deregister removes the user's session only if it is still the one
// identified by connID. A stale deregistration from a superseded
// connection is a no-op, so a disconnecting old connection can never
// evict the session of a newer one.
func (r *Registry) Deregister(userID, connID string) bool {
	r.mu.Lock()
	sess, ok := r.sessions[userID]
	if !ok || sess.ConnID != connID {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, userID)
	active := len(r.sessions)
	r.mu.Unlock()

	sess.Close()
	r.totalDeregistered.Add(1)
	r.metrics.RecordDeregister(active)

	r.logger.Info("session deregistered",
		"user_id", userID,
		"conn_id", connID,
		"active", active)
	return true
}

// SendToUser enqueues an encoded message to the user's session. It
// reports whether the message was accepted. An unknown or closed
// recipient is not an error; the message is silently dropped.
func (r *Registry) SendToUser(userID string, msg []byte) bool {
	r.mu.RLock()
	sess, ok := r.sessions[userID]
	r.mu.RUnlock()

	if !ok {
		r.metrics.RecordDropped(1)
		return false
	}
	if !sess.Enqueue(msg) {
		r.metrics.RecordDropped(1)
		return false
	}
	r.metrics.RecordDelivered(1)
	return true
}

// SendToMany enqueues an encoded message to every listed user who has a
// live session, returning the number of sessions that accepted it.
// Offline users are skipped; one recipient's absence never affects
// delivery to the others.
func (r *Registry) SendToMany(userIDs []string, msg []byte) int {
	r.mu.RLock()
	targets := make([]*Session, 0, len(userIDs))
	for _, id := range userIDs {
		if sess, ok := r.sessions[id]; ok {
			targets = append(targets, sess)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, sess := range targets {
		if sess.Enqueue(msg) {
			delivered++
		}
	}

	r.metrics.RecordDelivered(delivered)
	r.metrics.RecordDropped(len(userIDs) - delivered)
	return delivered
}

// IsConnected reports whether the user currently has a registered session.
func (r *Registry) IsConnected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[userID]
	return ok
}

// Count returns the number of currently registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// RegistryStats contains registry statistics.
type RegistryStats struct {
	Active            int
	Peak              int
	TotalRegistered   uint64
	TotalDeregistered uint64
	CollectedAt       time.Time
}

// Stats returns a snapshot of registry statistics.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	active := len(r.sessions)
	peak := r.peak
	r.mu.RUnlock()

	return RegistryStats{
		Active:            active,
		Peak:              peak,
		TotalRegistered:   r.totalRegistered.Load(),
		TotalDeregistered: r.totalDeregistered.Load(),
		CollectedAt:       time.Now(),
	}
}

// Shutdown closes every registered session and empties the registry.
// Connections observe the close through Session.Done and tear down.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
		r.totalDeregistered.Add(1)
		r.metrics.RecordDeregister(0)
	}

	r.logger.Info("registry shut down", "closed", len(sessions))
}
