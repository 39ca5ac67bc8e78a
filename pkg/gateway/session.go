package gateway

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Session represents one registered connection for one user. It carries
// the connection's identity and an unbounded FIFO queue of outbound
// messages so that enqueueing never blocks the caller.
//
// The queue is intentionally unbounded: fan-out paths must never stall
// on a slow consumer. A client that cannot drain its queue is dealt
// with by the heartbeat timeout, not by backpressure.
type Session struct {
	// Identity
	UserID    string
	ConnID    string
	CreatedAt time.Time

	mu     sync.Mutex
	queue  [][]byte
	closed bool

	// notify has capacity 1; a send is coalesced with any pending one.
	notify chan struct{}

	// done is closed exactly once when the session is torn down. The
	// write loop selects on it to learn the session was superseded.
	done      chan struct{}
	closeOnce sync.Once
}

// generateConnID generates a cryptographically random connection ID.
func generateConnID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// SECURITY: Fatal on entropy failure - weak IDs are dangerous
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}

// newSession creates a session for the given user with a fresh
// connection ID.
func newSession(userID string) *Session {
	return &Session{
		UserID:    userID,
		ConnID:    generateConnID(),
		CreatedAt: time.Now(),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Enqueue appends an encoded message to the outbound queue and wakes
// the write loop. It never blocks. It reports false if the session is
// already closed, in which case the message is discarded.
func (s *Session) Enqueue(msg []byte) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
		// Wakeup already pending
	}
	return true
}

// drain removes and returns all queued messages in FIFO order.
func (s *Session) drain() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.queue
	s.queue = nil
	return msgs
}

// Close marks the session closed and signals its teardown channel.
// Safe to call multiple times and from any goroutine; messages enqueued
// after Close are discarded.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
}

// Done returns a channel that's closed when the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// IsClosed returns whether the session has been closed.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// QueueLen returns the number of messages waiting to be written.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
