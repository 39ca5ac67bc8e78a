package gateway

import (
	"net/http"
	"net/url"
	"time"
)

// Config holds configuration for gateway connections.
type Config struct {
	// HeartbeatTimeout is the maximum time the server waits between
	// inbound frames before considering the client dead. Any inbound
	// frame, not just HEARTBEAT, resets the clock.
	// Default: 60 seconds.
	HeartbeatTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// MaxMessageSize is the maximum size of an incoming WebSocket
	// message. Default: 16KB; client frames are small control messages.
	MaxMessageSize int64

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 1024.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the upgrade request origin.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool
}

// DefaultConfig returns a Config with sensible defaults.
// SECURITY: CheckOrigin enforces same-origin by default to prevent CSWSH.
func DefaultConfig() *Config {
	return &Config{
		HeartbeatTimeout: 60 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxMessageSize:   16 * 1024,
		ReadBufferSize:   1024,
		WriteBufferSize:  4096,
		CheckOrigin:      SameOriginCheck,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// SameOriginCheck validates that the WebSocket request origin matches
// the host. This is the secure default for CheckOrigin.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No Origin header (e.g., same-origin request or a non-browser client)
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := r.Host
	if host == "" {
		return false
	}

	// Compare the host portion (includes port if present)
	return originURL.Host == host
}
