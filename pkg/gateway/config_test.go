package gateway

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()

	if c.HeartbeatTimeout != 60*time.Second {
		t.Errorf("HeartbeatTimeout = %v, want 60s", c.HeartbeatTimeout)
	}
	if c.WriteTimeout != 10*time.Second {
		t.Errorf("WriteTimeout = %v, want 10s", c.WriteTimeout)
	}
	if c.MaxMessageSize <= 0 {
		t.Errorf("MaxMessageSize = %d, want > 0", c.MaxMessageSize)
	}
	if c.CheckOrigin == nil {
		t.Error("CheckOrigin is nil, want SameOriginCheck")
	}
}

func TestConfigClone(t *testing.T) {
	c := DefaultConfig()
	clone := c.Clone()

	clone.HeartbeatTimeout = time.Second
	if c.HeartbeatTimeout == time.Second {
		t.Error("mutating clone changed the original")
	}

	var nilConfig *Config
	if nilConfig.Clone() != nil {
		t.Error("Clone() of nil = non-nil")
	}
}

func TestSameOriginCheck(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{name: "no_origin", origin: "", host: "example.com", want: true},
		{name: "same_origin", origin: "http://example.com", host: "example.com", want: true},
		{name: "same_origin_with_port", origin: "http://example.com:8090", host: "example.com:8090", want: true},
		{name: "cross_origin", origin: "http://evil.com", host: "example.com", want: false},
		{name: "port_mismatch", origin: "http://example.com:9999", host: "example.com:8090", want: false},
		{name: "garbage_origin", origin: "://bad", host: "example.com", want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/gateway", nil)
			r.Host = tc.host
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}

			if got := SameOriginCheck(r); got != tc.want {
				t.Errorf("SameOriginCheck() = %v, want %v", got, tc.want)
			}
		})
	}
}
