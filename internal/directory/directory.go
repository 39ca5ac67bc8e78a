// Package directory provides the in-memory membership and presence
// stores backing the gateway's audience resolution and READY payloads.
// In a multi-node deployment these would front the database; a single
// gateway node keeps them in process.
package directory

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Memberships maps servers to their member user IDs.
type Memberships struct {
	mu      sync.RWMutex
	members map[string][]string
}

// NewMemberships creates an empty membership store.
func NewMemberships() *Memberships {
	return &Memberships{
		members: make(map[string][]string),
	}
}

// SetMembers replaces the member list of a server.
func (m *Memberships) SetMembers(serverID string, userIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[serverID] = append([]string(nil), userIDs...)
}

// AddMember appends a user to a server's member list if not present.
func (m *Memberships) AddMember(serverID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.members[serverID] {
		if id == userID {
			return
		}
	}
	m.members[serverID] = append(m.members[serverID], userID)
}

// ServerMembers returns a copy of the server's member list. An unknown
// server resolves to an empty audience, not an error.
func (m *Memberships) ServerMembers(ctx context.Context, serverID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.members[serverID]...), nil
}

// ServersOf returns the IDs of every server the user belongs to.
func (m *Memberships) ServersOf(userID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var servers []string
	for serverID, members := range m.members {
		for _, id := range members {
			if id == userID {
				servers = append(servers, serverID)
				break
			}
		}
	}
	return servers
}

// Presence stores each user's latest presence payload and resolves the
// audience that should hear about a change: everyone sharing a server
// with the user, excluding the user themselves.
type Presence struct {
	memberships *Memberships

	mu     sync.RWMutex
	states map[string]json.RawMessage
}

// NewPresence creates a presence store over the given memberships.
func NewPresence(memberships *Memberships) *Presence {
	return &Presence{
		memberships: memberships,
		states:      make(map[string]json.RawMessage),
	}
}

// OnPresenceUpdate records the user's new presence and returns the
// user IDs to notify.
func (p *Presence) OnPresenceUpdate(ctx context.Context, userID string, payload json.RawMessage) ([]string, error) {
	p.mu.Lock()
	p.states[userID] = append(json.RawMessage(nil), payload...)
	p.mu.Unlock()

	seen := map[string]struct{}{userID: {}}
	var audience []string
	for _, serverID := range p.memberships.ServersOf(userID) {
		members, err := p.memberships.ServerMembers(ctx, serverID)
		if err != nil {
			return nil, err
		}
		for _, id := range members {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			audience = append(audience, id)
		}
	}
	return audience, nil
}

// StateOf returns the user's last recorded presence payload, or nil.
func (p *Presence) StateOf(userID string) json.RawMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.states[userID]
}

type readyPayload struct {
	UserID      string    `json:"user_id"`
	Servers     []string  `json:"servers"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Bootstrap builds READY payloads from the directory.
type Bootstrap struct {
	memberships *Memberships
}

// NewBootstrap creates a bootstrap provider over the given memberships.
func NewBootstrap(memberships *Memberships) *Bootstrap {
	return &Bootstrap{memberships: memberships}
}

// Bootstrap returns the initial state snapshot for a freshly connected
// user.
func (b *Bootstrap) Bootstrap(ctx context.Context, userID string) (any, error) {
	servers := b.memberships.ServersOf(userID)
	if servers == nil {
		servers = []string{}
	}
	return readyPayload{
		UserID:      userID,
		Servers:     servers,
		ConnectedAt: time.Now().UTC(),
	}, nil
}
