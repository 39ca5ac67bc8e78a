// Package gateway implements the real-time delivery layer: it accepts
// WebSocket connections from authenticated clients, tracks one live
// session per user, and fans server-generated events out to the users
// who should receive them.
//
// The package is organized around four pieces:
//
//   - Registry: the authoritative map of user ID → live Session. At most
//     one session per user; a reconnect replaces and closes the prior one.
//   - Session: a registered connection's identity plus its unbounded
//     outbound queue. Enqueueing never blocks the caller.
//   - conn: the per-connection read/write loops driving a single
//     WebSocket through its lifecycle.
//   - Dispatcher: the fan-out layer that wraps payloads in DISPATCH
//     envelopes and routes them to individual users, explicit user
//     lists, or the members of a server.
//
// Delivery is best effort and at most once. A user with no live session
// silently receives nothing; callers never learn which recipients were
// offline.
package gateway
