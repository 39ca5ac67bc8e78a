// Package protocol implements the wire protocol for the Together gateway.
//
// The protocol defines how server-generated events flow to connected
// clients and how clients signal liveness and presence back to the
// server over a WebSocket connection.
//
// # Wire Format
//
// Every message is a single JSON envelope:
//
//	{ "op": <opcode>, "t": <event name>, "d": <payload> }
//
// The "t" and "d" fields are optional and MUST be omitted entirely when
// absent; they are never encoded as null. "t" is present only for
// DISPATCH messages and names the event being delivered. "d" is an
// opaque JSON payload whose schema is owned by the emitting write path;
// the protocol layer never inspects it beyond raw JSON validity.
//
// # Opcodes
//
//   - OpDispatch (0): server → client, named event with payload
//   - OpHeartbeat (1): client → server keepalive
//   - OpHeartbeatACK (2): server → client heartbeat reply
//   - OpPresenceUpdate (3): client → server presence change
//
// Clients may send only HEARTBEAT and PRESENCE_UPDATE; everything else
// on the inbound path is a protocol error and closes the connection.
package protocol
