package gateway

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jtjenkins/Together-sub000/pkg/protocol"
)

// MemberLookup resolves a server ID to the user IDs of its members.
// Implementations typically front a membership store or directory
// service; the dispatcher treats the result as opaque recipients.
type MemberLookup interface {
	ServerMembers(ctx context.Context, serverID string) ([]string, error)
}

// MemberLookupFunc adapts a function to the MemberLookup interface.
type MemberLookupFunc func(ctx context.Context, serverID string) ([]string, error)

// ServerMembers calls f.
func (f MemberLookupFunc) ServerMembers(ctx context.Context, serverID string) ([]string, error) {
	return f(ctx, serverID)
}

// Dispatcher fans server-generated events out to connected users. Each
// broadcast encodes the DISPATCH envelope exactly once and hands the
// bytes to the registry; delivery is best effort and at most once.
type Dispatcher struct {
	registry *Registry
	members  MemberLookup
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
}

// NewDispatcher creates a dispatcher over the given registry. The
// member lookup may be nil if BroadcastToServer is never used.
func NewDispatcher(registry *Registry, members MemberLookup, logger *slog.Logger, metrics *Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		members:  members,
		logger:   logger.With("component", "dispatcher"),
		metrics:  metrics,
		tracer:   otel.Tracer("together/gateway"),
	}
}

// BroadcastToUser delivers an event to a single user. It reports
// whether the user had a live session that accepted the message.
func (d *Dispatcher) BroadcastToUser(ctx context.Context, userID, event string, payload any) bool {
	_, span := d.tracer.Start(ctx, "gateway.broadcast_to_user",
		trace.WithAttributes(
			attribute.String("event", event),
			attribute.Int("audience", 1),
		))
	defer span.End()

	data, ok := d.encode(event, payload)
	if !ok {
		return false
	}
	d.metrics.RecordDispatch(event)

	delivered := d.registry.SendToUser(userID, data)
	span.SetAttributes(attribute.Bool("delivered", delivered))
	return delivered
}

// BroadcastToUserList delivers an event to an explicit set of users,
// returning the number of live sessions that accepted it. Offline users
// are skipped silently.
func (d *Dispatcher) BroadcastToUserList(ctx context.Context, userIDs []string, event string, payload any) int {
	_, span := d.tracer.Start(ctx, "gateway.broadcast_to_user_list",
		trace.WithAttributes(
			attribute.String("event", event),
			attribute.Int("audience", len(userIDs)),
		))
	defer span.End()

	if len(userIDs) == 0 {
		return 0
	}
	data, ok := d.encode(event, payload)
	if !ok {
		return 0
	}
	d.metrics.RecordDispatch(event)

	delivered := d.registry.SendToMany(userIDs, data)
	span.SetAttributes(attribute.Int("delivered", delivered))
	return delivered
}

// BroadcastToServer delivers an event to every member of a server. The
// audience is resolved through the member lookup at call time; if the
// lookup fails the broadcast degrades to an empty audience rather than
// surfacing an error to the write path.
func (d *Dispatcher) BroadcastToServer(ctx context.Context, serverID, event string, payload any) int {
	ctx, span := d.tracer.Start(ctx, "gateway.broadcast_to_server",
		trace.WithAttributes(
			attribute.String("event", event),
			attribute.String("server_id", serverID),
		))
	defer span.End()

	if d.members == nil {
		d.logger.Warn("server broadcast with no member lookup configured",
			"server_id", serverID, "event", event)
		return 0
	}

	members, err := d.members.ServerMembers(ctx, serverID)
	if err != nil {
		d.logger.Warn("audience lookup failed, skipping broadcast",
			"server_id", serverID,
			"event", event,
			"error", err)
		span.RecordError(err)
		return 0
	}
	span.SetAttributes(attribute.Int("audience", len(members)))

	delivered := d.BroadcastToUserList(ctx, members, event, payload)
	span.SetAttributes(attribute.Int("delivered", delivered))
	return delivered
}

// encode wraps the payload in a DISPATCH envelope and encodes it once
// for the whole audience. A payload that cannot be serialized drops the
// broadcast with a warning.
func (d *Dispatcher) encode(event string, payload any) ([]byte, bool) {
	msg, err := protocol.NewDispatch(event, payload)
	if err != nil {
		d.logger.Warn("dropping undeliverable event", "event", event, "error", err)
		return nil, false
	}
	data, err := msg.Encode()
	if err != nil {
		d.logger.Warn("dropping undeliverable event", "event", event, "error", err)
		return nil, false
	}
	return data, true
}
