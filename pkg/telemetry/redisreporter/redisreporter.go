// Package redisreporter is an optional telemetry sink for a
// connection.Connection: it mirrors connect/disconnect transitions and a
// running frame-drop counter into a Redis hash and publishes a state-change
// notification on a channel, built on the module's own pkg/redis client,
// itself adapted from the teacher's pkg/redis.Client
// WriteAndPublishString/WriteAndPublishInt pipeline pattern. Nothing in the
// connection or dispatch packages depends on this package; a caller wires
// it in explicitly via connection.OnConnected and connection.OnDisconnected.
package redisreporter

import (
	"time"

	"github.com/librescoot/moteconnection/pkg/redis"
)

// DefaultKey is the Redis hash this reporter writes to and the channel it
// publishes state changes on, absent an override.
const DefaultKey = "mote-connection"

// Reporter mirrors a connection's lifecycle into Redis.
type Reporter struct {
	client *redis.Client
	key    string

	drops int64
}

// New dials addr and verifies it with a PING before returning, the same
// connect-or-fail contract as redis.New.
func New(addr, password string, db int, opts ...Option) (*Reporter, error) {
	client, err := redis.New(addr, password, db)
	if err != nil {
		return nil, err
	}

	r := &Reporter{client: client, key: DefaultKey}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Option configures a Reporter at construction.
type Option func(*Reporter)

// WithKey overrides DefaultKey.
func WithKey(key string) Option {
	return func(r *Reporter) { r.key = key }
}

// Close closes the underlying Redis client.
func (r *Reporter) Close() error {
	return r.client.Close()
}

// OnConnected is a connection.ConnectOption-shaped callback: pass it to
// connection.OnConnected(reporter.OnConnected(connString)).
func (r *Reporter) OnConnected(connString string) func() {
	return func() {
		_ = r.client.WriteString(r.key, "connection", connString)
		_ = r.client.WriteAndPublishString(r.key, "state", "connected")
	}
}

// OnDisconnected is a connection.ConnectOption-shaped callback: pass it to
// connection.OnDisconnected(reporter.OnDisconnected).
func (r *Reporter) OnDisconnected() {
	_ = r.client.WriteAndPublishString(r.key, "state", "disconnected")
}

// ReportDrop increments the dropped-frame counter a connection and its
// dispatchers can feed (e.g. a frame with no registered dispatcher, or one
// a MessageDispatcher cannot decode or route) and mirrors the new total
// into Redis.
func (r *Reporter) ReportDrop() {
	r.drops++
	_ = r.client.WriteAndPublishInt(r.key, "drops", int(r.drops))
}

// ReportHeartbeat records the current time as the last-seen-alive
// timestamp, for an operator dashboard watching for a stalled link.
func (r *Reporter) ReportHeartbeat(now time.Time) {
	_ = r.client.WriteInt(r.key, "heartbeat", int(now.Unix()))
}
