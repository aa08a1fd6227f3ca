// Package telemetry publishes session connect/disconnect events to
// whichever external sinks the operator configured: MQTT, Kafka, or
// Redis/Valkey pub-sub. None of it is required for a server to run; a
// Bus built with no sinks makes Publish a no-op.
package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"sshtui/logging"
)

// EventKind distinguishes a session connecting from a session
// disconnecting.
type EventKind string

const (
	EventConnect    EventKind = "connect"
	EventDisconnect EventKind = "disconnect"
)

// Event is the JSON payload published to every configured sink.
type Event struct {
	Handle     uint64    `json:"handle"`
	RemoteAddr string    `json:"remote_addr"`
	Kind       EventKind `json:"event"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sink is one destination a session lifecycle Event can be published to.
type Sink interface {
	Publish(ctx context.Context, event Event) error
	Name() string
}

// Bus fans a session lifecycle event out to every configured Sink. A
// slow or failing sink never blocks another: each publish runs with its
// own short timeout and its own goroutine.
type Bus struct {
	sinks   []Sink
	timeout time.Duration
}

// NewBus constructs a Bus over the given sinks. A zero timeout defaults
// to five seconds per publish attempt.
func NewBus(timeout time.Duration, sinks ...Sink) *Bus {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Bus{sinks: sinks, timeout: timeout}
}

// Publish fans out event to every sink without blocking the caller past
// the configured per-sink timeout.
func (b *Bus) Publish(event Event) {
	for _, sink := range b.sinks {
		go func(s Sink) {
			ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
			defer cancel()
			if err := s.Publish(ctx, event); err != nil {
				logging.DebugError("telemetry", "publish via "+s.Name(), err)
			}
		}(sink)
	}
}

func marshalEvent(event Event) ([]byte, error) {
	return json.Marshal(event)
}
