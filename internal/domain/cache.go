package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under a sliding
	// window of the given size; allowed requests are counted.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides mutual exclusion per record key. Every mutating
// question or pool operation runs under the record's lock so the
// check-then-act sections in the services are never interleaved.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// QuestionCache holds short-lived question snapshots for the read path.
// The ledger stays authoritative; writers invalidate after every mutation.
type QuestionCache interface {
	// Get returns the cached snapshot, or ErrNotFound on a miss.
	Get(ctx context.Context, id int64) (Question, error)
	Set(ctx context.Context, q Question, ttl time.Duration) error
	Invalidate(ctx context.Context, id int64) error
}

// EventStream is the stream every market and pool event is appended to,
// in commit order, for catch-up reads.
const EventStream = "events"

// StreamMessage represents a single entry from an event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fan-out of trade and pool events plus a
// durable, ordered stream for catch-up reads.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
