// Package memory implements the domain cache interfaces in process memory
// for dev mode and tests: a sliding-window rate limiter, a lock manager, and
// a signal bus with a bounded replay stream.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/opinioncore/internal/domain"
)

// RateLimiter is an in-process sliding-window rate limiter.
type RateLimiter struct {
	mu    sync.Mutex
	hits  map[string][]time.Time
	clock func() time.Time
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{hits: map[string][]time.Time{}, clock: time.Now}
}

// Allow implements domain.RateLimiter.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock()
	cutoff := now.Add(-window)

	kept := rl.hits[key][:0]
	for _, at := range rl.hits[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) >= limit {
		rl.hits[key] = kept
		return false, nil
	}
	rl.hits[key] = append(kept, now)
	return true, nil
}

// LockManager is an in-process lock manager keyed by string.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]struct{}
}

// NewLockManager creates a LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: map[string]struct{}{}}
}

// Acquire implements domain.LockManager. The TTL is ignored: in-process
// holders cannot crash without releasing, so expiry has nothing to clean up.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if _, held := lm.locks[key]; held {
		return nil, domain.ErrLockHeld
	}
	lm.locks[key] = struct{}{}

	released := false
	unlock := func() {
		lm.mu.Lock()
		defer lm.mu.Unlock()
		if released {
			return
		}
		released = true
		delete(lm.locks, key)
	}
	return unlock, nil
}

// SignalBus is an in-process signal bus: fan-out to subscribers, plus a
// bounded per-stream replay buffer.
type SignalBus struct {
	mu        sync.Mutex
	subs      map[string][]chan []byte
	streams   map[string][]domain.StreamMessage
	streamSeq int64
	maxLen    int
}

// NewSignalBus creates a SignalBus whose streams retain at most maxLen
// entries each.
func NewSignalBus(maxLen int) *SignalBus {
	if maxLen <= 0 {
		maxLen = 1_000
	}
	return &SignalBus{
		subs:    map[string][]chan []byte{},
		streams: map[string][]domain.StreamMessage{},
		maxLen:  maxLen,
	}
}

// Publish implements domain.SignalBus. Slow subscribers drop messages rather
// than block the publisher.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	for _, ch := range sb.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe implements domain.SignalBus. The returned channel closes when
// the context is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)

	sb.mu.Lock()
	sb.subs[channel] = append(sb.subs[channel], ch)
	sb.mu.Unlock()

	go func() {
		<-ctx.Done()
		sb.mu.Lock()
		subs := sb.subs[channel]
		for i, c := range subs {
			if c == ch {
				sb.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		sb.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// StreamAppend implements domain.SignalBus.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.streamSeq++
	entries := append(sb.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatInt(sb.streamSeq, 10),
		Payload: payload,
	})
	if len(entries) > sb.maxLen {
		entries = entries[len(entries)-sb.maxLen:]
	}
	sb.streams[stream] = entries
	return nil
}

// StreamRead implements domain.SignalBus.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	last, _ := strconv.ParseInt(lastID, 10, 64)
	var out []domain.StreamMessage
	for _, msg := range sb.streams[stream] {
		id, _ := strconv.ParseInt(msg.ID, 10, 64)
		if id <= last {
			continue
		}
		out = append(out, msg)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.RateLimiter = (*RateLimiter)(nil)
	_ domain.LockManager = (*LockManager)(nil)
	_ domain.SignalBus   = (*SignalBus)(nil)
)
