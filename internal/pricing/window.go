package pricing

import (
	"time"

	"github.com/alanyoungcy/opinioncore/internal/domain"
)

// TraderWindow is a bounded ring buffer of (trader, timestamp) entries over a
// rolling time span, kept per question. It classifies trades as solo or
// competitive without retaining unbounded history: expired entries are
// evicted on every use, and when the buffer is full the oldest entry (the
// first to expire anyway) is overwritten.
//
// TraderWindow is not safe for concurrent use; the owning service serializes
// access per question.
type TraderWindow struct {
	span    time.Duration
	entries []domain.TraderStamp
	head    int // index of oldest entry
	size    int
}

// NewTraderWindow creates a window covering span with at most capacity
// retained entries.
func NewTraderWindow(span time.Duration, capacity int) *TraderWindow {
	if capacity <= 0 {
		capacity = 1
	}
	return &TraderWindow{
		span:    span,
		entries: make([]domain.TraderStamp, capacity),
	}
}

// Add records trader activity at the given time. Entries must be added in
// non-decreasing time order.
func (w *TraderWindow) Add(trader string, at time.Time) {
	w.evict(at)
	idx := (w.head + w.size) % len(w.entries)
	w.entries[idx] = domain.TraderStamp{Trader: trader, At: at}
	if w.size < len(w.entries) {
		w.size++
	} else {
		// Full: idx == head, the oldest entry was just overwritten.
		w.head = (w.head + 1) % len(w.entries)
	}
}

// Classify reports whether a trade by trader at now would face competition:
// competitive when the unexpired window plus the current trader holds two or
// more distinct identities, solo otherwise.
func (w *TraderWindow) Classify(now time.Time, trader string) domain.Classification {
	w.evict(now)
	for i := 0; i < w.size; i++ {
		e := w.entries[(w.head+i)%len(w.entries)]
		if e.Trader != trader {
			return domain.ClassificationCompetitive
		}
	}
	return domain.ClassificationSolo
}

// Distinct returns the number of distinct unexpired traders in the window.
func (w *TraderWindow) Distinct(now time.Time) int {
	w.evict(now)
	seen := make(map[string]struct{}, w.size)
	for i := 0; i < w.size; i++ {
		seen[w.entries[(w.head+i)%len(w.entries)].Trader] = struct{}{}
	}
	return len(seen)
}

// Len returns the number of retained entries.
func (w *TraderWindow) Len() int {
	return w.size
}

// evict drops entries older than the window span relative to now.
func (w *TraderWindow) evict(now time.Time) {
	cutoff := now.Add(-w.span)
	for w.size > 0 {
		if w.entries[w.head].At.After(cutoff) {
			return
		}
		w.entries[w.head] = domain.TraderStamp{}
		w.head = (w.head + 1) % len(w.entries)
		w.size--
	}
}
