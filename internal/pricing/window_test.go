package pricing

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/opinioncore/internal/domain"
)

var windowStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestTraderWindow_SoloSingleTrader(t *testing.T) {
	w := NewTraderWindow(24*time.Hour, 64)

	assert.Equal(t, domain.ClassificationSolo, w.Classify(windowStart, "alice"))

	w.Add("alice", windowStart)
	w.Add("alice", windowStart.Add(time.Hour))
	assert.Equal(t, domain.ClassificationSolo, w.Classify(windowStart.Add(2*time.Hour), "alice"))
}

func TestTraderWindow_CompetitiveOnSecondTrader(t *testing.T) {
	w := NewTraderWindow(24*time.Hour, 64)
	w.Add("alice", windowStart)

	// Bob sees alice in the window; alice sees bob once he has traded.
	assert.Equal(t, domain.ClassificationCompetitive, w.Classify(windowStart.Add(time.Minute), "bob"))
	w.Add("bob", windowStart.Add(time.Minute))
	assert.Equal(t, domain.ClassificationCompetitive, w.Classify(windowStart.Add(2*time.Minute), "alice"))
}

func TestTraderWindow_EvictsExpiredEntries(t *testing.T) {
	w := NewTraderWindow(24*time.Hour, 64)
	w.Add("alice", windowStart)

	later := windowStart.Add(25 * time.Hour)
	assert.Equal(t, domain.ClassificationSolo, w.Classify(later, "bob"))
	assert.Equal(t, 0, w.Len())
}

func TestTraderWindow_DistinctCount(t *testing.T) {
	w := NewTraderWindow(24*time.Hour, 64)
	w.Add("alice", windowStart)
	w.Add("bob", windowStart.Add(time.Minute))
	w.Add("alice", windowStart.Add(2*time.Minute))

	assert.Equal(t, 2, w.Distinct(windowStart.Add(3*time.Minute)))
	assert.Equal(t, 0, w.Distinct(windowStart.Add(25*time.Hour)))
}

func TestTraderWindow_BoundedCapacity(t *testing.T) {
	w := NewTraderWindow(24*time.Hour, 4)
	for i := 0; i < 10; i++ {
		w.Add(fmt.Sprintf("trader-%d", i), windowStart.Add(time.Duration(i)*time.Minute))
	}

	assert.Equal(t, 4, w.Len())
	// Oldest entries were overwritten; the survivors are the newest four.
	assert.Equal(t, 4, w.Distinct(windowStart.Add(10*time.Minute)))
	assert.Equal(t, domain.ClassificationCompetitive, w.Classify(windowStart.Add(10*time.Minute), "trader-9"))
}
