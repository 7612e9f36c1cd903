// Package fees splits payments into platform, creator, and prior-owner
// shares. Percentage math floors to integer micros; any flooring remainder
// is folded into the platform share so the three shares always sum to
// exactly the input amount.
package fees

import "fmt"

const bpsScale int64 = 10_000

// Schedule holds the shares for one event type, in basis points. The three
// shares must sum to exactly 10000; anything else is a fatal configuration
// error rejected before the system accepts any operation.
type Schedule struct {
	PlatformBps int64
	CreatorBps  int64
	OwnerBps    int64
}

// Validate rejects schedules whose shares do not sum to exactly 100%.
func (s Schedule) Validate(event string) error {
	for _, v := range []int64{s.PlatformBps, s.CreatorBps, s.OwnerBps} {
		if v < 0 {
			return fmt.Errorf("fees: %s schedule has a negative share", event)
		}
	}
	if sum := s.PlatformBps + s.CreatorBps + s.OwnerBps; sum != bpsScale {
		return fmt.Errorf("fees: %s schedule shares sum to %d bps, want exactly %d", event, sum, bpsScale)
	}
	return nil
}

// Split is the exact decomposition of one payment.
type Split struct {
	Platform int64
	Creator  int64
	Owner    int64
}

// Total returns the sum of the three shares, which equals the split amount.
func (s Split) Total() int64 {
	return s.Platform + s.Creator + s.Owner
}

// Split decomposes amount per the schedule. Creator and owner shares floor;
// the platform share takes the remainder, so no currency is created or
// destroyed.
func (s Schedule) Split(amount int64) Split {
	creator := amount / bpsScale * s.CreatorBps
	creator += amount % bpsScale * s.CreatorBps / bpsScale
	owner := amount / bpsScale * s.OwnerBps
	owner += amount % bpsScale * s.OwnerBps / bpsScale
	return Split{
		Platform: amount - creator - owner,
		Creator:  creator,
		Owner:    owner,
	}
}

// Config bundles the per-event-type schedules.
type Config struct {
	Trade    Schedule
	Creation Schedule
}

// DefaultConfig returns the production splits: trades pay 2% platform, 3%
// creator, 95% prior owner; question-creation fees go entirely to the
// platform treasury.
func DefaultConfig() Config {
	return Config{
		Trade:    Schedule{PlatformBps: 200, CreatorBps: 300, OwnerBps: 9_500},
		Creation: Schedule{PlatformBps: 10_000},
	}
}

// Validate checks every schedule.
func (c Config) Validate() error {
	if err := c.Trade.Validate("trade"); err != nil {
		return err
	}
	return c.Creation.Validate("creation")
}
