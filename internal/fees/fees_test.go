package fees

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_Conservation(t *testing.T) {
	sched := Schedule{PlatformBps: 200, CreatorBps: 300, OwnerBps: 9_500}

	// Amounts chosen to exercise flooring remainders, including ones not
	// divisible by the bps scale.
	amounts := []int64{0, 1, 3, 9_999, 10_000, 10_001, 123_457, 5_000000, 999_999_999, 1<<52 + 7}
	for _, amount := range amounts {
		split := sched.Split(amount)
		assert.Equal(t, amount, split.Total(), "amount %d leaked", amount)
		assert.GreaterOrEqual(t, split.Platform, int64(0))
		assert.GreaterOrEqual(t, split.Creator, int64(0))
		assert.GreaterOrEqual(t, split.Owner, int64(0))
	}
}

func TestSplit_RemainderGoesToPlatform(t *testing.T) {
	sched := Schedule{PlatformBps: 200, CreatorBps: 300, OwnerBps: 9_500}

	// 3 micros: owner floors to 2, creator to zero, and the leftover micro
	// lands on the platform.
	split := sched.Split(3)
	assert.Equal(t, Split{Platform: 1, Owner: 2}, split)
}

func TestSplit_ExactShares(t *testing.T) {
	sched := Schedule{PlatformBps: 200, CreatorBps: 300, OwnerBps: 9_500}

	split := sched.Split(10_000000)
	assert.Equal(t, int64(200_000), split.Platform)
	assert.Equal(t, int64(300_000), split.Creator)
	assert.Equal(t, int64(9_500_000), split.Owner)
}

func TestScheduleValidate(t *testing.T) {
	require.NoError(t, Schedule{PlatformBps: 10_000}.Validate("creation"))
	require.NoError(t, DefaultConfig().Validate())

	assert.Error(t, Schedule{PlatformBps: 200, CreatorBps: 300, OwnerBps: 9_600}.Validate("trade"), "over 100%")
	assert.Error(t, Schedule{PlatformBps: 200, CreatorBps: 300, OwnerBps: 9_400}.Validate("trade"), "under 100%")
	assert.Error(t, Schedule{PlatformBps: -100, CreatorBps: 300, OwnerBps: 9_800}.Validate("trade"), "negative share")
}
