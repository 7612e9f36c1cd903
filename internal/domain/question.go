package domain

import "time"

// PriceScale is the fixed-point scale for all monetary values: amounts are
// int64 micros, i.e. value * 1e6. No floating point is used in core paths.
const PriceScale int64 = 1_000_000

// Question represents a single market item: a question whose current best
// answer is owned by whoever last paid the asking price.
type Question struct {
	ID                 int64
	Creator            string // immutable
	Owner              string // changes on every trade or pool execution
	Text               string
	Description        string
	Categories         []string
	CurrentAnswer      string
	CurrentAnswerOwner string // may differ from Owner after pool executions
	LastPrice          int64  // micros: what the current answer cost
	NextPrice          int64  // micros: asking price for the next challenger
	TotalVolume        int64  // micros, monotonically non-decreasing
	IsActive           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
