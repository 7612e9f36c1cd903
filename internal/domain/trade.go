package domain

import "time"

// Classification describes how a trade was priced: against genuine competing
// demand or against a single recent trader.
type Classification string

const (
	ClassificationSolo        Classification = "solo"
	ClassificationCompetitive Classification = "competitive"
)

// Regime is one of the named percentage-change distributions used for
// solo-trade pricing. Competitive trades carry RegimeNone.
type Regime string

const (
	RegimeNone          Regime = ""
	RegimeConsolidation Regime = "consolidation"
	RegimeBullish       Regime = "bullish"
	RegimeCorrection    Regime = "correction"
	RegimeParabolic     Regime = "parabolic"
)

// Trade is one executed purchase of a question's answer slot. Seq is the
// per-question 1-based ordering value the pricing seed is derived from.
type Trade struct {
	ID             int64
	QuestionID     int64
	Seq            int64
	Trader         string // account id; "pool:<id>" for pool executions
	Answer         string
	Description    string
	Price          int64 // micros paid
	NextPrice      int64 // micros, asking price computed after this trade
	Classification Classification
	Regime         Regime
	CreatedAt      time.Time
}

// TraderStamp is a (trader, timestamp) pair used to rebuild the rolling
// trader-activity window after a restart.
type TraderStamp struct {
	Trader string
	At     time.Time
}
