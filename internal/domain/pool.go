package domain

import "time"

// PoolStatus represents the lifecycle state of a funding pool.
type PoolStatus string

const (
	PoolStatusActive   PoolStatus = "active"
	PoolStatusExecuted PoolStatus = "executed"
	PoolStatusExpired  PoolStatus = "expired"
)

// Pool represents a collective campaign to fund a single competing trade
// against a question. Its completion target is the question's live NextPrice,
// re-read on every mutating call, never a snapshot taken at creation.
type Pool struct {
	ID               int64
	QuestionID       int64
	Creator          string
	Name             string
	ProposedAnswer   string
	Deadline         time.Time
	Status           PoolStatus
	TotalContributed int64 // micros, net of fees; frozen once terminal
	PenaltyReserve   int64 // micros forfeited by early withdrawals
	Contributions    []Contribution
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ExecutedAt       *time.Time
	ExpiredAt        *time.Time
}

// Contribution is one contributor's net stake in a pool.
type Contribution struct {
	PoolID      int64
	Contributor string
	Amount      int64 // micros, net of the flat contribution fee
	Refunded    bool
	Withdrawn   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BuyerAccount returns the synthetic account id the pool trades under once
// it executes.
func (p Pool) BuyerAccount() string {
	return PoolAccount(p.ID)
}

// Contribution returns the entry for the given contributor, or nil.
func (p *Pool) Contribution(contributor string) *Contribution {
	for i := range p.Contributions {
		if p.Contributions[i].Contributor == contributor {
			return &p.Contributions[i]
		}
	}
	return nil
}
