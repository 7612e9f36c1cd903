package domain

import (
	"fmt"
	"strings"
	"time"
)

// Account holds the settlement-currency balances for one participant.
// Available is spendable; Claimable holds accrued fee shares (creator and
// prior-owner cuts) withdrawn on demand via a claim.
type Account struct {
	ID        string
	Available int64 // micros
	Claimable int64 // micros
	UpdatedAt time.Time
}

// PoolAccount returns the synthetic account id a pool owns questions under.
func PoolAccount(poolID int64) string {
	return fmt.Sprintf("pool:%d", poolID)
}

// IsPoolAccount reports whether the account id belongs to a pool.
func IsPoolAccount(id string) bool {
	return strings.HasPrefix(id, "pool:")
}
