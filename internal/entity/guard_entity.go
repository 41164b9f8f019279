package entity

import "time"

// ViolationState counts policy violations for one user and the optional cooldown expiry.
type ViolationState struct {
	Count        int
	BlockedUntil *time.Time
}

func (s ViolationState) IsBlockedAt(now time.Time) bool {
	return s.BlockedUntil != nil && now.Before(*s.BlockedUntil)
}

// BudgetState holds token usage for the current period.
type BudgetState struct {
	TokensIn    int64
	TokensOut   int64
	PeriodStart time.Time
}

func (s BudgetState) Total() int64 {
	return s.TokensIn + s.TokensOut
}
