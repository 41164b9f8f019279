package contract

import (
	"context"
	"time"

	"biblestudy-be/internal/entity"

	"github.com/google/uuid"
)

// ViolationStore keeps per-user violation counters. Implementations must make
// Increment and ClearIfExpired atomic with respect to concurrent callers.
type ViolationStore interface {
	Get(ctx context.Context, userId uuid.UUID) (entity.ViolationState, error)
	// Increment adds one violation. Reaching threshold sets BlockedUntil to now+cooldown.
	// An already expired block is reset before counting.
	Increment(ctx context.Context, userId uuid.UUID, threshold int, cooldown time.Duration, now time.Time) (entity.ViolationState, error)
	// ClearIfExpired resets the state when its cooldown has elapsed and returns what remains.
	ClearIfExpired(ctx context.Context, userId uuid.UUID, now time.Time) (entity.ViolationState, error)
}

// BudgetStore accumulates token usage per user and period.
type BudgetStore interface {
	Usage(ctx context.Context, userId uuid.UUID, period time.Time) (entity.BudgetState, error)
	Add(ctx context.Context, userId uuid.UUID, period time.Time, tokensIn, tokensOut int64) (entity.BudgetState, error)
}
