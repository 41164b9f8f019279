package safety

import (
	"context"
	"time"

	"biblestudy-be/internal/entity"
	"biblestudy-be/internal/pkg/logger"
	"biblestudy-be/internal/repository/contract"

	"github.com/google/uuid"
)

// ViolationTracker runs Clean -> Warned -> Blocked(until) -> Clean over a
// ViolationStore. Expired blocks are cleared lazily on read.
type ViolationTracker struct {
	store     contract.ViolationStore
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	logger    logger.ILogger
}

func NewViolationTracker(store contract.ViolationStore, threshold int, cooldown time.Duration, log logger.ILogger) *ViolationTracker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Minute
	}
	return &ViolationTracker{
		store:     store,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		logger:    log,
	}
}

// IsBlocked clears an expired cooldown as a side effect and is safe to call
// repeatedly. Store errors fail open.
func (t *ViolationTracker) IsBlocked(ctx context.Context, userId uuid.UUID) (entity.ViolationState, bool) {
	now := t.now()
	state, err := t.store.ClearIfExpired(ctx, userId, now)
	if err != nil {
		t.logger.Warn("SAFETY", "Violation state unavailable, treating user as not blocked", map[string]interface{}{
			"user_id": userId.String(),
			"error":   err,
		})
		return entity.ViolationState{}, false
	}
	return state, state.IsBlockedAt(now)
}

// Status reads the stored state without clearing it. An expired block reads
// as clean.
func (t *ViolationTracker) Status(ctx context.Context, userId uuid.UUID) (entity.ViolationState, error) {
	state, err := t.store.Get(ctx, userId)
	if err != nil {
		return entity.ViolationState{}, err
	}
	if state.BlockedUntil != nil && !state.IsBlockedAt(t.now()) {
		return entity.ViolationState{}, nil
	}
	return state, nil
}

// RecordViolation adds one violation and starts the cooldown at the threshold.
func (t *ViolationTracker) RecordViolation(ctx context.Context, userId uuid.UUID) (entity.ViolationState, error) {
	state, err := t.store.Increment(ctx, userId, t.threshold, t.cooldown, t.now())
	if err != nil {
		return entity.ViolationState{}, err
	}
	details := map[string]interface{}{
		"user_id": userId.String(),
		"count":   state.Count,
	}
	if state.BlockedUntil != nil {
		details["blocked_until"] = state.BlockedUntil.Format(time.RFC3339)
		t.logger.Warn("SAFETY", "User blocked after repeated violations", details)
	} else {
		t.logger.Info("SAFETY", "Violation recorded", details)
	}
	return state, nil
}
