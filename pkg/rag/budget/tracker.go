package budget

import (
	"context"
	"fmt"
	"time"

	"biblestudy-be/internal/pkg/logger"
	"biblestudy-be/internal/repository/contract"

	"github.com/google/uuid"
)

// ExceededError is returned when a request would push the period's usage past the ceiling.
type ExceededError struct {
	Ceiling    int64
	Used       int64
	Requested  int64
	ResetAfter time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("token budget exceeded: used %d + requested %d > ceiling %d", e.Used, e.Requested, e.Ceiling)
}

// Tracker enforces a per-user token ceiling over calendar-day periods (UTC).
type Tracker struct {
	store   contract.BudgetStore
	ceiling int64
	now     func() time.Time
	logger  logger.ILogger
}

// NewTracker builds a tracker. A ceiling <= 0 disables enforcement but still records usage.
func NewTracker(store contract.BudgetStore, ceiling int64, log logger.ILogger) *Tracker {
	return &Tracker{
		store:   store,
		ceiling: ceiling,
		now:     time.Now,
		logger:  log,
	}
}

// WithClock replaces the time source, for tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func (t *Tracker) periodStart() time.Time {
	now := t.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// ValidateRequest must run before the remote call. A store read failure is
// logged and the request is allowed.
func (t *Tracker) ValidateRequest(ctx context.Context, userId uuid.UUID, estimatedInputTokens int) error {
	if t.ceiling <= 0 {
		return nil
	}
	period := t.periodStart()
	state, err := t.store.Usage(ctx, userId, period)
	if err != nil {
		t.logger.Warn("BUDGET", "Usage lookup failed, allowing request", map[string]interface{}{
			"user_id": userId.String(),
			"error":   err,
		})
		return nil
	}

	requested := int64(estimatedInputTokens)
	if state.Total()+requested > t.ceiling {
		t.logger.Info("BUDGET", "Request rejected by token ceiling", map[string]interface{}{
			"user_id":   userId.String(),
			"used":      state.Total(),
			"requested": requested,
			"ceiling":   t.ceiling,
		})
		return &ExceededError{
			Ceiling:    t.ceiling,
			Used:       state.Total(),
			Requested:  requested,
			ResetAfter: period.Add(24 * time.Hour),
		}
	}
	return nil
}

// Status is the current period's usage. Ceiling is 0 when enforcement is off.
type Status struct {
	Used       int64
	Ceiling    int64
	ResetAfter time.Time
}

func (t *Tracker) Status(ctx context.Context, userId uuid.UUID) (Status, error) {
	period := t.periodStart()
	state, err := t.store.Usage(ctx, userId, period)
	if err != nil {
		return Status{}, fmt.Errorf("read usage: %w", err)
	}
	ceiling := t.ceiling
	if ceiling < 0 {
		ceiling = 0
	}
	return Status{
		Used:       state.Total(),
		Ceiling:    ceiling,
		ResetAfter: period.Add(24 * time.Hour),
	}, nil
}

// RecordUsage accumulates tokens after a successful call only.
func (t *Tracker) RecordUsage(ctx context.Context, userId uuid.UUID, tokensIn, tokensOut int) error {
	if tokensIn <= 0 && tokensOut <= 0 {
		return nil
	}
	state, err := t.store.Add(ctx, userId, t.periodStart(), int64(tokensIn), int64(tokensOut))
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	t.logger.Debug("BUDGET", "Usage recorded", map[string]interface{}{
		"user_id":    userId.String(),
		"tokens_in":  tokensIn,
		"tokens_out": tokensOut,
		"total":      state.Total(),
	})
	return nil
}
