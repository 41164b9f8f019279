package executor

import (
	"context"
	"fmt"
	"time"

	"biblestudy-be/pkg/rag/budget"

	"github.com/google/uuid"
)

// UserStatus is the guard state a client shows next to the composer.
type UserStatus struct {
	Violations   int
	BlockedUntil *time.Time
	Budget       budget.Status
}

// UserStatus reads violation and budget state without changing either.
func (p *PipelineExecutor) UserStatus(ctx context.Context, userId uuid.UUID) (UserStatus, error) {
	var out UserStatus
	if tracker := p.deps.Gate.Tracker(); tracker != nil {
		state, err := tracker.Status(ctx, userId)
		if err != nil {
			return UserStatus{}, fmt.Errorf("failed to read violation state: %w", err)
		}
		out.Violations = state.Count
		out.BlockedUntil = state.BlockedUntil
	}

	usage, err := p.deps.Budget.Status(ctx, userId)
	if err != nil {
		return UserStatus{}, fmt.Errorf("failed to read budget state: %w", err)
	}
	out.Budget = usage
	return out, nil
}
