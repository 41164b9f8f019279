package contract

import (
	"context"

	"biblestudy-be/internal/entity"

	"github.com/google/uuid"
)

// ThreadRepository stores whole threads keyed by id. Every lookup is scoped to the owner.
type ThreadRepository interface {
	FetchAll(ctx context.Context, userId uuid.UUID) ([]*entity.Thread, error)
	FindByID(ctx context.Context, id uuid.UUID, userId uuid.UUID) (*entity.Thread, error)
	Save(ctx context.Context, thread *entity.Thread) error
	Delete(ctx context.Context, id uuid.UUID, userId uuid.UUID) error
}
