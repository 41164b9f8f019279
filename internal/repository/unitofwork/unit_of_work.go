package unitofwork

import (
	"context"

	"biblestudy-be/internal/repository/contract"
)

type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	ThreadRepository() contract.ThreadRepository
	PassageEmbeddingRepository() contract.PassageEmbeddingRepository
}
