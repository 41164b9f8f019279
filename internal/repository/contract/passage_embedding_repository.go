package contract

import (
	"context"

	"biblestudy-be/internal/entity"
	"biblestudy-be/internal/repository/specification"
)

type PassageEmbeddingRepository interface {
	// Upsert inserts or replaces the row for (corpus, book, chapter, verse start).
	Upsert(ctx context.Context, embedding *entity.PassageEmbedding) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.PassageEmbedding, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
	// SearchSimilar returns the nearest passages by cosine similarity, best first.
	SearchSimilar(ctx context.Context, embedding []float32, limit int, specs ...specification.Specification) ([]*entity.ScoredPassageEmbedding, error)
}
