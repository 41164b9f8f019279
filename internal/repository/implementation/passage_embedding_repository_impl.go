package implementation

import (
	"context"
	"errors"

	"biblestudy-be/internal/entity"
	"biblestudy-be/internal/mapper"
	"biblestudy-be/internal/model"
	"biblestudy-be/internal/repository/contract"
	"biblestudy-be/internal/repository/specification"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PassageEmbeddingRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.PassageEmbeddingMapper
}

func NewPassageEmbeddingRepository(db *gorm.DB) contract.PassageEmbeddingRepository {
	return &PassageEmbeddingRepositoryImpl{
		db:     db,
		mapper: mapper.NewPassageEmbeddingMapper(),
	}
}

func (r *PassageEmbeddingRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *PassageEmbeddingRepositoryImpl) Upsert(ctx context.Context, embedding *entity.PassageEmbedding) error {
	if embedding.Id == uuid.Nil {
		embedding.Id = uuid.New()
	}
	m := r.mapper.ToModel(embedding)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "corpus_id"}, {Name: "book_id"}, {Name: "chapter"}, {Name: "verse_start"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"verse_end", "text", "embedding_value", "updated_at"}),
	}).Create(m).Error
	if err != nil {
		return err
	}
	*embedding = *r.mapper.ToEntity(m)
	return nil
}

func (r *PassageEmbeddingRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.PassageEmbedding, error) {
	var m model.PassageEmbedding
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ToEntity(&m), nil
}

func (r *PassageEmbeddingRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	err := query.Model(&model.PassageEmbedding{}).Count(&count).Error
	return count, err
}

func (r *PassageEmbeddingRepositoryImpl) SearchSimilar(ctx context.Context, embedding []float32, limit int, specs ...specification.Specification) ([]*entity.ScoredPassageEmbedding, error) {
	if limit <= 0 {
		limit = 5
	}

	// pgvector cosine distance is 1 - cosine similarity.
	type result struct {
		model.PassageEmbedding
		Similarity float64
	}
	var results []result

	queryVector := pgvector.NewVector(embedding)

	query := r.db.WithContext(ctx).
		Table("passage_embeddings").
		Select("passage_embeddings.*, 1 - (embedding_value <=> ?) as similarity", queryVector).
		Where("passage_embeddings.deleted_at IS NULL")
	query = r.applySpecifications(query, specs...)

	err := query.
		Order("similarity DESC").
		Limit(limit).
		Scan(&results).Error
	if err != nil {
		return nil, err
	}

	scored := make([]*entity.ScoredPassageEmbedding, len(results))
	for i, res := range results {
		scored[i] = &entity.ScoredPassageEmbedding{
			Embedding:  r.mapper.ToEntity(&res.PassageEmbedding),
			Similarity: res.Similarity,
		}
	}
	return scored, nil
}
