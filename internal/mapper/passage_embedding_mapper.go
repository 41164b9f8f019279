package mapper

import (
	"biblestudy-be/internal/entity"
	"biblestudy-be/internal/model"

	"github.com/pgvector/pgvector-go"
)

type PassageEmbeddingMapper struct{}

func NewPassageEmbeddingMapper() *PassageEmbeddingMapper {
	return &PassageEmbeddingMapper{}
}

func (m *PassageEmbeddingMapper) ToEntity(e *model.PassageEmbedding) *entity.PassageEmbedding {
	if e == nil {
		return nil
	}
	return &entity.PassageEmbedding{
		Id:       e.Id,
		CorpusId: e.CorpusId,
		Reference: entity.PassageReference{
			BookId:     e.BookId,
			Chapter:    e.Chapter,
			VerseStart: e.VerseStart,
			VerseEnd:   e.VerseEnd,
		},
		Text:           e.Text,
		EmbeddingValue: e.EmbeddingValue.Slice(),
	}
}

func (m *PassageEmbeddingMapper) ToModel(e *entity.PassageEmbedding) *model.PassageEmbedding {
	if e == nil {
		return nil
	}
	return &model.PassageEmbedding{
		Id:             e.Id,
		CorpusId:       e.CorpusId,
		BookId:         e.Reference.BookId,
		Chapter:        e.Reference.Chapter,
		VerseStart:     e.Reference.VerseStart,
		VerseEnd:       e.Reference.VerseEnd,
		Text:           e.Text,
		EmbeddingValue: pgvector.NewVector(e.EmbeddingValue),
	}
}
