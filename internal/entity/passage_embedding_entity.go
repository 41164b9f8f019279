package entity

import "github.com/google/uuid"

type PassageEmbedding struct {
	Id             uuid.UUID
	CorpusId       string
	Reference      PassageReference
	Text           string
	EmbeddingValue []float32
}

// ScoredPassageEmbedding is a search hit with cosine similarity.
type ScoredPassageEmbedding struct {
	Embedding  *PassageEmbedding
	Similarity float64
}
