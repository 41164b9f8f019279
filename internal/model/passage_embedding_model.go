package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

type PassageEmbedding struct {
	Id             uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CorpusId       string          `gorm:"type:varchar(32);not null;uniqueIndex:idx_passage_ref"`
	BookId         int             `gorm:"not null;uniqueIndex:idx_passage_ref"`
	Chapter        int             `gorm:"not null;uniqueIndex:idx_passage_ref"`
	VerseStart     int             `gorm:"not null;uniqueIndex:idx_passage_ref"`
	VerseEnd       *int            `gorm:"default:null"`
	Text           string          `gorm:"type:text;not null"`
	EmbeddingValue pgvector.Vector `gorm:"type:vector(768)"` // nomic-embed-text dimensions
	CreatedAt      time.Time       `gorm:"autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime"`
	DeletedAt      gorm.DeletedAt  `gorm:"index"`
}

func (PassageEmbedding) TableName() string {
	return "passage_embeddings"
}
