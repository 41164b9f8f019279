package specification

import (
	"biblestudy-be/internal/entity"

	"gorm.io/gorm"
)

type ByCorpusID struct {
	CorpusID string
}

func (s ByCorpusID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("corpus_id = ?", s.CorpusID)
}

// ByBookIDs restricts a search to a set of books. An empty set applies no filter.
type ByBookIDs struct {
	BookIDs []int
}

func (s ByBookIDs) Apply(db *gorm.DB) *gorm.DB {
	if len(s.BookIDs) == 0 {
		return db
	}
	return db.Where("book_id IN ?", s.BookIDs)
}

// ByPassageStart matches the first verse of a reference.
type ByPassageStart struct {
	Reference entity.PassageReference
}

func (s ByPassageStart) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("book_id = ? AND chapter = ? AND verse_start = ?",
		s.Reference.BookId, s.Reference.Chapter, s.Reference.VerseStart)
}
