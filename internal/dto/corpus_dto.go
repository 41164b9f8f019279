package dto

type IndexPassageItem struct {
	BookId     int    `json:"book_id" validate:"required,min=1,max=66"`
	Chapter    int    `json:"chapter" validate:"required,min=1,max=150"`
	VerseStart int    `json:"verse_start" validate:"required,min=1,max=200"`
	VerseEnd   *int   `json:"verse_end,omitempty" validate:"omitempty,min=1,max=200"`
	Text       string `json:"text" validate:"required,max=4000"`
}

type IndexPassagesRequest struct {
	CorpusId string             `json:"corpus_id" validate:"omitempty,max=32"`
	Passages []IndexPassageItem `json:"passages" validate:"required,min=1,max=500,dive"`
}

type IndexPassagesResponse struct {
	CorpusId string `json:"corpus_id"`
	Queued   int    `json:"queued"`
}

type CorpusStatsResponse struct {
	CorpusId string `json:"corpus_id"`
	Passages int64  `json:"passages"`
}

// PublishIndexPassageMessage is the queue payload consumed by the indexer.
type PublishIndexPassageMessage struct {
	CorpusId   string `json:"corpus_id"`
	BookId     int    `json:"book_id"`
	Chapter    int    `json:"chapter"`
	VerseStart int    `json:"verse_start"`
	VerseEnd   *int   `json:"verse_end,omitempty"`
	Text       string `json:"text"`
}
