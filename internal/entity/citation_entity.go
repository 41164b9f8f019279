package entity

import "fmt"

// PassageReference points at a book/chapter/verse range.
type PassageReference struct {
	BookId     int
	Chapter    int
	VerseStart int
	VerseEnd   *int
}

func (r PassageReference) String() string {
	if r.VerseEnd != nil && *r.VerseEnd != r.VerseStart {
		return fmt.Sprintf("%d:%d:%d-%d", r.BookId, r.Chapter, r.VerseStart, *r.VerseEnd)
	}
	return fmt.Sprintf("%d:%d:%d", r.BookId, r.Chapter, r.VerseStart)
}

// Citation is a model-asserted reference. It is advisory and validated heuristically.
type Citation struct {
	PassageReference
}

type ResponseType string

const (
	ResponseTypeAnswer        ResponseType = "answer"
	ResponseTypeClarification ResponseType = "clarification"
	ResponseTypeRefusal       ResponseType = "refusal"
	ResponseTypeCrisisSupport ResponseType = "crisis_support"
)

// ParseResponseType maps a wire value onto the closed set; unknown values read as answer.
func ParseResponseType(s string) ResponseType {
	switch ResponseType(s) {
	case ResponseTypeAnswer, ResponseTypeClarification, ResponseTypeRefusal, ResponseTypeCrisisSupport:
		return ResponseType(s)
	default:
		return ResponseTypeAnswer
	}
}

type UncertaintyLevel string

const (
	UncertaintyLow    UncertaintyLevel = "low"
	UncertaintyMedium UncertaintyLevel = "medium"
	UncertaintyHigh   UncertaintyLevel = "high"
)

func ParseUncertaintyLevel(s string) UncertaintyLevel {
	switch UncertaintyLevel(s) {
	case UncertaintyLow, UncertaintyMedium, UncertaintyHigh:
		return UncertaintyLevel(s)
	default:
		return UncertaintyMedium
	}
}

// AtLeastMedium lowers confidence to medium. High uncertainty is kept.
func (u UncertaintyLevel) AtLeastMedium() UncertaintyLevel {
	if u == UncertaintyHigh {
		return UncertaintyHigh
	}
	return UncertaintyMedium
}

func ResponseTypePtr(rt ResponseType) *ResponseType { return &rt }

func UncertaintyPtr(u UncertaintyLevel) *UncertaintyLevel { return &u }

// RetrievedPassage is a grounding snippet attached to a single request. Never persisted.
type RetrievedPassage struct {
	Reference PassageReference
	Text      string
	Score     float32
}
