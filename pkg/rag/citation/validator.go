package citation

import (
	"regexp"

	"biblestudy-be/internal/entity"
	"biblestudy-be/internal/pkg/logger"
)

const (
	maxBookId  = 66
	maxChapter = 150
	maxVerse   = 200
)

// verseMention is a loose proxy for "talks about a specific verse": digits
// followed by a colon, or the word verse. Times, numbered list labels
// ("Step 1:") and spelled-out references are misclassified.
var verseMention = regexp.MustCompile(`(?i)\d+\s*:|\bverses?\b`)

// Report describes what ValidateOutput changed.
type Report struct {
	Removed             int
	UncitedVerseMention bool
	Downgraded          bool
}

type Validator struct {
	logger logger.ILogger
}

func NewValidator(log logger.ILogger) *Validator {
	return &Validator{logger: log}
}

// IsValidCitation checks structural bounds only, not textual support.
func IsValidCitation(c entity.Citation) bool {
	return c.BookId >= 1 && c.BookId <= maxBookId &&
		c.Chapter >= 1 && c.Chapter <= maxChapter &&
		c.VerseStart >= 1 && c.VerseStart <= maxVerse
}

// MentionsVerses reports whether text looks like it references a verse.
func MentionsVerses(text string) bool {
	return verseMention.MatchString(text)
}

// ValidateOutput never fails. Invalid citations are dropped and uncertainty
// drops to at least medium whenever the response loses support.
func (v *Validator) ValidateOutput(resp entity.ModelResponse) (entity.ModelResponse, Report) {
	var report Report

	if len(resp.Citations) > 0 {
		valid := make([]entity.Citation, 0, len(resp.Citations))
		for _, c := range resp.Citations {
			if IsValidCitation(c) {
				valid = append(valid, c)
			}
		}
		report.Removed = len(resp.Citations) - len(valid)
		if len(valid) == 0 {
			valid = nil
		}
		resp.Citations = valid
	}

	if resp.ResponseType == entity.ResponseTypeAnswer && len(resp.Citations) == 0 && report.Removed == 0 &&
		MentionsVerses(resp.Content) {
		report.UncitedVerseMention = true
	}

	if report.Removed > 0 || report.UncitedVerseMention {
		before := resp.UncertaintyLevel
		resp.UncertaintyLevel = before.AtLeastMedium()
		report.Downgraded = resp.UncertaintyLevel != before

		v.logger.Info("CITATION", "Response confidence downgraded", map[string]interface{}{
			"removed":        report.Removed,
			"uncited_verses": report.UncitedVerseMention,
			"from":           string(before),
			"to":             string(resp.UncertaintyLevel),
		})
	}
	return resp, report
}
