package moderation

import "context"

// Result is the outcome of one moderation call.
type Result struct {
	Flagged         bool
	SelfHarmFlagged bool
	Categories      []string
}

// Moderator screens text for disallowed or crisis content.
type Moderator interface {
	Moderate(ctx context.Context, text string) (*Result, error)
}

// NoopModerator never flags anything. Selected explicitly with MODERATION_PROVIDER=none.
type NoopModerator struct{}

func (NoopModerator) Moderate(ctx context.Context, text string) (*Result, error) {
	return &Result{}, nil
}

// SelfHarmCategories are the category keys that route a request to crisis support.
var SelfHarmCategories = map[string]bool{
	"self-harm":              true,
	"self-harm/intent":       true,
	"self-harm/instructions": true,
}
