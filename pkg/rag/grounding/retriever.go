package grounding

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"biblestudy-be/internal/entity"
	"biblestudy-be/internal/pkg/logger"
)

// Scope narrows a search to a set of books. Nil means the whole corpus.
type Scope struct {
	BookIds []int
}

// Backend is the read-only passage index.
type Backend interface {
	Search(ctx context.Context, query, corpusID string, scope *Scope, limit int) ([]entity.RetrievedPassage, error)
}

// PassageLookup is implemented by backends that can fetch a passage by reference.
type PassageLookup interface {
	Lookup(ctx context.Context, corpusID string, ref entity.PassageReference) (string, error)
}

type Config struct {
	Limit          int
	MinQueryLength int
	CorpusID       string
	Timeout        time.Duration
}

// Retriever wraps a Backend with fail-empty semantics: grounding never blocks a request.
type Retriever struct {
	backend Backend
	cfg     Config
	logger  logger.ILogger
}

func NewRetriever(backend Backend, cfg Config, log logger.ILogger) *Retriever {
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	if cfg.MinQueryLength <= 0 {
		cfg.MinQueryLength = 3
	}
	return &Retriever{backend: backend, cfg: cfg, logger: log}
}

// Retrieve returns at most Limit passages. Short queries, backend errors and
// timeouts all yield an empty slice.
func (r *Retriever) Retrieve(ctx context.Context, question string, scope *Scope) []entity.RetrievedPassage {
	query := strings.TrimSpace(question)
	if r.backend == nil || utf8.RuneCountInString(query) < r.cfg.MinQueryLength {
		return nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	passages, err := r.backend.Search(ctx, query, r.cfg.CorpusID, scope, r.cfg.Limit)
	if err != nil {
		r.logger.Warn("GROUNDING", "Retrieval failed, continuing without passages", map[string]interface{}{
			"error": err,
		})
		return nil
	}
	if len(passages) > r.cfg.Limit {
		passages = passages[:r.cfg.Limit]
	}
	r.logger.Debug("GROUNDING", "Passages retrieved", map[string]interface{}{
		"count": len(passages),
	})
	return passages
}

// AnchorText fetches the anchored passage for passage mode. Empty on any failure.
func (r *Retriever) AnchorText(ctx context.Context, ref *entity.PassageReference) string {
	if ref == nil {
		return ""
	}
	lookup, ok := r.backend.(PassageLookup)
	if !ok {
		return ""
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	text, err := lookup.Lookup(ctx, r.cfg.CorpusID, *ref)
	if err != nil {
		r.logger.Warn("GROUNDING", "Anchor lookup failed", map[string]interface{}{
			"reference": ref.String(),
			"error":     err,
		})
		return ""
	}
	return text
}

func (r *Retriever) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, r.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}
