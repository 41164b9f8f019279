package search

import (
	"context"
	"fmt"

	"biblestudy-be/internal/entity"
	"biblestudy-be/internal/pkg/logger"
	"biblestudy-be/internal/repository/contract"
	"biblestudy-be/internal/repository/specification"
	"biblestudy-be/pkg/embedding"
	"biblestudy-be/pkg/rag/grounding"
)

// Config encapsulates search parameters
type Config struct {
	// MinSimilarity drops weak matches after the database ranks them.
	MinSimilarity float64
	// Oversample widens the database query so deduplication still fills the limit.
	Oversample int
}

func DefaultConfig() Config {
	return Config{
		MinSimilarity: 0.35,
		Oversample:    2,
	}
}

// VectorBackend answers grounding queries from pgvector passage embeddings.
type VectorBackend struct {
	embeddingProvider embedding.EmbeddingProvider
	repo              contract.PassageEmbeddingRepository
	cfg               Config
	logger            logger.ILogger
}

var (
	_ grounding.Backend       = (*VectorBackend)(nil)
	_ grounding.PassageLookup = (*VectorBackend)(nil)
)

func NewVectorBackend(provider embedding.EmbeddingProvider, repo contract.PassageEmbeddingRepository, cfg Config, log logger.ILogger) *VectorBackend {
	if cfg.Oversample < 1 {
		cfg.Oversample = 1
	}
	return &VectorBackend{
		embeddingProvider: provider,
		repo:              repo,
		cfg:               cfg,
		logger:            log,
	}
}

func (b *VectorBackend) Search(ctx context.Context, query, corpusID string, scope *grounding.Scope, limit int) ([]entity.RetrievedPassage, error) {
	vector, err := b.embeddingProvider.Generate(ctx, query, embedding.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}

	specs := []specification.Specification{specification.ByCorpusID{CorpusID: corpusID}}
	if scope != nil {
		specs = append(specs, specification.ByBookIDs{BookIDs: scope.BookIds})
	}

	scored, err := b.repo.SearchSimilar(ctx, vector, limit*b.cfg.Oversample, specs...)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	passages := b.filterAndDeduplicate(scored, limit)
	b.logger.Debug("GROUNDING", "Vector search complete", map[string]interface{}{
		"raw":  len(scored),
		"kept": len(passages),
	})
	return passages, nil
}

func (b *VectorBackend) filterAndDeduplicate(results []*entity.ScoredPassageEmbedding, limit int) []entity.RetrievedPassage {
	passages := make([]entity.RetrievedPassage, 0, limit)
	seen := make(map[string]bool)

	for _, res := range results {
		if len(passages) >= limit {
			break
		}
		if res.Similarity < b.cfg.MinSimilarity {
			continue
		}
		key := res.Embedding.Reference.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		passages = append(passages, entity.RetrievedPassage{
			Reference: res.Embedding.Reference,
			Text:      res.Embedding.Text,
			Score:     float32(res.Similarity),
		})
	}
	return passages
}

// Lookup returns the stored text whose first verse matches ref.
func (b *VectorBackend) Lookup(ctx context.Context, corpusID string, ref entity.PassageReference) (string, error) {
	found, err := b.repo.FindOne(ctx,
		specification.ByCorpusID{CorpusID: corpusID},
		specification.ByPassageStart{Reference: ref},
	)
	if err != nil {
		return "", err
	}
	if found == nil {
		return "", fmt.Errorf("passage %s not indexed", ref.String())
	}
	return found.Text, nil
}
