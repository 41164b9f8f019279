package service

import (
	"context"
	"encoding/json"
	"fmt"

	"biblestudy-be/internal/dto"
	"biblestudy-be/internal/pkg/logger"
	"biblestudy-be/internal/repository/specification"
	"biblestudy-be/internal/repository/unitofwork"
)

type ICorpusService interface {
	IndexPassages(ctx context.Context, request *dto.IndexPassagesRequest) (*dto.IndexPassagesResponse, error)
	Stats(ctx context.Context, corpusId string) (*dto.CorpusStatsResponse, error)
}

type corpusService struct {
	uowFactory       unitofwork.RepositoryFactory
	publisherService IPublisherService
	defaultCorpusId  string
	logger           logger.ILogger
}

func NewCorpusService(uowFactory unitofwork.RepositoryFactory, publisherService IPublisherService, defaultCorpusId string, log logger.ILogger) ICorpusService {
	return &corpusService{
		uowFactory:       uowFactory,
		publisherService: publisherService,
		defaultCorpusId:  defaultCorpusId,
		logger:           log,
	}
}

// IndexPassages queues each passage for embedding. Indexing is asynchronous;
// Queued counts accepted messages, not stored rows.
func (c *corpusService) IndexPassages(ctx context.Context, request *dto.IndexPassagesRequest) (*dto.IndexPassagesResponse, error) {
	corpusId := c.corpusOrDefault(request.CorpusId)

	queued := 0
	for _, p := range request.Passages {
		payload, err := json.Marshal(dto.PublishIndexPassageMessage{
			CorpusId:   corpusId,
			BookId:     p.BookId,
			Chapter:    p.Chapter,
			VerseStart: p.VerseStart,
			VerseEnd:   p.VerseEnd,
			Text:       p.Text,
		})
		if err != nil {
			return nil, err
		}
		if err := c.publisherService.Publish(ctx, payload); err != nil {
			c.logger.Error("CORPUS", "Failed to queue passage", map[string]interface{}{
				"corpus_id": corpusId,
				"queued":    queued,
				"error":     err,
			})
			return nil, fmt.Errorf("failed to queue passage %d: %w", queued, err)
		}
		queued++
	}

	c.logger.Info("CORPUS", "Passages queued for indexing", map[string]interface{}{
		"corpus_id": corpusId,
		"count":     queued,
	})
	return &dto.IndexPassagesResponse{CorpusId: corpusId, Queued: queued}, nil
}

func (c *corpusService) Stats(ctx context.Context, corpusId string) (*dto.CorpusStatsResponse, error) {
	corpusId = c.corpusOrDefault(corpusId)
	uow := c.uowFactory.NewUnitOfWork(ctx)

	count, err := uow.PassageEmbeddingRepository().Count(ctx, specification.ByCorpusID{CorpusID: corpusId})
	if err != nil {
		return nil, fmt.Errorf("failed to count passages: %w", err)
	}
	return &dto.CorpusStatsResponse{CorpusId: corpusId, Passages: count}, nil
}

func (c *corpusService) corpusOrDefault(corpusId string) string {
	if corpusId == "" {
		return c.defaultCorpusId
	}
	return corpusId
}
