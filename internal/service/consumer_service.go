package service

import (
	"context"
	"encoding/json"

	"biblestudy-be/internal/dto"
	"biblestudy-be/internal/entity"
	"biblestudy-be/internal/pkg/logger"
	"biblestudy-be/internal/repository/unitofwork"
	"biblestudy-be/pkg/embedding"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// consumerService embeds queued passages and upserts them into the index.
type consumerService struct {
	subscriber        message.Subscriber
	topicName         string
	uowFactory        unitofwork.RepositoryFactory
	embeddingProvider embedding.EmbeddingProvider
	logger            logger.ILogger
}

func NewConsumerService(
	subscriber message.Subscriber,
	topicName string,
	uowFactory unitofwork.RepositoryFactory,
	embeddingProvider embedding.EmbeddingProvider,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		subscriber:        subscriber,
		topicName:         topicName,
		uowFactory:        uowFactory,
		embeddingProvider: embeddingProvider,
		logger:            log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	var payload dto.PublishIndexPassageMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		cs.logger.Error("INDEXER", "Failed to unmarshal message", map[string]interface{}{
			"message_id": msg.UUID,
			"error":      err,
		})
		msg.Ack() // redelivery cannot fix a malformed payload
		return
	}

	ref := entity.PassageReference{
		BookId:     payload.BookId,
		Chapter:    payload.Chapter,
		VerseStart: payload.VerseStart,
		VerseEnd:   payload.VerseEnd,
	}
	details := map[string]interface{}{
		"corpus_id": payload.CorpusId,
		"reference": ref.String(),
	}

	vector, err := cs.embeddingProvider.Generate(ctx, payload.Text, embedding.TaskRetrievalDocument)
	if err != nil {
		details["error"] = err
		cs.logger.Error("INDEXER", "Failed to embed passage", details)
		msg.Nack()
		return
	}

	uow := cs.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		details["error"] = err
		cs.logger.Error("INDEXER", "Failed to begin transaction", details)
		msg.Nack()
		return
	}

	err = uow.PassageEmbeddingRepository().Upsert(ctx, &entity.PassageEmbedding{
		Id:             uuid.New(),
		CorpusId:       payload.CorpusId,
		Reference:      ref,
		Text:           payload.Text,
		EmbeddingValue: vector,
	})
	if err != nil {
		_ = uow.Rollback()
		details["error"] = err
		cs.logger.Error("INDEXER", "Failed to upsert passage", details)
		msg.Nack()
		return
	}

	if err := uow.Commit(); err != nil {
		details["error"] = err
		cs.logger.Error("INDEXER", "Failed to commit transaction", details)
		msg.Nack()
		return
	}

	cs.logger.Debug("INDEXER", "Passage indexed", details)
	msg.Ack()
}
