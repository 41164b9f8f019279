package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"biblestudy-be/internal/dto"
	"biblestudy-be/internal/pkg/logger"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMessage(payload []byte) *message.Message {
	return message.NewMessage(watermill.NewUUID(), payload)
}

type recordingPublisher struct {
	payloads [][]byte
	failAt   int
}

func (p *recordingPublisher) Publish(ctx context.Context, payload []byte) error {
	if p.failAt > 0 && len(p.payloads)+1 == p.failAt {
		return errors.New("queue closed")
	}
	p.payloads = append(p.payloads, payload)
	return nil
}

func TestCorpusService_IndexPassages(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewCorpusService(&fakeFactory{uow: &fakeUnitOfWork{passages: &fakePassageRepo{}}}, pub, "kjv", logger.NewNopLogger())

	res, err := svc.IndexPassages(context.Background(), &dto.IndexPassagesRequest{
		Passages: []dto.IndexPassageItem{
			{BookId: 19, Chapter: 23, VerseStart: 1, Text: "The LORD is my shepherd; I shall not want."},
			{BookId: 19, Chapter: 23, VerseStart: 2, Text: "He maketh me to lie down in green pastures."},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "kjv", res.CorpusId)
	assert.Equal(t, 2, res.Queued)
	require.Len(t, pub.payloads, 2)

	var msg dto.PublishIndexPassageMessage
	require.NoError(t, json.Unmarshal(pub.payloads[1], &msg))
	assert.Equal(t, "kjv", msg.CorpusId)
	assert.Equal(t, 2, msg.VerseStart)
}

func TestCorpusService_IndexPassages_PublishFailure(t *testing.T) {
	pub := &recordingPublisher{failAt: 2}
	svc := NewCorpusService(&fakeFactory{uow: &fakeUnitOfWork{passages: &fakePassageRepo{}}}, pub, "kjv", logger.NewNopLogger())

	_, err := svc.IndexPassages(context.Background(), &dto.IndexPassagesRequest{
		CorpusId: "web",
		Passages: []dto.IndexPassageItem{
			{BookId: 1, Chapter: 1, VerseStart: 1, Text: "a"},
			{BookId: 1, Chapter: 1, VerseStart: 2, Text: "b"},
		},
	})
	assert.Error(t, err)
	assert.Len(t, pub.payloads, 1)
}

func TestCorpusService_Stats(t *testing.T) {
	svc := NewCorpusService(&fakeFactory{uow: &fakeUnitOfWork{passages: &fakePassageRepo{count: 31102}}}, &recordingPublisher{}, "kjv", logger.NewNopLogger())

	res, err := svc.Stats(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "kjv", res.CorpusId)
	assert.Equal(t, int64(31102), res.Passages)
}
