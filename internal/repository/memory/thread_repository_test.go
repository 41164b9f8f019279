package memory

import (
	"context"
	"testing"
	"time"

	"biblestudy-be/internal/entity"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadRepository_ScopesByOwner(t *testing.T) {
	ctx := context.Background()
	repo := NewThreadRepository(0)
	owner, other := uuid.New(), uuid.New()
	now := time.Now()

	older := entity.NewThread(owner, nil, now.Add(-time.Hour))
	newer := entity.NewThread(owner, nil, now)
	foreign := entity.NewThread(other, nil, now)
	for _, th := range []*entity.Thread{older, newer, foreign} {
		require.NoError(t, repo.Save(ctx, th))
	}

	threads, err := repo.FetchAll(ctx, owner)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, newer.Id, threads[0].Id)

	found, err := repo.FindByID(ctx, foreign.Id, owner)
	require.NoError(t, err)
	assert.Nil(t, found)

	require.NoError(t, repo.Delete(ctx, foreign.Id, owner))
	found, err = repo.FindByID(ctx, foreign.Id, other)
	require.NoError(t, err)
	assert.NotNil(t, found)
}

func TestThreadRepository_StoresCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewThreadRepository(0)
	th := entity.NewThread(uuid.New(), nil, time.Now())
	th.Append(entity.NewUserMessage("hello", time.Now()))
	require.NoError(t, repo.Save(ctx, th))

	th.Messages[0].Content = "mutated"

	found, err := repo.FindByID(ctx, th.Id, th.UserId)
	require.NoError(t, err)
	assert.Equal(t, "hello", found.Messages[0].Content)
}
