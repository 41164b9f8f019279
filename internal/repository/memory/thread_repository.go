package memory

import (
	"context"
	"sort"
	"time"

	"biblestudy-be/internal/entity"
	"biblestudy-be/internal/repository/contract"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// ThreadRepository keeps threads in process memory. Stored values are deep
// copies so callers never share message slices with the store.
type ThreadRepository struct {
	cache *cache.Cache
}

func NewThreadRepository(ttl time.Duration) contract.ThreadRepository {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &ThreadRepository{
		cache: cache.New(ttl, 10*time.Minute),
	}
}

func (r *ThreadRepository) FetchAll(ctx context.Context, userId uuid.UUID) ([]*entity.Thread, error) {
	var threads []*entity.Thread
	for _, item := range r.cache.Items() {
		t := item.Object.(*entity.Thread)
		if t.UserId == userId {
			threads = append(threads, t.Clone())
		}
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
	})
	return threads, nil
}

func (r *ThreadRepository) FindByID(ctx context.Context, id uuid.UUID, userId uuid.UUID) (*entity.Thread, error) {
	x, found := r.cache.Get(id.String())
	if !found {
		return nil, nil
	}
	t := x.(*entity.Thread)
	if t.UserId != userId {
		return nil, nil
	}
	return t.Clone(), nil
}

func (r *ThreadRepository) Save(ctx context.Context, thread *entity.Thread) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.cache.Set(thread.Id.String(), thread.Clone(), cache.DefaultExpiration)
	return nil
}

func (r *ThreadRepository) Delete(ctx context.Context, id uuid.UUID, userId uuid.UUID) error {
	if x, found := r.cache.Get(id.String()); found && x.(*entity.Thread).UserId == userId {
		r.cache.Delete(id.String())
	}
	return nil
}
