package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"biblestudy-be/internal/entity"
	"biblestudy-be/internal/repository/contract"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// ViolationStore is the single-process ViolationStore. The mutex makes each
// read-modify-write atomic.
type ViolationStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

func NewViolationStore() contract.ViolationStore {
	return &ViolationStore{
		cache: cache.New(cache.NoExpiration, 30*time.Minute),
	}
}

func (s *ViolationStore) load(userId uuid.UUID) entity.ViolationState {
	if x, found := s.cache.Get(userId.String()); found {
		return x.(entity.ViolationState)
	}
	return entity.ViolationState{}
}

func (s *ViolationStore) Get(ctx context.Context, userId uuid.UUID) (entity.ViolationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(userId), nil
}

func (s *ViolationStore) Increment(ctx context.Context, userId uuid.UUID, threshold int, cooldown time.Duration, now time.Time) (entity.ViolationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.load(userId)
	if state.BlockedUntil != nil && !state.IsBlockedAt(now) {
		state = entity.ViolationState{}
	}
	state.Count++
	if state.Count >= threshold && state.BlockedUntil == nil {
		until := now.Add(cooldown)
		state.BlockedUntil = &until
	}
	s.cache.Set(userId.String(), state, cache.NoExpiration)
	return state, nil
}

func (s *ViolationStore) ClearIfExpired(ctx context.Context, userId uuid.UUID, now time.Time) (entity.ViolationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.load(userId)
	if state.BlockedUntil != nil && !state.IsBlockedAt(now) {
		s.cache.Delete(userId.String())
		return entity.ViolationState{}, nil
	}
	return state, nil
}

// BudgetStore keeps per-period usage; entries expire two days after they are written.
type BudgetStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

func NewBudgetStore() contract.BudgetStore {
	return &BudgetStore{
		cache: cache.New(48*time.Hour, time.Hour),
	}
}

func budgetKey(userId uuid.UUID, period time.Time) string {
	return fmt.Sprintf("%s:%s", userId, period.UTC().Format("20060102"))
}

func (s *BudgetStore) Usage(ctx context.Context, userId uuid.UUID, period time.Time) (entity.BudgetState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if x, found := s.cache.Get(budgetKey(userId, period)); found {
		return x.(entity.BudgetState), nil
	}
	return entity.BudgetState{PeriodStart: period}, nil
}

func (s *BudgetStore) Add(ctx context.Context, userId uuid.UUID, period time.Time, tokensIn, tokensOut int64) (entity.BudgetState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := budgetKey(userId, period)
	state := entity.BudgetState{PeriodStart: period}
	if x, found := s.cache.Get(key); found {
		state = x.(entity.BudgetState)
	}
	state.TokensIn += tokensIn
	state.TokensOut += tokensOut
	s.cache.Set(key, state, cache.DefaultExpiration)
	return state, nil
}
