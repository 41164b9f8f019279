package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"biblestudy-be/internal/entity"
	"biblestudy-be/internal/repository/contract"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const budgetKeyTTL = 48 * time.Hour

type BudgetStore struct {
	rdb *redis.Client
}

func NewBudgetStore(rdb *redis.Client) contract.BudgetStore {
	return &BudgetStore{rdb: rdb}
}

func budgetKey(userId uuid.UUID, period time.Time) string {
	return fmt.Sprintf("budget:%s:%s", userId, period.UTC().Format("20060102"))
}

func (s *BudgetStore) Usage(ctx context.Context, userId uuid.UUID, period time.Time) (entity.BudgetState, error) {
	vals, err := s.rdb.HMGet(ctx, budgetKey(userId, period), "tokens_in", "tokens_out").Result()
	if err != nil {
		return entity.BudgetState{}, fmt.Errorf("read budget: %w", err)
	}
	in, _ := toInt64(vals[0])
	out, _ := toInt64(vals[1])
	return entity.BudgetState{TokensIn: in, TokensOut: out, PeriodStart: period}, nil
}

// Add increments both counters in one MULTI so concurrent requests never lose updates.
func (s *BudgetStore) Add(ctx context.Context, userId uuid.UUID, period time.Time, tokensIn, tokensOut int64) (entity.BudgetState, error) {
	key := budgetKey(userId, period)
	var inCmd, outCmd *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		inCmd = pipe.HIncrBy(ctx, key, "tokens_in", tokensIn)
		outCmd = pipe.HIncrBy(ctx, key, "tokens_out", tokensOut)
		pipe.Expire(ctx, key, budgetKeyTTL)
		return nil
	})
	if err != nil {
		return entity.BudgetState{}, fmt.Errorf("record budget: %w", err)
	}
	return entity.BudgetState{
		TokensIn:    inCmd.Val(),
		TokensOut:   outCmd.Val(),
		PeriodStart: period,
	}, nil
}

// toInt64 reads an HMGET value, which is nil for missing fields.
func toInt64(v interface{}) (int64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
