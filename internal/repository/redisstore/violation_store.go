package redisstore

import (
	"context"
	"fmt"
	"time"

	"biblestudy-be/internal/entity"
	"biblestudy-be/internal/repository/contract"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Both scripts return {count, blocked_until_ms}. blocked_until_ms is 0 when not blocked.
var incrementViolationScript = redis.NewScript(`
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local blocked = tonumber(redis.call('HGET', KEYS[1], 'blocked_until') or '0')
local now = tonumber(ARGV[1])
if blocked > 0 and now >= blocked then
  count = 0
  blocked = 0
end
count = count + 1
if count >= tonumber(ARGV[2]) and blocked == 0 then
  blocked = now + tonumber(ARGV[3])
end
redis.call('HSET', KEYS[1], 'count', count, 'blocked_until', blocked)
return {count, blocked}
`)

var clearExpiredViolationScript = redis.NewScript(`
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local blocked = tonumber(redis.call('HGET', KEYS[1], 'blocked_until') or '0')
if blocked > 0 and tonumber(ARGV[1]) >= blocked then
  redis.call('DEL', KEYS[1])
  return {0, 0}
end
return {count, blocked}
`)

type ViolationStore struct {
	rdb *redis.Client
}

func NewViolationStore(rdb *redis.Client) contract.ViolationStore {
	return &ViolationStore{rdb: rdb}
}

func violationKey(userId uuid.UUID) string {
	return "guard:violations:" + userId.String()
}

func (s *ViolationStore) Get(ctx context.Context, userId uuid.UUID) (entity.ViolationState, error) {
	vals, err := s.rdb.HMGet(ctx, violationKey(userId), "count", "blocked_until").Result()
	if err != nil {
		return entity.ViolationState{}, fmt.Errorf("read violations: %w", err)
	}
	count, _ := toInt64(vals[0])
	blocked, _ := toInt64(vals[1])
	return toViolationState(count, blocked), nil
}

func (s *ViolationStore) Increment(ctx context.Context, userId uuid.UUID, threshold int, cooldown time.Duration, now time.Time) (entity.ViolationState, error) {
	res, err := incrementViolationScript.Run(ctx, s.rdb,
		[]string{violationKey(userId)},
		now.UnixMilli(), threshold, cooldown.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return entity.ViolationState{}, fmt.Errorf("increment violations: %w", err)
	}
	return scriptResult(res)
}

func (s *ViolationStore) ClearIfExpired(ctx context.Context, userId uuid.UUID, now time.Time) (entity.ViolationState, error) {
	res, err := clearExpiredViolationScript.Run(ctx, s.rdb,
		[]string{violationKey(userId)},
		now.UnixMilli(),
	).Int64Slice()
	if err != nil {
		return entity.ViolationState{}, fmt.Errorf("clear violations: %w", err)
	}
	return scriptResult(res)
}

func scriptResult(res []int64) (entity.ViolationState, error) {
	if len(res) != 2 {
		return entity.ViolationState{}, fmt.Errorf("unexpected script result length %d", len(res))
	}
	return toViolationState(res[0], res[1]), nil
}

func toViolationState(count, blockedUntilMs int64) entity.ViolationState {
	state := entity.ViolationState{Count: int(count)}
	if blockedUntilMs > 0 {
		until := time.UnixMilli(blockedUntilMs).UTC()
		state.BlockedUntil = &until
	}
	return state
}
