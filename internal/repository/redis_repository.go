package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roastedbeans/certification-authority/internal/client"
	"github.com/roastedbeans/certification-authority/internal/models"
)

const (
	flowKeyPrefix        = "ca:flow:"
	idempotencyKeyPrefix = "ca:idem:"
)

type redisFlowStateStore struct {
	rc  *client.RedisClient
	ttl time.Duration
}

// NewRedisFlowStateStore keeps organization flow state in Redis hashes that
// expire ttl after their last advance.
func NewRedisFlowStateStore(rc *client.RedisClient, ttl time.Duration) FlowStateStore {
	return &redisFlowStateStore{rc: rc, ttl: ttl}
}

// advanceScript sets state only when its rank is above the stored rank.
var advanceScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "rank")
if (not cur) or tonumber(cur) < tonumber(ARGV[2]) then
  redis.call("HSET", KEYS[1], "state", ARGV[1], "rank", ARGV[2])
end
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return redis.call("HGET", KEYS[1], "state")
`)

func (s *redisFlowStateStore) Get(ctx context.Context, key string) (models.FlowState, error) {
	v, err := s.rc.HGet(ctx, flowKeyPrefix+key, "state").Result()
	if errors.Is(err, redis.Nil) {
		return models.StateStart, nil
	}
	if err != nil {
		return "", fmt.Errorf("get flow state: %w", err)
	}
	return models.FlowState(v), nil
}

func (s *redisFlowStateStore) Advance(ctx context.Context, key string, state models.FlowState) (models.FlowState, error) {
	v, err := advanceScript.Run(ctx, s.rc.Client, []string{flowKeyPrefix + key},
		string(state), strconv.Itoa(state.Rank()), s.ttl.Milliseconds()).Text()
	if err != nil {
		return "", fmt.Errorf("advance flow state: %w", err)
	}
	return models.FlowState(v), nil
}

type redisIdempotencyStore struct {
	rc  *client.RedisClient
	ttl time.Duration
}

// NewRedisIdempotencyStore stores idempotency records as JSON with ttl.
func NewRedisIdempotencyStore(rc *client.RedisClient, ttl time.Duration) IdempotencyStore {
	return &redisIdempotencyStore{rc: rc, ttl: ttl}
}

func (s *redisIdempotencyStore) Reserve(ctx context.Context, key, requestHash string) (*IdempotencyRecord, bool, error) {
	rec := IdempotencyRecord{RequestHash: requestHash, CreatedAt: time.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, false, err
	}
	ok, err := s.rc.SetNX(ctx, idempotencyKeyPrefix+key, data, s.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return nil, true, nil
	}
	var existing IdempotencyRecord
	found, err := s.rc.GetJSON(ctx, idempotencyKeyPrefix+key, &existing)
	if err != nil {
		return nil, false, fmt.Errorf("load idempotency key: %w", err)
	}
	if !found {
		// expired between SETNX and GET
		return s.Reserve(ctx, key, requestHash)
	}
	return &existing, false, nil
}

func (s *redisIdempotencyStore) Complete(ctx context.Context, key string, rec IdempotencyRecord) error {
	rec.Completed = true
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := s.rc.SetJSON(ctx, idempotencyKeyPrefix+key, rec, s.ttl); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

func (s *redisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.rc.Del(ctx, idempotencyKeyPrefix+key).Err()
}
