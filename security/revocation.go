package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roastedbeans/certification-authority/internal/client"
)

// RevocationStore tracks revoked token ids. IsRevoked reports lookup
// failures as errors; callers decide how to treat them.
type RevocationStore interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
	// Revoke marks jti revoked until the token would have expired anyway.
	Revoke(ctx context.Context, jti string, until time.Time) error
}

// MemoryRevocationStore keeps revocations in process memory.
type MemoryRevocationStore struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{revoked: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryRevocationStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.revoked[jti]
	if !ok {
		return false, nil
	}
	if s.now().After(until) {
		delete(s.revoked, jti)
		return false, nil
	}
	return true, nil
}

func (s *MemoryRevocationStore) Revoke(_ context.Context, jti string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[jti] = until
	return nil
}

// RedisRevocationStore keeps one key per revoked token, expiring with it.
type RedisRevocationStore struct {
	redis *client.RedisClient
}

func NewRedisRevocationStore(rc *client.RedisClient) *RedisRevocationStore {
	return &RedisRevocationStore{redis: rc}
}

func revocationKey(jti string) string {
	return fmt.Sprintf("token:revoke:%s", jti)
}

func (s *RedisRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := s.redis.Exists(ctx, revocationKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("check token revocation: %w", err)
	}
	return exists > 0, nil
}

func (s *RedisRevocationStore) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, revocationKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}
