package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "remedy:session:"

// RedisStore persists sessions in Redis as JSON values with a key TTL,
// for deployments where the conversation layer runs in more than one
// process. Reads refresh the TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed session store. A non-positive ttl
// falls back to one hour.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Get returns the user's session, or nil when none is stored.
func (s *RedisStore) Get(ctx context.Context, userID string) (*Session, error) {
	val, err := s.client.Get(ctx, redisKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("%w: decode session: %v", ErrStoreFailure, err)
	}

	// Refresh TTL on read; failure here is not fatal.
	_ = s.client.Expire(ctx, redisKeyPrefix+userID, s.ttl).Err()

	return &sess, nil
}

// Put stores the session and resets its TTL.
func (s *RedisStore) Put(ctx context.Context, sess *Session) error {
	val, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("%w: encode session: %v", ErrStoreFailure, err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+sess.UserID, val, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return nil
}

// Delete removes the user's session.
func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
