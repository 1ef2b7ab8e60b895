package session

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// defaultTTL bounds how long an idle session survives before eviction.
const defaultTTL = time.Hour

// MemoryStore keeps sessions in process memory with TTL-based eviction.
// Every Put refreshes the session's TTL.
type MemoryStore struct {
	cache *gocache.Cache
	ttl   time.Duration
}

// NewMemoryStore creates an in-memory session store. A non-positive ttl
// falls back to one hour.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryStore{
		cache: gocache.New(ttl, ttl/2),
		ttl:   ttl,
	}
}

// Get returns the user's session, or nil when none is stored.
func (s *MemoryStore) Get(ctx context.Context, userID string) (*Session, error) {
	v, ok := s.cache.Get(userID)
	if !ok {
		return nil, nil
	}
	return v.(*Session), nil
}

// Put stores the session and refreshes its TTL.
func (s *MemoryStore) Put(ctx context.Context, sess *Session) error {
	s.cache.Set(sess.UserID, sess, s.ttl)
	return nil
}

// Delete removes the user's session.
func (s *MemoryStore) Delete(ctx context.Context, userID string) error {
	s.cache.Delete(userID)
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
