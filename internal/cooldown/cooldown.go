// internal/cooldown/cooldown.go
package cooldown

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store holds transient selection tags. A tagged lead is excluded from
// reselection until the tag expires (one scheduling cycle). Tags are the only
// state the selector path writes.
type Store interface {
	Tag(ctx context.Context, leadIDs []string) error
	TaggedSet(ctx context.Context, leadIDs []string) (map[string]bool, error)
}

// RedisStore keeps tags in redis with a TTL so they survive process restarts
// within a cycle and expire on their own.
type RedisStore struct {
	Client *redis.Client
	TTL    time.Duration
	Prefix string
}

func NewRedisStore(addr string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
		TTL:    ttl,
		Prefix: "outreach:queued:",
	}
}

func (s *RedisStore) key(leadID string) string {
	return s.Prefix + leadID
}

func (s *RedisStore) Tag(ctx context.Context, leadIDs []string) error {
	if len(leadIDs) == 0 {
		return nil
	}
	pipe := s.Client.Pipeline()
	for _, id := range leadIDs {
		pipe.Set(ctx, s.key(id), "1", s.TTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) TaggedSet(ctx context.Context, leadIDs []string) (map[string]bool, error) {
	tagged := make(map[string]bool, len(leadIDs))
	if len(leadIDs) == 0 {
		return tagged, nil
	}
	keys := make([]string, len(leadIDs))
	for i, id := range leadIDs {
		keys[i] = s.key(id)
	}
	vals, err := s.Client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		if v != nil {
			tagged[leadIDs[i]] = true
		}
	}
	return tagged, nil
}

// MemoryStore is the in-process equivalent used by unit tests.
type MemoryStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		expires: map[string]time.Time{},
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Tag(ctx context.Context, leadIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline := s.now().Add(s.ttl)
	for _, id := range leadIDs {
		s.expires[id] = deadline
	}
	return nil
}

func (s *MemoryStore) TaggedSet(ctx context.Context, leadIDs []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	tagged := make(map[string]bool, len(leadIDs))
	for _, id := range leadIDs {
		if deadline, ok := s.expires[id]; ok {
			if now.Before(deadline) {
				tagged[id] = true
			} else {
				delete(s.expires, id)
			}
		}
	}
	return tagged, nil
}
