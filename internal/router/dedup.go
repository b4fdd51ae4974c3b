package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
)

// DedupStore remembers which dedup keys alerted within the dedup window.
// Seen must not refresh the window; only MarkSeen starts it.
type DedupStore interface {
	Seen(ctx context.Context, key string) bool
	MarkSeen(ctx context.Context, key string, window time.Duration)
}

// MemoryDedupStore is the default single-process dedup store backed by an
// expiring cache.
type MemoryDedupStore struct {
	cache *gocache.Cache
}

// NewMemoryDedupStore creates an in-memory dedup store.
func NewMemoryDedupStore() *MemoryDedupStore {
	return &MemoryDedupStore{
		cache: gocache.New(gocache.NoExpiration, time.Minute),
	}
}

func (s *MemoryDedupStore) Seen(ctx context.Context, key string) bool {
	_, found := s.cache.Get(key)
	return found
}

func (s *MemoryDedupStore) MarkSeen(ctx context.Context, key string, window time.Duration) {
	s.cache.Set(key, time.Now(), window)
}

// RedisDedupStore shares dedup state across monitor instances. Failures are
// treated as "not seen" so a Redis outage degrades to duplicate alerts, not
// dropped ones.
type RedisDedupStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisDedupStore creates a Redis-backed dedup store.
func NewRedisDedupStore(client *redis.Client, logger *slog.Logger) *RedisDedupStore {
	return &RedisDedupStore{client: client, prefix: "alert_dedup:", logger: logger}
}

func (s *RedisDedupStore) Seen(ctx context.Context, key string) bool {
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		s.logger.Error("Dedup lookup failed, treating as unseen", "key", key, "error", err)
		return false
	}
	return n > 0
}

func (s *RedisDedupStore) MarkSeen(ctx context.Context, key string, window time.Duration) {
	if err := s.client.Set(ctx, s.prefix+key, time.Now().Unix(), window).Err(); err != nil {
		s.logger.Error("Failed to record dedup state", "key", key, "error", err)
	}
}
