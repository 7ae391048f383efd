package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CancelStore persists the canceled flag for a job. The flag is write-once:
// once set it survives transport reconnects and, with the Redis backend,
// process restarts. It is never cleared.
type CancelStore interface {
	MarkCanceled(ctx context.Context, jobID string) error
	IsCanceled(ctx context.Context, jobID string) (bool, error)
}

// MemoryCancelStore is the fallback when Redis is not configured.
type MemoryCancelStore struct {
	mu       sync.RWMutex
	canceled map[string]struct{}
}

func NewMemoryCancelStore() *MemoryCancelStore {
	return &MemoryCancelStore{canceled: make(map[string]struct{})}
}

func (s *MemoryCancelStore) MarkCanceled(ctx context.Context, jobID string) error {
	_ = ctx
	s.mu.Lock()
	s.canceled[jobID] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *MemoryCancelStore) IsCanceled(ctx context.Context, jobID string) (bool, error) {
	_ = ctx
	s.mu.RLock()
	_, ok := s.canceled[jobID]
	s.mu.RUnlock()
	return ok, nil
}

const (
	redisCancelPrefix = "catalog:jobs:canceled:"

	// Long enough that any client reconnecting to a canceled job still sees
	// the flag; jobs themselves live for minutes.
	redisCancelTTL = 7 * 24 * time.Hour
)

// RedisCancelStore keeps the canceled flag in Redis so it survives process
// restarts and is shared across replicas.
type RedisCancelStore struct {
	client *redis.Client
}

func NewRedisCancelStore(client *redis.Client) *RedisCancelStore {
	return &RedisCancelStore{client: client}
}

func (s *RedisCancelStore) MarkCanceled(ctx context.Context, jobID string) error {
	return s.client.Set(ctx, redisCancelPrefix+jobID, "1", redisCancelTTL).Err()
}

func (s *RedisCancelStore) IsCanceled(ctx context.Context, jobID string) (bool, error) {
	_, err := s.client.Get(ctx, redisCancelPrefix+jobID).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
