package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"

	"github.com/Chative-data-agent/server/internal/agent/model"
	errx "github.com/Chative-data-agent/server/internal/core/error"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

// RedisStateStore keeps each conversation's state in one hash.
type RedisStateStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisStateStore(rdb redis.Cmdable, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStateStore) stateKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:state", conversationID)
}

func (s *RedisStateStore) Get(ctx context.Context, conversationID, key string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, s.stateKey(conversationID), key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		logx.Error().Err(err).Str("conversation_id", conversationID).Str("field", key).Msg("failed to read state from redis")
		return "", false, errx.WrapRedis(err)
	}
	return v, true, nil
}

func (s *RedisStateStore) Set(ctx context.Context, conversationID, key, value string) error {
	hash := s.stateKey(conversationID)
	if err := s.rdb.HSet(ctx, hash, key, value).Err(); err != nil {
		logx.Error().Err(err).Str("key", hash).Str("field", key).Msg("failed to write state to redis")
		return errx.WrapRedis(err)
	}
	return touch(ctx, s.rdb, hash, s.ttl)
}

func (s *RedisStateStore) Delete(ctx context.Context, conversationID, key string) error {
	hash := s.stateKey(conversationID)
	if err := s.rdb.HDel(ctx, hash, key).Err(); err != nil {
		logx.Error().Err(err).Str("key", hash).Str("field", key).Msg("failed to delete state from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

type stateKey struct {
	conversationID string
	key            string
}

// MemoryStateStore is the in-process StateStore used when Redis is not configured.
type MemoryStateStore struct {
	cache *ttlcache.Cache[stateKey, string]
}

func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	return &MemoryStateStore{
		cache: ttlcache.New(ttlcache.WithTTL[stateKey, string](cacheTTL(ttl))),
	}
}

func (s *MemoryStateStore) Get(_ context.Context, conversationID, key string) (string, bool, error) {
	item := s.cache.Get(stateKey{conversationID, key})
	if item == nil {
		return "", false, nil
	}
	return item.Value(), true, nil
}

func (s *MemoryStateStore) Set(_ context.Context, conversationID, key, value string) error {
	s.cache.Set(stateKey{conversationID, key}, value, ttlcache.DefaultTTL)
	return nil
}

func (s *MemoryStateStore) Delete(_ context.Context, conversationID, key string) error {
	s.cache.Delete(stateKey{conversationID, key})
	return nil
}

var (
	_ model.StateStore = (*RedisStateStore)(nil)
	_ model.StateStore = (*MemoryStateStore)(nil)
)
