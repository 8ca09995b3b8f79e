package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"

	"github.com/Chative-data-agent/server/internal/agent/model"
	errx "github.com/Chative-data-agent/server/internal/core/error"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

// RedisConversationRepository stores each conversation as a Redis list of
// JSON encoded messages under conversation:<id>:messages.
type RedisConversationRepository struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisConversationRepository(rdb redis.Cmdable, ttl time.Duration) *RedisConversationRepository {
	return &RedisConversationRepository{rdb: rdb, ttl: ttl}
}

func messagesKey(conversationID string) string {
	return "conversation:" + conversationID + ":messages"
}

// Append pushes the messages and the new expiry in one transaction.
func (r *RedisConversationRepository) Append(ctx context.Context, conversationID string, messages ...*schema.Message) error {
	if len(messages) == 0 {
		return nil
	}
	values := make([]any, 0, len(messages))
	for _, m := range messages {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal %s message: %w", m.Role, err)
		}
		values = append(values, b)
	}

	key := messagesKey(conversationID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("key", key).Int("messages", len(messages)).Msg("Failed to append conversation messages")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisConversationRepository) Recent(ctx context.Context, conversationID string, n int) ([]*schema.Message, error) {
	key := messagesKey(conversationID)
	start := int64(0)
	if n > 0 {
		start = -int64(n)
	}
	rows, err := r.rdb.LRange(ctx, key, start, -1).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("Failed to read conversation messages")
		return nil, errx.WrapRedis(err)
	}

	msgs := make([]*schema.Message, 0, len(rows))
	for i, row := range rows {
		var m schema.Message
		if err := json.Unmarshal([]byte(row), &m); err != nil {
			return nil, fmt.Errorf("decode message %d of %s: %w", i, key, err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, nil
}

func (r *RedisConversationRepository) Len(ctx context.Context, conversationID string) (int, error) {
	n, err := r.rdb.LLen(ctx, messagesKey(conversationID)).Result()
	if err != nil {
		return 0, errx.WrapRedis(err)
	}
	return int(n), nil
}

func (r *RedisConversationRepository) Clear(ctx context.Context, conversationID string) error {
	return errx.WrapRedis(r.rdb.Del(ctx, messagesKey(conversationID)).Err())
}

// MemoryConversationRepository keeps history in process. Entries expire
// after ttl without a write; zero keeps them forever.
type MemoryConversationRepository struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, []*schema.Message]
}

func NewMemoryConversationRepository(ttl time.Duration) *MemoryConversationRepository {
	return &MemoryConversationRepository{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, []*schema.Message](cacheTTL(ttl)),
			ttlcache.WithDisableTouchOnHit[string, []*schema.Message](),
		),
	}
}

func (r *MemoryConversationRepository) load(conversationID string) []*schema.Message {
	if item := r.cache.Get(conversationID); item != nil {
		return item.Value()
	}
	return nil
}

// Append copies the log before extending it so slices handed out by Recent
// never change underneath their readers.
func (r *MemoryConversationRepository) Append(_ context.Context, conversationID string, messages ...*schema.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.load(conversationID)
	next := make([]*schema.Message, 0, len(current)+len(messages))
	next = append(append(next, current...), messages...)
	r.cache.Set(conversationID, next, ttlcache.DefaultTTL)
	return nil
}

func (r *MemoryConversationRepository) Recent(_ context.Context, conversationID string, n int) ([]*schema.Message, error) {
	msgs := r.load(conversationID)
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]*schema.Message{}, msgs...), nil
}

func (r *MemoryConversationRepository) Len(_ context.Context, conversationID string) (int, error) {
	return len(r.load(conversationID)), nil
}

func (r *MemoryConversationRepository) Clear(_ context.Context, conversationID string) error {
	r.cache.Delete(conversationID)
	return nil
}

// touch refreshes the expiry of key after a write. A zero ttl never expires.
func touch(ctx context.Context, rdb redis.Cmdable, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return errx.WrapRedis(err)
	}
	return nil
}

func cacheTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttlcache.NoTTL
	}
	return ttl
}

var (
	_ model.ConversationRepository = (*RedisConversationRepository)(nil)
	_ model.ConversationRepository = (*MemoryConversationRepository)(nil)
)
