package quota

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// counterTTL keeps a day's counter around long enough to cover time zone skew.
const counterTTL = 48 * time.Hour

// RedisStore keeps counters under {prefix}:{YYYY-MM-DD}.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store for one API, e.g. prefix "quota:youtube".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(day string) string { return s.prefix + ":" + day }

func (s *RedisStore) Used(ctx context.Context, day string) (int64, error) {
	n, err := s.client.Get(ctx, s.key(day)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (s *RedisStore) Add(ctx context.Context, day string, cost int64) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.IncrBy(ctx, s.key(day), cost)
	pipe.Expire(ctx, s.key(day), counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
