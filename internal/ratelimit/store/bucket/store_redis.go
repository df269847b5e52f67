package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"corebank/internal/ratelimit/models"
)

const keyPrefix = "rl:"

// RedisBucketStore shares fixed-window counters across instances. Each window
// has its own key, so INCR plus an expiry of one window is enough.
type RedisBucketStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisBucketStore(client *redis.Client) *RedisBucketStore {
	return &RedisBucketStore{client: client, now: time.Now}
}

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, size time.Duration) (*models.Result, error) {
	now := s.now()
	start := models.WindowStart(now, size)
	redisKey := keyPrefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.PExpire(ctx, redisKey, size)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("increment rate limit bucket: %w", err)
	}
	return models.NewResult(int(incr.Val()), limit, start, size, now), nil
}
