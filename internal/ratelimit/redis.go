package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// counter is the subset of redis.Cmdable the Redis limiter needs.
type counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Redis is a fixed-window Limiter shared by every replica that points at
// the same Redis. Keys look like "ratelimit:<prefix>:<key>:<window index>".
type Redis struct {
	client counter
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

var _ Limiter = (*Redis)(nil)

func NewRedis(client redis.Cmdable, prefix string, limit int, window time.Duration) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Connect parses a redis:// URL and checks the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ratelimit: pinging redis: %w", err)
	}
	return client, nil
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}

	slot := r.now().UnixNano() / int64(r.window)
	k := "ratelimit:" + r.prefix + ":" + key + ":" + strconv.FormatInt(slot, 10)

	n, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: incrementing %s: %w", k, err)
	}
	if n == 1 {
		// first hit in this window owns the expiry
		if err := r.client.Expire(ctx, k, r.window).Err(); err != nil {
			return false, fmt.Errorf("ratelimit: setting expiry on %s: %w", k, err)
		}
	}
	return n <= int64(r.limit), nil
}
