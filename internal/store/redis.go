package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedis keeps the counter under key. INCR makes every increment a
// single atomic command on the server.
func NewRedis(client redis.UniversalClient, key string) Store {
	return &redisStore{client: client, key: key}
}

func (r *redisStore) Name() string { return "redis" }

func (r *redisStore) EnsureInitialized(ctx context.Context) error {
	if err := r.client.SetNX(ctx, r.key, 0, 0).Err(); err != nil {
		return unavailable(r.Name(), "init", err)
	}
	return nil
}

func (r *redisStore) Read(ctx context.Context) (int64, error) {
	total, err := r.client.Get(ctx, r.key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable(r.Name(), "read", err)
	}
	return total, nil
}

func (r *redisStore) Increment(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable(r.Name(), "increment", err)
	}
	total, err := r.client.Incr(ctx, r.key).Result()
	if err != nil {
		return 0, unavailable(r.Name(), "increment", err)
	}
	return total, nil
}

func (r *redisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable(r.Name(), "ping", err)
	}
	return nil
}

func (r *redisStore) Close() error {
	return r.client.Close()
}
