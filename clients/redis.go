package clients

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/contentsquare/hitcounter/config"
)

// NewRedisClient connects to the configured redis nodes and checks they answer.
//
// Command retries are disabled: a retried INCR whose first attempt
// reached the server would count a visit twice.
func NewRedisClient(ctx context.Context, cfg config.Redis) (redis.UniversalClient, error) {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      cfg.Addresses,
		Username:   cfg.Username,
		Password:   cfg.Password,
		MaxRetries: -1,
	})

	err := r.Ping(ctx).Err()

	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return r, nil
}
