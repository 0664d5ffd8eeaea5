// Package store keeps the single visitor counter.
//
// Every implementation owns the mutual exclusion needed to serialize
// increments: callers never read-modify-write the value themselves.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/contentsquare/hitcounter/clients"
	"github.com/contentsquare/hitcounter/config"
)

// Store is durable, concurrency-safe storage for the counter.
type Store interface {
	io.Closer

	// EnsureInitialized creates the counter with value 0 if it is absent.
	// An existing value is never overwritten.
	EnsureInitialized(ctx context.Context) error

	// Read returns the current value. A missing counter reads as 0.
	Read(ctx context.Context) (int64, error)

	// Increment atomically adds one and returns the new value.
	// It is not retried after a possible commit, since that could
	// count a single call twice.
	Increment(ctx context.Context) (int64, error)

	// Ping checks that the medium is reachable without touching the value.
	Ping(ctx context.Context) error

	Name() string
}

// ErrUnavailable is matched by every error caused by the storage medium.
var ErrUnavailable = errors.New("store unavailable")

// UnavailableError describes a failed store operation.
type UnavailableError struct {
	Store string
	Op    string
	Err   error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s store unavailable: %s: %s", e.Store, e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

func unavailable(store, op string, err error) error {
	return &UnavailableError{Store: store, Op: op, Err: err}
}

// New opens the backend selected by cfg.Kind.
func New(ctx context.Context, cfg config.Store) (Store, error) {
	switch cfg.Kind {
	case config.KindMemory:
		return NewMemory(), nil
	case config.KindBadger:
		return NewBadger(cfg.Badger)
	case config.KindRedis:
		if cfg.Redis == nil {
			return nil, fmt.Errorf("BUG: missing redis configuration")
		}
		client, err := clients.NewRedisClient(ctx, *cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedis(client, cfg.Redis.Key), nil
	case config.KindDynamoDB:
		if cfg.DynamoDB == nil {
			return nil, fmt.Errorf("BUG: missing dynamodb configuration")
		}
		return NewDynamoDB(ctx, *cfg.DynamoDB)
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}
