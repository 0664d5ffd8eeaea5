package store

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/contentsquare/hitcounter/internal/counter"
)

var errClosed = errors.New("store is closed")

// memoryStore keeps the counter for the lifetime of the process only.
type memoryStore struct {
	value  counter.Counter
	closed atomic.Bool
}

// NewMemory returns a store backed by an atomic integer.
func NewMemory() Store {
	return &memoryStore{}
}

func (m *memoryStore) Name() string { return "memory" }

func (m *memoryStore) check(ctx context.Context, op string) error {
	if m.closed.Load() {
		return unavailable(m.Name(), op, errClosed)
	}
	if err := ctx.Err(); err != nil {
		return unavailable(m.Name(), op, err)
	}
	return nil
}

func (m *memoryStore) EnsureInitialized(ctx context.Context) error {
	// the zero value of the counter is the initialized state
	return m.check(ctx, "init")
}

func (m *memoryStore) Read(ctx context.Context) (int64, error) {
	if err := m.check(ctx, "read"); err != nil {
		return 0, err
	}
	return m.value.Load(), nil
}

func (m *memoryStore) Increment(ctx context.Context) (int64, error) {
	if err := m.check(ctx, "increment"); err != nil {
		return 0, err
	}
	return m.value.Inc(), nil
}

func (m *memoryStore) Ping(ctx context.Context) error {
	return m.check(ctx, "ping")
}

func (m *memoryStore) Close() error {
	m.closed.Store(true)
	return nil
}
