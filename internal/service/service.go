// Package service implements the two counter operations on top of a store.
package service

import (
	"context"
	"fmt"

	"github.com/contentsquare/hitcounter/internal/store"
)

// Op is a counter operation exposed over HTTP.
type Op int

const (
	OpIncrement Op = iota
	OpRead
)

func (op Op) String() string {
	switch op {
	case OpIncrement:
		return "increment"
	case OpRead:
		return "read"
	default:
		return fmt.Sprintf("Op(%d)", int(op))
	}
}

// Value is the response body of both operations.
type Value struct {
	Value int64 `json:"value"`
}

// Service answers counter operations. It keeps no state of its own:
// every answer comes from the store.
type Service struct {
	store store.Store
}

func New(s store.Store) *Service {
	return &Service{store: s}
}

// Do initializes the counter if needed and then runs op.
// Store failures are returned as is and match store.ErrUnavailable.
func (s *Service) Do(ctx context.Context, op Op) (Value, error) {
	if err := s.store.EnsureInitialized(ctx); err != nil {
		return Value{}, err
	}

	var (
		v   int64
		err error
	)
	switch op {
	case OpIncrement:
		v, err = s.store.Increment(ctx)
	case OpRead:
		v, err = s.store.Read(ctx)
	default:
		panic(fmt.Sprintf("BUG: unexpected operation %s", op))
	}
	if err != nil {
		return Value{}, err
	}
	return Value{Value: v}, nil
}
