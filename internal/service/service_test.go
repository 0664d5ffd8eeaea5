package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentsquare/hitcounter/internal/store"
)

func TestOpString(t *testing.T) {
	assert.Equal(t, "increment", OpIncrement.String())
	assert.Equal(t, "read", OpRead.String())
	assert.Equal(t, "Op(7)", Op(7).String())
}

func TestDoScenario(t *testing.T) {
	s := New(store.NewMemory())
	ctx := context.Background()

	v, err := s.Do(ctx, OpRead)
	require.NoError(t, err)
	assert.Equal(t, Value{Value: 0}, v)

	v, err = s.Do(ctx, OpIncrement)
	require.NoError(t, err)
	assert.Equal(t, Value{Value: 1}, v)

	v, err = s.Do(ctx, OpIncrement)
	require.NoError(t, err)
	assert.Equal(t, Value{Value: 2}, v)

	v, err = s.Do(ctx, OpRead)
	require.NoError(t, err)
	assert.Equal(t, Value{Value: 2}, v)
}

func TestDoConcurrentIncrements(t *testing.T) {
	s := New(store.NewMemory())
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	values := make([]int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := s.Do(ctx, OpIncrement)
			assert.NoError(t, err)
			values[i] = v.Value
		}(i)
	}
	wg.Wait()

	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, values)

	v, err := s.Do(ctx, OpRead)
	require.NoError(t, err)
	assert.Equal(t, int64(n), v.Value)
}

func TestDoUnavailable(t *testing.T) {
	st := store.NewMemory()
	s := New(st)
	_, err := s.Do(context.Background(), OpIncrement)
	require.NoError(t, err)

	st.Close()
	for _, op := range []Op{OpIncrement, OpRead} {
		v, err := s.Do(context.Background(), op)
		assert.True(t, errors.Is(err, store.ErrUnavailable), "op %s", op)
		assert.Equal(t, Value{}, v)
	}
}

func TestDoUnknownOpPanics(t *testing.T) {
	s := New(store.NewMemory())
	assert.Panics(t, func() { s.Do(context.Background(), Op(42)) })
}

func TestValueJSON(t *testing.T) {
	b, err := json.Marshal(Value{Value: 42})
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":42}`, string(b))
}
