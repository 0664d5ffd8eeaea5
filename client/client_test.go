package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService mimics the counter endpoints.
type fakeService struct {
	value   atomic.Int64
	hits    atomic.Int64
	down    atomic.Bool
	limited atomic.Bool
}

func (f *fakeService) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if f.down.Load() {
		rw.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(rw, "memory store unavailable: read: store is closed")
		return
	}
	if f.limited.Load() {
		rw.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprintln(rw, "rate limit exceeded")
		return
	}
	switch {
	case r.URL.Path == "/hit" && r.Method == http.MethodPost:
		f.hits.Add(1)
		fmt.Fprintf(rw, `{"value":%d}`, f.value.Add(1))
	case r.URL.Path == "/current" && r.Method == http.MethodGet:
		fmt.Fprintf(rw, `{"value":%d}`, f.value.Load())
	case r.URL.Path == "/empty":
		fmt.Fprint(rw, `{}`)
	default:
		rw.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T) (*Client, *fakeService) {
	f := &fakeService{}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", nil), f
}

func TestClientHitAndCurrent(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	v, err := c.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	v, err = c.Hit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = c.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestClientNon200(t *testing.T) {
	c, f := newTestClient(t)
	f.down.Store(true)

	_, err := c.Current(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Contains(t, se.Body, "store unavailable")
}

func TestClientMissingValue(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.do(context.Background(), http.MethodGet, "/empty")
	assert.ErrorContains(t, err, "has no value")
}

func TestSessionCountsOnce(t *testing.T) {
	c, f := newTestClient(t)
	s := NewSession(c)
	ctx := context.Background()

	v, err := s.Visit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.True(t, s.Counted())

	for i := 0; i < 3; i++ {
		v, err = s.Visit(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
	}
	assert.Equal(t, int64(1), f.hits.Load())
}

func TestSessionRetriesFailedFirstVisit(t *testing.T) {
	c, f := newTestClient(t)
	s := NewSession(c)
	ctx := context.Background()

	f.down.Store(true)
	_, err := s.Visit(ctx)
	require.Error(t, err)
	assert.False(t, s.Counted())

	f.down.Store(false)
	v, err := s.Visit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestManySessions(t *testing.T) {
	c, f := newTestClient(t)

	const sessions = 20
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := NewSession(c)
			for j := 0; j < 3; j++ {
				_, err := s.Visit(context.Background())
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(sessions), f.hits.Load())
	v, err := c.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(sessions), v)
}

func TestRejected(t *testing.T) {
	c, f := newTestClient(t)
	ctx := context.Background()

	f.limited.Store(true)
	_, err := c.Hit(ctx)
	require.Error(t, err)
	assert.True(t, Rejected(err), "a 429 never reaches the store")
	assert.Equal(t, int64(0), f.hits.Load())
	f.limited.Store(false)

	f.down.Store(true)
	_, err = c.Hit(ctx)
	require.Error(t, err)
	assert.False(t, Rejected(err), "a 503 may follow a committed increment")
	f.down.Store(false)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.Hit(canceled)
	require.Error(t, err)
	assert.False(t, Rejected(err))

	assert.False(t, Rejected(nil))
	assert.False(t, Rejected(errors.New("boom")))
}
