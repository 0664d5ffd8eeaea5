package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/dgraph-io/badger/v4"

	"github.com/contentsquare/hitcounter/config"
	"github.com/contentsquare/hitcounter/log"
)

// counterKey is the badger rendering of the `stats` row with id 1.
var counterKey = []byte("stats/1/total")

// conflictAttempts bounds retries of transactions aborted by badger's
// conflict detection. An aborted transaction never commits.
const conflictAttempts = 10

type badgerStore struct {
	db *badger.DB

	// serializes writers inside the process; badger's own lock file
	// keeps other processes away from the directory.
	mu sync.Mutex
}

// NewBadger opens (or creates) the on-disk store at cfg.Path.
func NewBadger(cfg config.Badger) (Store, error) {
	if err := os.MkdirAll(cfg.Path, 0750); err != nil {
		return nil, fmt.Errorf("cannot create badger directory %q: %w", cfg.Path, err)
	}
	opts := badger.DefaultOptions(cfg.Path).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1)
	return openBadger(opts)
}

// newBadgerInMemory opens a throwaway store, used in tests.
func newBadgerInMemory() (*badgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	return openBadger(opts)
}

func openBadger(opts badger.Options) (*badgerStore, error) {
	db, err := badger.Open(opts.WithLogger(badgerLogger{}))
	if err != nil {
		return nil, fmt.Errorf("cannot open badger database: %w", err)
	}
	return &badgerStore{db: db}, nil
}

func (s *badgerStore) Name() string { return "badger" }

func (s *badgerStore) EnsureInitialized(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(counterKey)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(counterKey, encodeTotal(0))
	})
	if err != nil {
		return unavailable(s.Name(), "init", err)
	}
	return nil
}

func (s *badgerStore) Read(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable(s.Name(), "read", err)
	}
	var total int64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		total, err = readTotal(txn)
		return err
	})
	if err != nil {
		return 0, unavailable(s.Name(), "read", err)
	}
	return total, nil
}

func (s *badgerStore) Increment(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	err := s.update(ctx, func(txn *badger.Txn) error {
		current, err := readTotal(txn)
		if err != nil {
			return err
		}
		total = current + 1
		return txn.Set(counterKey, encodeTotal(total))
	})
	if err != nil {
		return 0, unavailable(s.Name(), "increment", err)
	}
	return total, nil
}

func (s *badgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return unavailable(s.Name(), "ping", badger.ErrDBClosed)
	}
	if err := ctx.Err(); err != nil {
		return unavailable(s.Name(), "ping", err)
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := readTotal(txn)
		return err
	})
	if err != nil {
		return unavailable(s.Name(), "ping", err)
	}
	return nil
}

func (s *badgerStore) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}

// update runs fn in a read-write transaction. The context is checked
// before every attempt so a cancelled request never commits.
func (s *badgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	return retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return s.db.Update(fn)
		},
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, badger.ErrConflict)
		}),
		retry.Attempts(conflictAttempts),
		retry.Delay(time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}

func readTotal(txn *badger.Txn) (int64, error) {
	item, err := txn.Get(counterKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var total int64
	err = item.Value(func(val []byte) error {
		total, err = decodeTotal(val)
		return err
	})
	return total, err
}

func encodeTotal(total int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(total))
	return b
}

func decodeTotal(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("corrupted counter value: %d bytes", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// badgerLogger routes badger's internal messages to the service log.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	log.Errorf("badger: "+format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	log.Warnf("badger: "+format, args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	log.Debugf("badger: "+format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	log.Debugf("badger: "+format, args...)
}
