package series

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/tonometer/internal/metrics"
)

// userLocks hands out one mutex per user and forgets it once nobody holds it.
type userLocks struct {
	locks map[string]*userLock
	mu    sync.Mutex
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()

	return func() {
		ul.mu.Unlock()

		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}

// Store merges readings into per-user durable records.
// Upsert and Export for the same user never interleave.
type Store struct {
	backend  Backend
	location *time.Location
	locks    *userLocks
	logger   *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLocation sets the zone persisted timestamps are read in.
func WithLocation(loc *time.Location) StoreOption {
	return func(s *Store) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger.With(slog.String("component", "series.store"))
		}
	}
}

// NewStore creates a store over backend.
func NewStore(backend Backend, opts ...StoreOption) *Store {
	s := &Store{
		backend:  backend,
		location: time.Local,
		locks:    newUserLocks(),
		logger:   slog.Default().With(slog.String("component", "series.store")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert records value at the hour bucket of timestamp, replacing any reading
// already stored for that bucket, and rewrites the user's record in full.
func (s *Store) Upsert(ctx context.Context, userID string, timestamp time.Time, value string) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveStorage("upsert", start, err) }()

	unlock := s.locks.lock(userID)
	defer unlock()

	readings, err := s.load(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	readings = Merge(readings, Reading{Timestamp: timestamp, Value: value})

	data, err := Encode(readings)
	if err != nil {
		return &StorageIOError{UserID: userID, Op: "save", Err: err}
	}

	if err := s.backend.Save(ctx, userID, data); err != nil {
		return &StorageIOError{UserID: userID, Op: "save", Err: err}
	}

	s.logger.DebugContext(ctx, "reading stored",
		slog.String("user", userID),
		slog.String("timestamp", Bucket(timestamp).Format(TimestampLayout)),
		slog.Int("rows", len(readings)),
	)
	return nil
}

// Export returns the user's record exactly as persisted.
// It returns ErrNotFound when the user has never stored a reading.
func (s *Store) Export(ctx context.Context, userID string) (data []byte, err error) {
	start := time.Now()
	defer func() {
		if errors.Is(err, ErrNotFound) {
			metrics.ObserveStorage("export", start, nil)
			return
		}
		metrics.ObserveStorage("export", start, err)
	}()

	unlock := s.locks.lock(userID)
	defer unlock()

	data, err = s.backend.Load(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageIOError{UserID: userID, Op: "load", Err: err}
	}
	return data, nil
}

// Series returns the user's decoded readings.
func (s *Store) Series(ctx context.Context, userID string) ([]Reading, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	return s.load(ctx, userID)
}

// load reads and decodes a record. Callers must hold the user's lock.
func (s *Store) load(ctx context.Context, userID string) ([]Reading, error) {
	data, err := s.backend.Load(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageIOError{UserID: userID, Op: "load", Err: err}
	}

	readings, err := Decode(userID, data, s.location)
	if err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return readings, nil
}
