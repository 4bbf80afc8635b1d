package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrMissingID     = errors.New("id cannot be empty")
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
	ErrInvalidValue  = errors.New("invalid value")
	ErrCorruptRecord = errors.New("corrupt record")
)

// Store is the entity store for podcasts, episodes and persisted queue state.
// Writes run in transactions, so a failed write leaves no partial state.
type Store struct {
	db    *sql.DB
	locks *keyedLocks
}

func New(db *sql.DB) *Store {
	return &Store{db: db, locks: newKeyedLocks()}
}

// DB exposes the underlying handle for collaborators sharing the database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// LockPodcast acquires the per-podcast write lock. Waiters are served in
// arrival order. The returned func releases the lock.
func (s *Store) LockPodcast(podcastID string) func() {
	return s.locks.Lock(podcastID)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		committed := false
		defer func() {
			if !committed {
				tx.Rollback()
			}
		}()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		committed = true
		return nil
	})
}

func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		backoff := 50 * time.Millisecond * time.Duration(1<<i)
		if err := waitWithContext(ctx, backoff); err != nil {
			return err
		}
	}
	return err
}

func waitWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(value string) (time.Time, bool) {
	if parsed, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return parsed, true
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed, true
	}
	return time.Time{}, false
}

func parseOptionalTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed, ok := parseTime(value.String)
	if !ok {
		return nil
	}
	return &parsed
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
