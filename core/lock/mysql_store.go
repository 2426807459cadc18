package lock

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// mysqlStore implements Store with a unique-key insert into the
// acquisition_locks table. The primary key on external_id makes the insert
// atomic against all other callers; expired rows are removed by Sweep.
type mysqlStore struct {
	db *sql.DB
}

// NewMySQLStore creates a SQL-backed lock store.
func NewMySQLStore(db *sql.DB) Store {
	return &mysqlStore{db: db}
}

func (s *mysqlStore) TryCreate(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	expires := time.Now().UTC().Add(ttl)
	for attempt := 0; attempt < 2; attempt++ {
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO acquisition_locks (external_id, expires_at) VALUES (?, ?)", key, expires)
		if err == nil {
			return true, nil
		}
		if !strings.Contains(err.Error(), "Duplicate entry") {
			return false, fmt.Errorf("failed to insert lock %s: %w", key, err)
		}
		// Holder exists. Clear it only if its lease has lapsed, then retry
		// the insert once; a concurrent claimant may still beat us to it.
		res, derr := s.db.ExecContext(ctx,
			"DELETE FROM acquisition_locks WHERE external_id = ? AND expires_at < ?", key, time.Now().UTC())
		if derr != nil {
			return false, fmt.Errorf("failed to clear expired lock %s: %w", key, derr)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return false, nil
		}
	}
	return false, nil
}

func (s *mysqlStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM acquisition_locks WHERE external_id = ?", key); err != nil {
		return fmt.Errorf("failed to delete lock %s: %w", key, err)
	}
	return nil
}

// Sweep removes lapsed lock rows left behind by crashed workers.
func (s *mysqlStore) Sweep(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM acquisition_locks WHERE expires_at < ?", time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired locks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
