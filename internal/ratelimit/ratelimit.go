// Package ratelimit counts requests per (key, ip) in one-minute windows
// backed by a Postgres counter table. The limiter fails open: if its own
// storage errors, the request is allowed and the error logged, so a limiter
// outage never becomes an API outage.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store increments and returns the counter for a key within a window.
type Store interface {
	Increment(ctx context.Context, key string, windowStart time.Time) (int, error)
}

type Limiter struct {
	store Store
	limit int
	log   *zap.Logger
}

// New builds a limiter allowing limitPerMin requests per key+ip per minute.
// limitPerMin <= 0 disables limiting.
func New(store Store, limitPerMin int, log *zap.Logger) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{store: store, limit: limitPerMin, log: log}
}

// Allow records one hit for (key, ip) in the current minute window and
// reports whether the caller is within the limit.
func (l *Limiter) Allow(ctx context.Context, key, ip string) bool {
	if l.limit <= 0 {
		return true
	}
	window := time.Now().UTC().Truncate(time.Minute)
	count, err := l.store.Increment(ctx, key+"|"+ip, window)
	if err != nil {
		l.log.Warn("rate limiter storage error, allowing request",
			zap.String("key", key), zap.Error(err))
		return true
	}
	return count <= l.limit
}

// PGStore keeps counters in core.rate_limits with an atomic
// insert-on-conflict-increment, safe under concurrent requests for the same
// window.
type PGStore struct {
	db   *pgxpool.Pool
	once sync.Once
}

func NewPGStore(db *pgxpool.Pool) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Increment(ctx context.Context, key string, windowStart time.Time) (int, error) {
	var ensureErr error
	s.once.Do(func() { ensureErr = s.ensure(ctx) })
	if ensureErr != nil {
		return 0, ensureErr
	}
	var count int
	err := s.db.QueryRow(ctx, `
INSERT INTO core.rate_limits (rl_key, window_start, count)
VALUES ($1, $2, 1)
ON CONFLICT (rl_key, window_start)
DO UPDATE SET count = core.rate_limits.count + 1
RETURNING count
`, key, windowStart).Scan(&count)
	return count, err
}

func (s *PGStore) ensure(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS core`); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS core.rate_limits (
  rl_key       TEXT NOT NULL,
  window_start TIMESTAMPTZ NOT NULL,
  count        INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (rl_key, window_start)
)`); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `DELETE FROM core.rate_limits WHERE window_start < now() - interval '24 hours'`)
	return err
}
