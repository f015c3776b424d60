// Package users persists user records: the core table fed by Google sign-in
// and the per-module user tables created on demand.
package users

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db   *pgxpool.Pool
	once sync.Once
}

func NewStore(db *pgxpool.Pool) *Store { return &Store{db: db} }

// UpsertCore records a signed-in user in core.users.
func (s *Store) UpsertCore(ctx context.Context, email, name, googleSub string) error {
	if err := s.ensureCore(ctx); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO core.users (email, name, google_sub)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
ON CONFLICT (email) DO UPDATE SET
  name = COALESCE(EXCLUDED.name, core.users.name),
  google_sub = COALESCE(EXCLUDED.google_sub, core.users.google_sub),
  updated_at = now()`, email, name, googleSub)
	return err
}

// UpsertModuleUser registers a user under a module's own schema, creating the
// schema and table when missing. schema must already be sanitized.
func (s *Store) UpsertModuleUser(ctx context.Context, schema, email, name string) error {
	if _, err := s.db.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+schema); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS `+schema+`.users (
  id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  email      TEXT UNIQUE NOT NULL,
  name       TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO `+schema+`.users (email, name)
VALUES ($1, NULLIF($2, ''))
ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name`, email, name)
	return err
}

func (s *Store) ensureCore(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		if _, err = s.db.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS core`); err != nil {
			return
		}
		_, err = s.db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS core.users (
  id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  email      TEXT UNIQUE NOT NULL,
  name       TEXT,
  google_sub TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`)
	})
	return err
}
