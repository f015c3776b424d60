package neuroplan

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CePCCo-Asesores/backend-universal/pkg/moduleid"
)

var ErrSessionNotFound = errors.New("session not found")

type Session struct {
	ID        string
	Email     string
	Step      Step
	Data      map[string]any
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the module's persistence surface. Sessions are retained after
// generation for audit; plans are write-once.
type Store interface {
	CreateSession(ctx context.Context, email string) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	// UpdateSession writes step/data only when the stored version still
	// matches; it reports false on a version conflict.
	UpdateSession(ctx context.Context, id string, step Step, data map[string]any, version int) (bool, error)
	InsertPlan(ctx context.Context, email string, input, plan map[string]any) (string, error)
}

// PGStore keeps sessions and plans in the module's own schema, created on
// demand the way every module here owns its DDL.
type PGStore struct {
	db     *pgxpool.Pool
	schema string
	once   sync.Once
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db, schema: moduleid.SchemaName(ModuleName)}
}

func (s *PGStore) ensure(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		stmts := []string{
			`CREATE SCHEMA IF NOT EXISTS ` + s.schema,
			`CREATE TABLE IF NOT EXISTS ` + s.schema + `.sessions (
  id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  email      TEXT NOT NULL,
  step       INTEGER NOT NULL DEFAULT 0,
  data       JSONB NOT NULL DEFAULT '{}'::jsonb,
  version    INTEGER NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
			`CREATE TABLE IF NOT EXISTS ` + s.schema + `.plans (
  id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  email      TEXT NOT NULL,
  input      JSONB NOT NULL,
  plan       JSONB NOT NULL,
  status     TEXT NOT NULL DEFAULT 'generated',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		}
		for _, stmt := range stmts {
			if _, err = s.db.Exec(ctx, stmt); err != nil {
				return
			}
		}
	})
	return err
}

func (s *PGStore) CreateSession(ctx context.Context, email string) (Session, error) {
	if err := s.ensure(ctx); err != nil {
		return Session{}, err
	}
	sess := Session{Email: email, Step: StepNone, Data: map[string]any{}}
	err := s.db.QueryRow(ctx,
		`INSERT INTO `+s.schema+`.sessions (email) VALUES ($1) RETURNING id, version, created_at, updated_at`,
		email).Scan(&sess.ID, &sess.Version, &sess.CreatedAt, &sess.UpdatedAt)
	return sess, err
}

func (s *PGStore) GetSession(ctx context.Context, id string) (Session, error) {
	if err := s.ensure(ctx); err != nil {
		return Session{}, err
	}
	var sess Session
	var step int
	var data []byte
	err := s.db.QueryRow(ctx,
		`SELECT id, email, step, data, version, created_at, updated_at FROM `+s.schema+`.sessions WHERE id=$1`,
		id).Scan(&sess.ID, &sess.Email, &step, &data, &sess.Version, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	sess.Step = Step(step)
	if json.Unmarshal(data, &sess.Data) != nil || sess.Data == nil {
		sess.Data = map[string]any{}
	}
	return sess, nil
}

func (s *PGStore) UpdateSession(ctx context.Context, id string, step Step, data map[string]any, version int) (bool, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx, `
UPDATE `+s.schema+`.sessions
SET step=$1, data=$2::jsonb, version=version+1, updated_at=now()
WHERE id=$3 AND version=$4`,
		step.Wire(), string(b), id, version)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) InsertPlan(ctx context.Context, email string, input, plan map[string]any) (string, error) {
	if err := s.ensure(ctx); err != nil {
		return "", err
	}
	ib, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	pb, err := json.Marshal(plan)
	if err != nil {
		return "", err
	}
	var id string
	err = s.db.QueryRow(ctx,
		`INSERT INTO `+s.schema+`.plans (email, input, plan) VALUES ($1, $2::jsonb, $3::jsonb) RETURNING id`,
		email, string(ib), string(pb)).Scan(&id)
	return id, err
}
