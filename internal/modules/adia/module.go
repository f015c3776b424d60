// Package adia implements the ADIA_V1 module: user registration and a
// contexto-driven generation action, persisted in the module's own schema.
package adia

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CePCCo-Asesores/backend-universal/pkg/authn"
	"github.com/CePCCo-Asesores/backend-universal/pkg/faults"
	"github.com/CePCCo-Asesores/backend-universal/pkg/moduleid"
)

const ModuleName = "ADIA_V1"

type Module struct {
	db     *pgxpool.Pool
	schema string
	once   sync.Once
}

func New(db *pgxpool.Pool) *Module {
	return &Module{db: db, schema: moduleid.SchemaName(ModuleName)}
}

func (m *Module) Run(ctx context.Context, payload map[string]any, user authn.User) (map[string]any, error) {
	if err := m.ensure(ctx); err != nil {
		return nil, faults.Internalf(err, "no se pudo preparar el esquema")
	}
	action, _ := payload["action"].(string)
	switch action {
	case "register":
		return m.register(ctx, payload)
	case "generate", "generar":
		return m.generate(ctx, payload, user)
	}
	return nil, faults.Validationf("action no soportada: %q", action)
}

func (m *Module) register(ctx context.Context, payload map[string]any) (map[string]any, error) {
	email, _ := payload["email"].(string)
	if strings.TrimSpace(email) == "" {
		return nil, faults.Validationf("email requerido")
	}
	name, _ := payload["name"].(string)
	_, err := m.db.Exec(ctx, `
INSERT INTO `+m.schema+`.users (email, name)
VALUES ($1, NULLIF($2, ''))
ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name`, email, name)
	if err != nil {
		return nil, faults.Internalf(err, "no se pudo registrar el usuario")
	}
	return map[string]any{"email": email}, nil
}

func (m *Module) generate(ctx context.Context, payload map[string]any, user authn.User) (map[string]any, error) {
	contexto, ok := payload["contexto"]
	if !ok || isBlank(contexto) {
		return nil, faults.Validationf("falta parámetro requerido: contexto")
	}
	email := user.Email
	if email == "" {
		email = "anon@local"
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, faults.Internalf(err, "payload no serializable")
	}
	var id string
	err = m.db.QueryRow(ctx, `
INSERT INTO `+m.schema+`.activations (email, input) VALUES ($1, $2::jsonb) RETURNING id`,
		email, string(b)).Scan(&id)
	if err != nil {
		return nil, faults.Internalf(err, "no se pudo persistir la activación")
	}
	return map[string]any{
		"accion":        "generar",
		"activation_id": id,
		"contexto":      contexto,
		"generado_en":   time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (m *Module) ensure(ctx context.Context) error {
	var err error
	m.once.Do(func() {
		stmts := []string{
			`CREATE SCHEMA IF NOT EXISTS ` + m.schema,
			`CREATE TABLE IF NOT EXISTS ` + m.schema + `.users (
  id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  email      TEXT UNIQUE NOT NULL,
  name       TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
			`CREATE TABLE IF NOT EXISTS ` + m.schema + `.activations (
  id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  email      TEXT NOT NULL,
  input      JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		}
		for _, stmt := range stmts {
			if _, err = m.db.Exec(ctx, stmt); err != nil {
				return
			}
		}
	})
	return err
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}
