// Package migrate applies a module's SQL migrations
// (<root>/modules/<KEY>/migrations/*.sql, name order) and records each file's
// checksum in the module schema so an edited, already-applied file is caught
// instead of silently re-run.
package migrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CePCCo-Asesores/backend-universal/pkg/moduleid"
)

type FileResult struct {
	File   string `json:"file"`
	Status string `json:"status"`
	Millis int64  `json:"ms"`
}

type Result struct {
	Module  string       `json:"module"`
	Applied int          `json:"applied"`
	Skipped int          `json:"skipped"`
	Files   []FileResult `json:"files"`
}

type Runner struct {
	DB   *pgxpool.Pool
	Root string
}

func (r *Runner) Apply(ctx context.Context, module string) (Result, error) {
	key := moduleid.Sanitize(module)
	schema := moduleid.SchemaName(module)
	res := Result{Module: key, Files: []FileResult{}}

	dir := filepath.Join(r.Root, "modules", key, "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		// No migrations directory means nothing to do.
		if os.IsNotExist(err) {
			return res, nil
		}
		return res, err
	}

	if err := r.ensure(ctx, schema); err != nil {
		return res, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return res, err
		}
		sum := sha256.Sum256(raw)
		checksum := hex.EncodeToString(sum[:])

		var prev string
		err = r.DB.QueryRow(ctx,
			`SELECT checksum FROM `+schema+`.__migrations WHERE id=$1`, name).Scan(&prev)
		switch {
		case err == nil:
			if prev != checksum {
				return res, fmt.Errorf("checksum changed for %s/migrations/%s; rename the file instead of editing it", key, name)
			}
			res.Skipped++
			res.Files = append(res.Files, FileResult{File: name, Status: "skipped"})
			continue
		case err != pgx.ErrNoRows:
			return res, err
		}

		started := time.Now()
		if err := r.applyOne(ctx, schema, name, checksum, string(raw)); err != nil {
			return res, fmt.Errorf("applying %s: %w", name, err)
		}
		res.Applied++
		res.Files = append(res.Files, FileResult{File: name, Status: "applied", Millis: time.Since(started).Milliseconds()})
	}
	return res, nil
}

func (r *Runner) applyOne(ctx context.Context, schema, id, checksum, sql string) error {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, sql); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+schema+`.__migrations (id, checksum) VALUES ($1, $2)`, id, checksum); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Runner) ensure(ctx context.Context, schema string) error {
	if _, err := r.DB.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+schema); err != nil {
		return err
	}
	_, err := r.DB.Exec(ctx, `
CREATE TABLE IF NOT EXISTS `+schema+`.__migrations (
  id         TEXT PRIMARY KEY,
  checksum   TEXT NOT NULL,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`)
	return err
}
