// Package migrate applies versioned SQL files from disk, tracking what ran in
// bookkeeping tables so up and seed are idempotent.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	migrationsTable = "schema_migrations"
	seedsTable      = "schema_seeds"
)

// Runner executes .up.sql/.down.sql migration pairs and one-shot seed files.
type Runner struct {
	db            *sql.DB
	migrationsDir string
	seedsDir      string
}

func NewRunner(db *sql.DB, migrationsDir, seedsDir string) *Runner {
	return &Runner{db: db, migrationsDir: migrationsDir, seedsDir: seedsDir}
}

// Up applies every pending migration in lexical order.
func (r *Runner) Up(ctx context.Context) error {
	if err := r.ensureTables(ctx); err != nil {
		return err
	}
	applied, err := r.applied(ctx, migrationsTable)
	if err != nil {
		return err
	}
	names, err := listSQL(r.migrationsDir, ".up.sql")
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}
	for _, name := range names {
		if done[name] {
			continue
		}
		if err := r.execFile(ctx, filepath.Join(r.migrationsDir, name)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if err := r.record(ctx, migrationsTable, name); err != nil {
			return err
		}
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (r *Runner) Down(ctx context.Context) error {
	if err := r.ensureTables(ctx); err != nil {
		return err
	}
	applied, err := r.applied(ctx, migrationsTable)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return errors.New("nothing to roll back")
	}
	last := applied[len(applied)-1]
	down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	path := filepath.Join(r.migrationsDir, down)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("missing %s", down)
	}
	if err := r.execFile(ctx, path); err != nil {
		return fmt.Errorf("roll back %s: %w", last, err)
	}
	_, err = r.db.ExecContext(ctx,
		fmt.Sprintf(`delete from %s where name = $1`, migrationsTable), last)
	return err
}

// Status lists applied migrations in order.
func (r *Runner) Status(ctx context.Context) ([]string, error) {
	if err := r.ensureTables(ctx); err != nil {
		return nil, err
	}
	return r.applied(ctx, migrationsTable)
}

// Seed runs each seed file at most once.
func (r *Runner) Seed(ctx context.Context) error {
	if err := r.ensureTables(ctx); err != nil {
		return err
	}
	applied, err := r.applied(ctx, seedsTable)
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}
	names, err := listSQL(r.seedsDir, ".sql")
	if err != nil {
		return err
	}
	for _, name := range names {
		if done[name] {
			continue
		}
		if err := r.execFile(ctx, filepath.Join(r.seedsDir, name)); err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
		if err := r.record(ctx, seedsTable, name); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) ensureTables(ctx context.Context) error {
	for _, table := range []string{migrationsTable, seedsTable} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, table)
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// execFile runs every statement of one file inside a single transaction.
func (r *Runner) execFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range splitStatements(string(raw)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Runner) record(ctx context.Context, table, name string) error {
	_, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table),
		name, time.Now().UTC())
	return err
}

func (r *Runner) applied(ctx context.Context, table string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`select name from %s order by applied_at, name`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func listSQL(dir, suffix string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements cuts on semicolons outside single-quoted strings. Enough for
// plain DDL; no dollar-quoting support.
func splitStatements(sql string) []string {
	var out []string
	var cur strings.Builder
	inString := false
	for _, r := range sql {
		cur.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				out = append(out, cur.String())
				cur.Reset()
			}
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		out = append(out, cur.String())
	}
	return out
}
