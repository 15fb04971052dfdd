package pg

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"equiptrack.org/internal/directory"
	"equiptrack.org/internal/inventory"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store implements inventory.Service and directory.Store over Postgres.
// Invariant checks run inside transactions so check-then-write cannot race;
// partial unique indexes back the open-sign-out rule as a second line.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres through the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection. Used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// --- helpers ---

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapInventoryErr translates constraint violations into the service sentinels.
func mapInventoryErr(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", inventory.ErrConflict, pgErr.ConstraintName)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s", inventory.ErrInvalidInput, pgErr.ConstraintName)
		}
	}
	return err
}

func mapDirectoryErr(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", directory.ErrConflict, pgErr.ConstraintName)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s", directory.ErrInvalidInput, pgErr.ConstraintName)
		}
	}
	return err
}

func nullIfEmpty(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
