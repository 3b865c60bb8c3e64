// Package sqlstore is the relational leaderboard backend. It runs on SQLite
// (modernc.org/sqlite) or PostgreSQL (pgx stdlib driver) with the same schema;
// every mutation is a single transaction and ranks come from ROW_NUMBER().
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Ftotnem/GO-TIMING/shared/leaderboard"
	"github.com/Ftotnem/GO-TIMING/shared/leaderboard/sqlstore/migrations"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver
)

// Dialect selects the SQL flavour.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Store implements leaderboard.Store over database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ leaderboard.Store = (*Store)(nil)

// OpenSQLite opens (or creates) a SQLite database file and applies migrations.
func OpenSQLite(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", leaderboard.ErrConfiguration)
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create sqlite dir: %w", leaderboard.ErrPersistence, err)
	}
	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	return Open(SQLite, dsn)
}

// OpenPostgres connects to PostgreSQL using a pgx connection string.
func OpenPostgres(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", leaderboard.ErrConfiguration)
	}
	return Open(Postgres, dsn)
}

// Open opens a database for the given dialect, pings it and applies migrations.
func Open(dialect Dialect, dsn string) (*Store, error) {
	var driver string
	switch dialect {
	case SQLite:
		driver = "sqlite"
	case Postgres:
		driver = "pgx"
	default:
		return nil, fmt.Errorf("%w: unknown sql dialect %q", leaderboard.ErrConfiguration, dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s db: %w", leaderboard.ErrPersistence, dialect, err)
	}
	if dialect == SQLite {
		// One writer at a time; queries inside a transaction must use the tx.
		db.SetMaxOpenConns(1)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping %s db: %w", leaderboard.ErrPersistence, dialect, err)
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.applyMigrations(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: run migrations: %w", leaderboard.ErrPersistence, err)
	}
	if err := s.backfillSortNames(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: backfill sort names: %w", leaderboard.ErrPersistence, err)
	}
	return s, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites '?' placeholders to '$n' for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// collate forces byte-wise ordering so both dialects break ties identically.
// SQLite's default BINARY collation already compares bytes.
func (s *Store) collate() string {
	if s.dialect == Postgres {
		return ` COLLATE "C"`
	}
	return ""
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", leaderboard.ErrPersistence, op, err)
}
