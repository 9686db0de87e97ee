// Package database opens the relational store shared by every domain
// package and applies the embedded schema migrations.
//
// Three drivers are supported and selected by URL scheme:
//
//	postgres://user@host/db     jackc/pgx (stdlib adapter)
//	sqlite:///var/lib/exemi.db  modernc.org/sqlite (pure Go)
//	sqlite3:///path or a path   mattn/go-sqlite3 (cgo)
//
// Queries are written with ? placeholders and passed through
// [DB.Rebind] so one statement serves every dialect.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	moderncsqlite "modernc.org/sqlite"

	"github.com/exemi-au/exemi/internal/database/migrations"
)

// Dialect identifies the SQL flavour behind a DB.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DB is a *sql.DB that knows its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
	logger  *slog.Logger
}

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type target struct {
	driver  string
	dsn     string
	dialect Dialect
}

func parseURL(url string) (target, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return target{driver: "pgx", dsn: url, dialect: DialectPostgres}, nil
	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		return target{
			driver:  "sqlite",
			dsn:     "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
			dialect: DialectSQLite,
		}, nil
	case strings.HasPrefix(url, "sqlite3://"), !strings.Contains(url, "://"):
		path := strings.TrimPrefix(url, "sqlite3://")
		if path == "" {
			return target{}, errors.New("empty sqlite path")
		}
		return target{
			driver:  "sqlite3",
			dsn:     "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL",
			dialect: DialectSQLite,
		}, nil
	default:
		return target{}, fmt.Errorf("unsupported database url %q", url)
	}
}

// Open connects to url and verifies the connection. It does not migrate.
func Open(ctx context.Context, url string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t, err := parseURL(url)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(t.driver, t.dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if t.dialect == DialectSQLite {
		// One writer at a time; the busy timeout covers the rest.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Debug("database opened", "driver", t.driver, "dialect", t.dialect)
	return &DB{DB: db, Dialect: t.dialect, logger: logger}, nil
}

// OpenAndMigrate opens url and brings the schema up to date.
func OpenAndMigrate(ctx context.Context, url string, logger *slog.Logger) (*DB, error) {
	db, err := Open(ctx, url, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// goose keeps its base FS, dialect and logger in package globals.
var gooseMu sync.Mutex

// Migrate applies all pending migrations for the DB's dialect.
func (db *DB) Migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{db.logger})

	dir := "sqlite"
	dialect := "sqlite3"
	if db.Dialect == DialectPostgres {
		dir = "postgres"
		dialect = "pgx"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return goose.UpContext(ctx, db.DB, dir)
}

// MigrationVersion returns the applied schema version.
func (db *DB) MigrationVersion(ctx context.Context) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	dialect := "sqlite3"
	if db.Dialect == DialectPostgres {
		dialect = "pgx"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, db.DB)
}

// Rebind rewrites ? placeholders to the dialect's form.
func (db *DB) Rebind(query string) string {
	return Rebind(db.Dialect, query)
}

// Rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL and
// returns query unchanged otherwise.
func Rebind(d Dialect, query string) string {
	if d != DialectPostgres || !strings.Contains(query, "?") {
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

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (db *DB) WithTx(ctx context.Context, fn func(tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// IsUniqueViolation reports whether err is a unique-constraint failure
// from any supported driver.
func IsUniqueViolation(err error) bool {
	var mattnErr sqlite3.Error
	if errors.As(err, &mattnErr) {
		return mattnErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			mattnErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var moderncErr *moderncsqlite.Error
	if errors.As(err, &moderncErr) {
		// SQLITE_CONSTRAINT_UNIQUE, SQLITE_CONSTRAINT_PRIMARYKEY
		return moderncErr.Code() == 2067 || moderncErr.Code() == 1555
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

type gooseLogger struct{ l *slog.Logger }

func (g gooseLogger) Printf(format string, v ...any) {
	g.l.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrate")
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	g.l.Error(msg, "component", "migrate")
	panic(msg)
}
