package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chunkmail/internal/db/migrations"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

var (
	ErrNotFound          = errors.New("store: record not found")
	ErrInvalidTransition = errors.New("store: status transition not allowed")
)

// DB wraps a *sql.DB together with the driver it was opened with, so queries
// can be written once with '?' placeholders.
type DB struct {
	*sql.DB
	driver string
}

// Open connects to the database and applies pending migrations.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	db, err := Connect(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}

	m, err := db.Migrator()
	if err == nil {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Connect opens and verifies a connection without touching the schema.
func Connect(ctx context.Context, driver, dsn string) (*DB, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// One writer at a time prevents SQLITE_BUSY under concurrent requests
		// and keeps ":memory:" databases on a single connection.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	return &DB{DB: sqlDB, driver: driver}, nil
}

// Ping implements the health check contract.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Migrator returns a migrate instance bound to this connection and the
// embedded migrations for its dialect. Closing it closes the connection.
func (db *DB) Migrator() (*migrate.Migrate, error) {
	var (
		dir      string
		dbDriver database.Driver
		err      error
	)

	switch db.driver {
	case DriverSQLite:
		dir = "sqlite"
		dbDriver, err = sqlite.WithInstance(db.DB, &sqlite.Config{})
	default:
		dir = "postgres"
		dbDriver, err = migratepgx.WithInstance(db.DB, &migratepgx.Config{})
	}
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.FS, dir)
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	return migrate.NewWithInstance("iofs", sourceDriver, db.driver, dbDriver)
}

// rebind rewrites '?' placeholders to the positional form postgres expects.
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
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
