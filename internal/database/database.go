// Package database opens the SQL store and applies the embedded schema.
package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

//go:embed migrations
var migrations embed.FS

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty dsn for driver %s", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	switch driver {
	case DriverSQLite:
		// One writer at a time; also keeps ":memory:" on a single shared connection.
		db.SetMaxOpenConns(1)
	case DriverPostgres:
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	default:
		_ = db.Close()
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Apply executes every embedded migration for the database dialect in file order.
// Statements are idempotent, so Apply runs on every start.
func Apply(ctx context.Context, db *sqlx.DB) error {
	dir := path.Join("migrations", db.DriverName())
	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return fmt.Errorf("no migrations for driver %s: %w", db.DriverName(), err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := fs.ReadFile(migrations, path.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		for _, stmt := range splitStatements(string(body)) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", name, err)
			}
		}
	}
	return nil
}

func splitStatements(body string) []string {
	var out []string
	for _, part := range strings.Split(body, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
