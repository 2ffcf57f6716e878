// Package migrate applies the goose schema migrations. Every run validates
// the migration set first, so a file that rewrites ledger rows never reaches
// the database.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/pressly/goose/v3"
)

const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

const embeddedDir = "migrations"

// Result reports one migration that was applied or rolled back.
type Result struct {
	Version  int64
	File     string
	Duration time.Duration
}

// Status is one row of the status command.
type Status struct {
	Version   int64
	File      string
	State     string
	AppliedAt time.Time
}

// Migrator runs migrations from a single source directory.
type Migrator struct {
	provider *goose.Provider
}

// NewEmbedded returns a Migrator over the migrations compiled into the binary.
func NewEmbedded(db *sql.DB) (*Migrator, error) {
	fsys, err := fs.Sub(embedded, embeddedDir)
	if err != nil {
		return nil, fmt.Errorf("embedded migrations: %w", err)
	}
	return newMigrator(goose.DialectPostgres, db, fsys)
}

// NewFromDir returns a Migrator over the migration files in dir.
func NewFromDir(db *sql.DB, dir string) (*Migrator, error) {
	if dir == "" {
		return nil, errors.New("dir is required")
	}
	return newMigrator(goose.DialectPostgres, db, os.DirFS(dir))
}

func newMigrator(dialect goose.Dialect, db *sql.DB, fsys fs.FS) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if err := ValidateFS(fsys, "."); err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Migrator{provider: provider}, nil
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) ([]Result, error) {
	applied, err := m.provider.Up(ctx)
	if err != nil {
		return results(applied), fmt.Errorf("goose up: %w", err)
	}
	return results(applied), nil
}

// Down rolls back the most recent migration.
func (m *Migrator) Down(ctx context.Context) ([]Result, error) {
	res, err := m.provider.Down(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose down: %w", err)
	}
	return results([]*goose.MigrationResult{res}), nil
}

// To moves the schema up or down until version is the newest one applied.
func (m *Migrator) To(ctx context.Context, version int64) ([]Result, error) {
	current, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("read db version: %w", err)
	}
	var moved []*goose.MigrationResult
	switch {
	case current < version:
		moved, err = m.provider.UpTo(ctx, version)
	case current > version:
		moved, err = m.provider.DownTo(ctx, version)
	}
	if err != nil {
		return results(moved), fmt.Errorf("goose to %d: %w", version, err)
	}
	return results(moved), nil
}

// Status lists every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Status, error) {
	rows, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose status: %w", err)
	}
	out := make([]Status, 0, len(rows))
	for _, row := range rows {
		out = append(out, Status{
			Version:   row.Source.Version,
			File:      row.Source.Path,
			State:     string(row.State),
			AppliedAt: row.AppliedAt,
		})
	}
	return out, nil
}

func results(in []*goose.MigrationResult) []Result {
	out := make([]Result, 0, len(in))
	for _, res := range in {
		if res == nil || res.Source == nil {
			continue
		}
		out = append(out, Result{Version: res.Source.Version, File: res.Source.Path, Duration: res.Duration})
	}
	return out
}

// ParseVersion reads a YYYYMMDDHHMMSS migration version. Zero means "before
// the first migration".
func ParseVersion(raw string) (int64, error) {
	if raw == "" {
		return 0, errors.New("version is required")
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || version < 0 {
		return 0, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", raw)
	}
	return version, nil
}
