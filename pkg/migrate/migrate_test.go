package migrate

import (
	"context"
	"database/sql"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"

	"github.com/partyconnect/engage-backend/pkg/config"
	"github.com/partyconnect/engage-backend/pkg/db/dbtest"
	"github.com/partyconnect/engage-backend/pkg/logger"
)

func TestValidateAcceptsShippedMigrations(t *testing.T) {
	require.NoError(t, ValidateDir(embeddedDir))
	require.NoError(t, ValidateEmbedded())
}

func TestEmbeddedMigrationsCoverOwnedTables(t *testing.T) {
	entries, err := fs.ReadDir(embedded, embeddedDir)
	require.NoError(t, err)

	var all strings.Builder
	for _, entry := range entries {
		b, err := fs.ReadFile(embedded, embeddedDir+"/"+entry.Name())
		require.NoError(t, err)
		all.Write(b)
	}
	sql := all.String()
	for _, table := range []string{"users", "activity_entries", "outbox_events", "outbox_dlq", "volunteers"} {
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("no migration creates %s", table)
		}
	}
	require.Contains(t, sql, "ux_activity_entries_dedup_key")
	require.Contains(t, sql, "chk_users_points_non_negative")
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_init.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644))

	err := ValidateDir(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid migration filename")
}

func TestValidateDirRejectsMissingDown(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260101000000_init.sql"), []byte("-- +goose Up\n"), 0o644))

	err := ValidateDir(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "-- +goose Down")
}

func TestValidateDirRejectsLedgerRewrites(t *testing.T) {
	for name, stmt := range map[string]string{
		"update":   "UPDATE activity_entries SET points = 0;",
		"delete":   "delete from activity_entries where id < 10;",
		"truncate": "TRUNCATE TABLE activity_entries;",
	} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			body := "-- +goose Up\n" + stmt + "\n-- +goose Down\n"
			require.NoError(t, os.WriteFile(filepath.Join(dir, "20260101000000_fix.sql"), []byte(body), 0o644))

			err := ValidateDir(dir)
			require.Error(t, err)
			require.Contains(t, err.Error(), "append-only")
		})
	}
}

func TestValidateDirAllowsLedgerChangesInDown(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\nCREATE INDEX idx ON activity_entries (user_id);\n-- +goose Down\nDELETE FROM activity_entries WHERE false;\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260101000000_idx.sql"), []byte(body), 0o644))
	require.NoError(t, ValidateDir(dir))
}

func TestCreateSQLMigrationBumpsPastLatest(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first, err := createSQLMigration(dir, "one", now)
	require.NoError(t, err)
	second, err := createSQLMigration(dir, "two", now)
	require.NoError(t, err)

	require.Equal(t, "20260301090000_one.sql", filepath.Base(first))
	require.Equal(t, "20260301090001_two.sql", filepath.Base(second))
	require.NoError(t, ValidateDir(dir))
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()

	path, err := CreateSQLMigration(dir, "Add Points Index!")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, "_add_points_index.sql"), path)
	require.NoError(t, ValidateDir(dir))

	_, err = CreateSQLMigration(dir, "  !!  ")
	require.Error(t, err)
}

func TestMaybeRunDevSkipsOutsideDev(t *testing.T) {
	cfg := &config.Config{
		App:          config.AppConfig{Env: "prod"},
		FeatureFlags: config.FeatureFlagsConfig{AutoMigrate: true},
	}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	require.NoError(t, MaybeRunDev(context.Background(), cfg, logg, nil))
}

func TestMaybeRunDevAutoMigratesSQLite(t *testing.T) {
	client := dbtest.Open(t)
	cfg := &config.Config{
		App:          config.AppConfig{Env: config.AppEnvDev},
		FeatureFlags: config.FeatureFlagsConfig{AutoMigrate: true},
	}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	require.NoError(t, MaybeRunDev(context.Background(), cfg, logg, client))
	require.True(t, client.DB().Migrator().HasTable("activity_entries"))
}

func scratchMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101000000_scratch.sql":      {Data: []byte("-- +goose Up\nCREATE TABLE scratch (id INTEGER PRIMARY KEY);\n-- +goose Down\nDROP TABLE scratch;\n")},
		"20260101000100_scratch_note.sql": {Data: []byte("-- +goose Up\nALTER TABLE scratch ADD COLUMN note TEXT;\n-- +goose Down\nALTER TABLE scratch DROP COLUMN note;\n")},
	}
}

func openScratchDB(t *testing.T) *sql.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "goose.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB
}

func TestMigratorUpStatusAndTo(t *testing.T) {
	ctx := context.Background()
	migrator, err := newMigrator(goose.DialectSQLite3, openScratchDB(t), scratchMigrations())
	require.NoError(t, err)

	applied, err := migrator.Up(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 2)
	require.Equal(t, int64(20260101000000), applied[0].Version)

	rows, err := migrator.Status(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		require.Equal(t, "applied", row.State, row.File)
	}

	rolled, err := migrator.To(ctx, 20260101000000)
	require.NoError(t, err)
	require.Len(t, rolled, 1)
	require.Equal(t, int64(20260101000100), rolled[0].Version)

	same, err := migrator.To(ctx, 20260101000000)
	require.NoError(t, err)
	require.Empty(t, same)
}

func TestMigratorRefusesLedgerRewrite(t *testing.T) {
	fsys := scratchMigrations()
	fsys["20260102000000_fix.sql"] = &fstest.MapFile{Data: []byte("-- +goose Up\nDELETE FROM activity_entries;\n-- +goose Down\n")}

	_, err := newMigrator(goose.DialectSQLite3, openScratchDB(t), fsys)
	require.ErrorContains(t, err, "append-only")
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("20260301090000")
	require.NoError(t, err)
	require.Equal(t, int64(20260301090000), v)

	for _, raw := range []string{"", "latest", "-1"} {
		_, err := ParseVersion(raw)
		require.Error(t, err, raw)
	}
}
