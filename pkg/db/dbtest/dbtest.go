// Package dbtest opens throwaway databases for repository tests.
package dbtest

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/partyconnect/engage-backend/pkg/db"
	"github.com/partyconnect/engage-backend/pkg/db/models"
)

// EnvPostgresDSN points OpenPostgres at a disposable database.
const EnvPostgresDSN = "ENGAGE_TEST_DB_DSN"

// Open returns a client over a private in-memory SQLite database with every
// table migrated. The pool is pinned to one connection so concurrent callers
// queue instead of tripping over SQLite table locks.
func Open(t testing.TB) *db.Client {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	conn, err := gorm.Open(sqlite.Open(dsn), db.GormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return db.Wrap(conn)
}

// OpenPostgres connects to the database named by EnvPostgresDSN, skipping the
// test when it is unset.
func OpenPostgres(t testing.TB) *db.Client {
	t.Helper()

	dsn := os.Getenv(EnvPostgresDSN)
	if dsn == "" {
		t.Skipf("%s is not set", EnvPostgresDSN)
	}
	conn, err := gorm.Open(postgres.Open(dsn), db.GormConfig())
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate postgres: %v", err)
	}
	client := db.Wrap(conn)
	t.Cleanup(func() { _ = client.Close() })
	return client
}
