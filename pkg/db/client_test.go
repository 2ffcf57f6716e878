package db

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/partyconnect/engage-backend/pkg/config"
)

type testModel struct {
	ID   int
	Name string `gorm:"uniqueIndex"`
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), GormConfig())
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := conn.AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	db := newTestDB(t)
	client := Wrap(db)

	ctx := context.Background()
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{Name: "committed"}).Error
	}); err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed after rollback: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected rollback to leave 1 record, got %d", count)
	}
}

func TestUniqueViolationIsDetected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.WithContext(ctx).Create(&testModel{Name: "dup"}).Error; err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := db.WithContext(ctx).Create(&testModel{Name: "dup"}).Error
	if err == nil {
		t.Fatal("expected duplicate insert to fail")
	}
	if !IsUniqueViolation(err, "") {
		t.Fatalf("expected unique violation, got %v", err)
	}
	if IsUniqueViolation(errors.New("connection reset"), "") {
		t.Fatal("plain errors are not unique violations")
	}
}

func TestPing(t *testing.T) {
	client := Wrap(newTestDB(t))
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

func TestDialectorForRejectsUnknownDriver(t *testing.T) {
	if _, err := dialectorFor("mysql", config.DBConfig{Driver: "mysql"}); err == nil {
		t.Fatal("expected unsupported driver error")
	}
	if _, err := dialectorFor(DriverPostgres, config.DBConfig{}); err == nil {
		t.Fatal("expected missing DSN error")
	}
	if _, err := dialectorFor(DriverSQLite, config.DBConfig{SQLitePath: "test.db"}); err != nil {
		t.Fatalf("unexpected sqlite error: %v", err)
	}
}

func TestDriverNameDefaultsToPostgres(t *testing.T) {
	if got := driverName(config.DBConfig{}); got != DriverPostgres {
		t.Fatalf("expected postgres default, got %q", got)
	}
	if got := driverName(config.DBConfig{Driver: " SQLite "}); got != DriverSQLite {
		t.Fatalf("expected normalized sqlite, got %q", got)
	}
}

func TestSQLiteDSNKeepsExplicitQuery(t *testing.T) {
	if got := sqliteDSN("engage.db"); got != "engage.db?_busy_timeout=5000&_foreign_keys=on" {
		t.Fatalf("unexpected dsn %q", got)
	}
	if got := sqliteDSN("file:x?mode=memory"); got != "file:x?mode=memory" {
		t.Fatalf("explicit query should be kept, got %q", got)
	}
}

func TestNewOpensAndPingsSQLite(t *testing.T) {
	client, err := New(context.Background(), config.DBConfig{
		Driver:     DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "engage.db"),
	}, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestWithTxRetriesConflicts(t *testing.T) {
	client := Wrap(newTestDB(t))
	conflict := &pgconn.PgError{Code: pgSerializationFailure}

	attempts := 0
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		attempts++
		if attempts < 2 {
			return conflict
		}
		return tx.Create(&testModel{Name: "retried"}).Error
	})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}

	attempts = 0
	err = client.WithTx(context.Background(), func(*gorm.DB) error {
		attempts++
		return conflict
	})
	if !errors.Is(err, conflict) || attempts != maxTxAttempts {
		t.Fatalf("expected %d attempts ending in conflict, got %d: %v", maxTxAttempts, attempts, err)
	}

	attempts = 0
	_ = client.WithTx(context.Background(), func(*gorm.DB) error {
		attempts++
		return errors.New("validation")
	})
	if attempts != 1 {
		t.Fatalf("ordinary errors must not retry, ran %d times", attempts)
	}
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	db := newTestDB(t)
	client := Wrap(db)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			if err := tx.Create(&testModel{Name: "panicked"}).Error; err != nil {
				return err
			}
			panic("boom")
		})
	}()

	var count int64
	if err := db.Model(&testModel{}).Where("name = ?", "panicked").Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected panic to roll back, found %d rows", count)
	}
}

func TestIsTxConflict(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":           {nil, false},
		"serialization": {fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40001"}), true},
		"deadlock":      {&pgconn.PgError{Code: "40P01"}, true},
		"unique":        {&pgconn.PgError{Code: "23505"}, false},
		"plain":         {errors.New("timeout"), false},
	}
	for name, tc := range cases {
		if got := IsTxConflict(tc.err); got != tc.want {
			t.Fatalf("%s: IsTxConflict = %v, want %v", name, got, tc.want)
		}
	}
}
