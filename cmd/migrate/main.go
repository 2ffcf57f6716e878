package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/partyconnect/engage-backend/pkg/config"
	"github.com/partyconnect/engage-backend/pkg/db"
	"github.com/partyconnect/engage-backend/pkg/logger"
	"github.com/partyconnect/engage-backend/pkg/migrate"
)

type options struct {
	cmd      string
	dir      string
	name     string
	version  string
	embedded bool
}

func main() {
	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "migration command: up|down|status|version|create|validate")
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.BoolVar(&opts.embedded, "embedded", false, "use the migrations compiled into this binary")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	if err := run(context.Background(), logg, opts); err != nil {
		logg.Error(context.Background(), "migrate failed", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logg *logger.Logger, opts options) error {
	// create and validate work on files only and need no config
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return errors.New("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil
	case "validate":
		validate := func() error { return migrate.ValidateDir(opts.dir) }
		if opts.embedded {
			validate = migrate.ValidateEmbedded
		}
		if err := validate(); err != nil {
			return fmt.Errorf("migration validation failed: %w", err)
		}
		fmt.Println("migration validation passed")
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.FeatureFlags.UseSQLite {
		return errors.New("goose migrations target postgres; sqlite databases are auto-migrated at startup")
	}

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"cmd":      opts.cmd,
		"dir":      opts.dir,
		"embedded": opts.embedded,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("extract sql.DB: %w", err)
	}

	migrator, err := openMigrator(sqlDB, opts)
	if err != nil {
		return err
	}

	logg.Info(ctx, "migrate ready")
	var applied []migrate.Result
	switch opts.cmd {
	case "up":
		applied, err = migrator.Up(ctx)
	case "down":
		applied, err = migrator.Down(ctx)
	case "version":
		target, perr := migrate.ParseVersion(opts.version)
		if perr != nil {
			return perr
		}
		applied, err = migrator.To(ctx, target)
	case "status":
		rows, serr := migrator.Status(ctx)
		if serr != nil {
			return serr
		}
		for _, row := range rows {
			fmt.Printf("%-14d %-10s %s\n", row.Version, row.State, row.File)
		}
		return nil
	default:
		return fmt.Errorf("unknown -cmd value %q", opts.cmd)
	}
	for _, res := range applied {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"version":     res.Version,
			"file":        res.File,
			"duration_ms": res.Duration.Milliseconds(),
		}), "migration "+opts.cmd)
	}
	return err
}

func openMigrator(sqlDB *sql.DB, opts options) (*migrate.Migrator, error) {
	if opts.embedded {
		return migrate.NewEmbedded(sqlDB)
	}
	return migrate.NewFromDir(sqlDB, opts.dir)
}
