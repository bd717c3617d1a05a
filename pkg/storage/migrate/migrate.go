// Package migrate runs the datastore schema migrations.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver.
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver.

	"github.com/inkwell-hq/inkwell/assets"
	sqlitestore "github.com/inkwell-hq/inkwell/pkg/storage/sqlite"
)

// MigrationConfig contains the configuration needed for running migrations.
type MigrationConfig struct {
	Engine        string
	URI           string
	Username      string
	Password      string
	TargetVersion uint
	Timeout       time.Duration
	Verbose       bool
}

// RunMigrations applies the embedded goose migrations for the configured
// engine. A zero TargetVersion migrates to the latest; a lower version
// migrates down.
func RunMigrations(cfg MigrationConfig) error {
	ctx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var driver, uri, dir string
	switch cfg.Engine {
	case "memory":
		log.Println("no migrations to run for `memory` datastore")
		return nil
	case "postgres":
		driver, dir = "pgx", assets.PostgresMigrationDir
		parsed, err := url.Parse(cfg.URI)
		if err != nil {
			return fmt.Errorf("invalid datastore uri: %w", err)
		}
		if cfg.Username != "" || cfg.Password != "" {
			username := cfg.Username
			if username == "" && parsed.User != nil {
				username = parsed.User.Username()
			}
			password := cfg.Password
			if password == "" && parsed.User != nil {
				password, _ = parsed.User.Password()
			}
			parsed.User = url.UserPassword(username, password)
		}
		uri = parsed.String()
	case "sqlite":
		driver, dir = "sqlite", assets.SqliteMigrationDir
		var err error
		uri, err = sqlitestore.PrepareDSN(cfg.URI)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown datastore engine type: %s", cfg.Engine)
	}

	db, err := sql.Open(driver, uri)
	if err != nil {
		return fmt.Errorf("failed to open a connection to the datastore: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to the datastore: %w", err)
	}

	goose.SetLogger(goose.NopLogger())
	if cfg.Verbose {
		goose.SetLogger(log.Default())
	}
	goose.SetBaseFS(assets.EmbedMigrations)

	if err := goose.SetDialect(cfg.Engine); err != nil {
		return fmt.Errorf("failed to initialize the migrate command: %w", err)
	}

	currentVersion, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return err
	}

	if cfg.TargetVersion == 0 {
		log.Printf("running all migrations from current version %d", currentVersion)
		if err := goose.UpContext(ctx, db, dir); err != nil && !errors.Is(err, goose.ErrNoNextVersion) {
			return err
		}
		return nil
	}

	target := int64(cfg.TargetVersion)
	log.Printf("migrating from version %d to %d", currentVersion, target)
	if target < currentVersion {
		return goose.DownToContext(ctx, db, dir, target)
	}
	return goose.UpToContext(ctx, db, dir, target)
}
