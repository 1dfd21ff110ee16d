package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const defaultMigrationsPath = "migrations/sql"

// newMigrator builds a golang-migrate instance over the live pool.
func (d *Database) newMigrator() (*migrate.Migrate, error) {
	// The version table lives in public; the app schema does not exist
	// until the first migration runs.
	driver, err := postgres.WithInstance(d.db.DB, &postgres.Config{SchemaName: "public"})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	path := d.config.MigrationsPath
	if path == "" {
		path = defaultMigrationsPath
	}
	migrator, err := migrate.NewWithDatabaseInstance("file://"+path, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return migrator, nil
}

// Migrate applies all pending migrations. ErrNoChange is not an error.
func (d *Database) Migrate(ctx context.Context) error {
	migrator, err := d.newMigrator()
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		err := migrator.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			err = nil
		}
		done <- err
	}()

	select {
	case <-ctx.Done():
		migrator.GracefulStop <- true
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("migration up failed: %w", err)
		}
	}

	version, dirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	d.logger.Info("database migrations applied", map[string]interface{}{
		"version": version,
		"dirty":   dirty,
	})
	return nil
}

// MigrateDown rolls back the given number of migrations; steps <= 0
// rolls back everything.
func (d *Database) MigrateDown(ctx context.Context, steps int) error {
	migrator, err := d.newMigrator()
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		var err error
		if steps > 0 {
			err = migrator.Steps(-steps)
		} else {
			err = migrator.Down()
		}
		if errors.Is(err, migrate.ErrNoChange) {
			err = nil
		}
		done <- err
	}()

	select {
	case <-ctx.Done():
		migrator.GracefulStop <- true
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("migration down failed: %w", err)
		}
	}
	return nil
}

// MigrationVersion reports the current version and dirty flag. A fresh
// database reports version 0.
func (d *Database) MigrationVersion() (uint, bool, error) {
	migrator, err := d.newMigrator()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read migration version: %w", err)
	}
	return version, dirty, nil
}

// ForceMigrationVersion clears a dirty flag by forcing the version.
func (d *Database) ForceMigrationVersion(version int) error {
	migrator, err := d.newMigrator()
	if err != nil {
		return err
	}
	if err := migrator.Force(version); err != nil {
		return fmt.Errorf("failed to force migration version: %w", err)
	}
	return nil
}

// CreateMigration scaffolds an empty up/down pair using the next
// sequence number in dir. Returns the two paths written.
func CreateMigration(dir, name string) (string, string, error) {
	if strings.TrimSpace(name) == "" {
		return "", "", errors.New("migration name is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", fmt.Errorf("failed to read migrations directory: %w", err)
	}

	next := 1
	for _, entry := range entries {
		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		if n, err := strconv.Atoi(parts[0]); err == nil && n >= next {
			next = n + 1
		}
	}

	slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
	base := fmt.Sprintf("%04d_%s", next, slug)
	upPath := filepath.Join(dir, base+".up.sql")
	downPath := filepath.Join(dir, base+".down.sql")
	for _, path := range []string{upPath, downPath} {
		if err := os.WriteFile(path, []byte("-- "+slug+"\n"), 0o644); err != nil {
			return "", "", fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return upPath, downPath, nil
}

// WaitForDatabase pings until the database answers or the retry budget
// is exhausted. Startup in containers races the database coming up.
func WaitForDatabase(ctx context.Context, d *Database, attempts int, delay time.Duration) error {
	if attempts <= 0 {
		attempts = 10
	}
	if delay <= 0 {
		delay = time.Second
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if lastErr = d.Ping(ctx); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("database not reachable after %d attempts: %w", attempts, lastErr)
}
