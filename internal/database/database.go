// Package database owns the PostgreSQL connection, pool settings, and
// the migration hook. Repositories receive the *sqlx.DB from here.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/S-Corkum/recall/pkg/observability"
)

// Common errors surfaced by the data layer.
var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicateKey  = errors.New("duplicate key violation")
	ErrInvalidConfig = errors.New("invalid database configuration: missing required fields")
)

const defaultSearchPath = "recall,public"

// Config holds connection and pool settings.
type Config struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	SearchPath      string        `mapstructure:"search_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`

	AutoMigrate          bool   `mapstructure:"auto_migrate"`
	MigrationsPath       string `mapstructure:"migrations_path"`
	FailOnMigrationError bool   `mapstructure:"fail_on_migration_error"`
}

// Database is the shared connection handle.
type Database struct {
	db     *sqlx.DB
	config Config
	logger observability.Logger
}

// NewDatabase connects, configures the pool, and optionally runs
// migrations.
func NewDatabase(ctx context.Context, cfg Config, logger observability.Logger) (*Database, error) {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if cfg.Driver == "" {
		cfg.Driver = "postgres"
	}

	dsn, err := BuildDSN(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("connecting to database", map[string]interface{}{
		"driver": cfg.Driver,
		"dsn":    sanitizeDSN(dsn),
	})

	db, err := sqlx.ConnectContext(ctx, cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 20
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	database := &Database{db: db, config: cfg, logger: logger}

	var searchPath string
	if err := db.QueryRowContext(ctx, "SHOW search_path").Scan(&searchPath); err == nil {
		if !strings.Contains(searchPath, "recall") {
			logger.Warn("search_path does not include the recall schema", map[string]interface{}{
				"search_path": searchPath,
			})
		}
	}

	if cfg.AutoMigrate {
		if err := database.Migrate(ctx); err != nil {
			if cfg.FailOnMigrationError {
				_ = db.Close()
				return nil, fmt.Errorf("database migration failed: %w", err)
			}
			logger.Warn("database migration had errors, continuing", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	return database, nil
}

// NewDatabaseWithDB wraps an existing connection, used by tests.
func NewDatabaseWithDB(db *sqlx.DB, cfg Config, logger observability.Logger) *Database {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	return &Database{db: db, config: cfg, logger: logger}
}

// BuildDSN assembles the connection string. An explicit DSN wins; the
// search_path is appended when missing so queries resolve the recall
// schema.
func BuildDSN(cfg Config) (string, error) {
	searchPath := cfg.SearchPath
	if searchPath == "" {
		searchPath = defaultSearchPath
	}

	if cfg.DSN != "" {
		dsn := cfg.DSN
		if !strings.Contains(dsn, "search_path") {
			if strings.Contains(dsn, "://") {
				if strings.Contains(dsn, "?") {
					dsn += "&search_path=" + searchPath
				} else {
					dsn += "?search_path=" + searchPath
				}
			} else {
				dsn += " search_path=" + searchPath
			}
		}
		return dsn, nil
	}

	if cfg.Host == "" || cfg.Database == "" || cfg.Username == "" {
		return "", ErrInvalidConfig
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s search_path=%s",
		cfg.Host, port, cfg.Username, cfg.Password, cfg.Database, sslMode, searchPath), nil
}

// sanitizeDSN masks credentials for logging.
func sanitizeDSN(dsn string) string {
	if strings.Contains(dsn, "password=") {
		parts := strings.Split(dsn, " ")
		sanitized := make([]string, 0, len(parts))
		for _, part := range parts {
			if strings.HasPrefix(part, "password=") {
				sanitized = append(sanitized, "password=***")
			} else {
				sanitized = append(sanitized, part)
			}
		}
		return strings.Join(sanitized, " ")
	}
	if idx := strings.Index(dsn, "://"); idx != -1 {
		if atIdx := strings.Index(dsn[idx:], "@"); atIdx != -1 {
			return dsn[:idx+3] + "***:***" + dsn[idx+atIdx:]
		}
	}
	return dsn
}

// DB exposes the underlying pool for repositories.
func (d *Database) DB() *sqlx.DB { return d.db }

// QueryTimeout is the per-statement deadline repositories apply.
func (d *Database) QueryTimeout() time.Duration { return d.config.QueryTimeout }

// Close closes the pool.
func (d *Database) Close() error { return d.db.Close() }

// Ping verifies connectivity.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// WithTx runs fn inside one transaction, rolling back on error or
// panic.
func (d *Database) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.Error("transaction rollback failed", map[string]interface{}{
				"error":          err.Error(),
				"rollback_error": rbErr.Error(),
			})
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a unique-constraint failure,
// optionally on a specific constraint name.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
