package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/S-Corkum/recall/internal/config"
	"github.com/S-Corkum/recall/internal/database"
	"github.com/S-Corkum/recall/pkg/observability"
)

var (
	// Command flags
	createFlag  = flag.Bool("create", false, "Create a new migration")
	upFlag      = flag.Bool("up", false, "Run migrations up")
	downFlag    = flag.Bool("down", false, "Roll back migrations")
	versionFlag = flag.Bool("version", false, "Show current migration version")
	forceFlag   = flag.Int("force", -1, "Force migration version (clears a dirty flag)")

	// Global flags
	dsn           = flag.String("dsn", "", "Database connection string (defaults to the loaded configuration)")
	migrationsDir = flag.String("dir", "", "Migrations directory (defaults to the configured path)")
	migrationName = flag.String("name", "", "Migration name (used with -create)")
	steps         = flag.Int("steps", 0, "Number of migrations to roll back with -down (0 = all)")
	timeout       = flag.Duration("timeout", time.Minute, "Migration timeout")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	dir := *migrationsDir
	if dir == "" {
		dir = cfg.Database.MigrationsPath
	}
	if dir == "" {
		dir = "migrations/sql"
	}

	// Creating a migration needs no database connection.
	if *createFlag {
		if *migrationName == "" {
			fmt.Println("Error: -name is required when using -create")
			flag.Usage()
			os.Exit(1)
		}
		up, down, err := database.CreateMigration(dir, *migrationName)
		if err != nil {
			log.Fatalf("Failed to create migration: %v", err)
		}
		fmt.Printf("Created %s\nCreated %s\n", up, down)
		return
	}

	dbCfg := cfg.Database
	dbCfg.AutoMigrate = false
	dbCfg.MigrationsPath = dir
	if *dsn != "" {
		dbCfg.DSN = *dsn
	}
	if dbCfg.DSN == "" && dbCfg.Host == "" {
		fmt.Println("Error: provide -dsn or configure the database connection")
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Received termination signal, canceling...")
		cancel()
	}()

	logger := observability.NewLoggerFromConfig("migrate", cfg.Observability.Logging)
	db, err := database.NewDatabase(ctx, dbCfg, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	switch {
	case *versionFlag:
		version, dirty, err := db.MigrationVersion()
		if err != nil {
			log.Fatalf("Failed to get migration version: %v", err)
		}
		fmt.Printf("Current migration version: %d (dirty: %t)\n", version, dirty)

	case *forceFlag >= 0:
		if err := db.ForceMigrationVersion(*forceFlag); err != nil {
			log.Fatalf("Failed to force version: %v", err)
		}
		fmt.Printf("Migration version forced to %d\n", *forceFlag)

	case *upFlag:
		fmt.Println("Running migrations...")
		start := time.Now()
		if err := db.Migrate(ctx); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		fmt.Printf("Migrations completed in %s\n", time.Since(start))

	case *downFlag:
		if *steps > 0 {
			fmt.Printf("Rolling back %d migration(s)...\n", *steps)
		} else {
			fmt.Println("Rolling back all migrations...")
		}
		if err := db.MigrateDown(ctx, *steps); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		fmt.Println("Rollback completed")

	default:
		flag.Usage()
	}
}
