package main

import (
	"errors"
	"flag"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"

	"github.com/storefront/pricing-service/config"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		logger.Error().Msg("usage: migrate <up|down|version>")
		os.Exit(1)
	}

	databaseURL := config.GetDatabaseURL()
	if databaseURL == "" {
		logger.Error().Msg("DATABASE_URL environment variable is required")
		os.Exit(1)
	}

	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "file://migrations"
	}

	m, err := migrate.New(migrationsPath, databaseURL)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create migrate instance")
		os.Exit(1)
	}
	defer func() { _, _ = m.Close() }()

	switch command := args[0]; command {
	case "up":
		err = m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info().Msg("no pending migrations")
			return
		}
		if err != nil {
			logger.Error().Err(err).Msg("migration up failed")
			os.Exit(1)
		}
		logger.Info().Msg("migrations applied successfully")

	case "down":
		err = m.Steps(-1)
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info().Msg("no migrations to rollback")
			return
		}
		if err != nil {
			logger.Error().Err(err).Msg("migration down failed")
			os.Exit(1)
		}
		logger.Info().Msg("migration rolled back successfully")

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info().Msg("no migrations applied yet")
			return
		}
		if err != nil {
			logger.Error().Err(err).Msg("failed to get version")
			os.Exit(1)
		}
		logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("current migration version")

	default:
		logger.Error().Str("command", command).Msg("unknown command")
		os.Exit(1)
	}
}
