package main

import (
	"context"
	"os"

	"github.com/Rrens/agent-bridge/internal/config"
	"github.com/Rrens/agent-bridge/internal/repository"
	"github.com/Rrens/agent-bridge/internal/repository/postgres"
	"github.com/Rrens/agent-bridge/internal/repository/sqlite"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		log.Info().
			Str("host", cfg.Storage.Postgres.Host).
			Int("port", cfg.Storage.Postgres.Port).
			Msg("Migrating postgres session store")
		if err := postgres.RunMigrations(cfg.Storage.Postgres.DSN()); err != nil {
			log.Fatal().Err(err).Msg("Migration failed")
		}

	case config.DriverSQLite:
		log.Info().Str("path", cfg.Storage.SQLite.Path).Msg("Migrating sqlite session store")
		layout, err := repository.NewLayout(afero.NewOsFs(), cfg.Storage.Root)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to prepare storage root")
		}
		// Open applies the embedded migrations
		store, err := sqlite.Open(context.Background(), cfg.Storage.SQLite.Path, layout, clockwork.NewRealClock())
		if err != nil {
			log.Fatal().Err(err).Msg("Migration failed")
		}
		store.Close()

	default:
		log.Info().Str("driver", cfg.Storage.Driver).Msg("Storage driver has no schema, nothing to migrate")
	}
}
