package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Rrens/agent-bridge/internal/agent/gemini"
	"github.com/Rrens/agent-bridge/internal/api"
	"github.com/Rrens/agent-bridge/internal/api/handler"
	"github.com/Rrens/agent-bridge/internal/attachment"
	"github.com/Rrens/agent-bridge/internal/config"
	"github.com/Rrens/agent-bridge/internal/domain"
	"github.com/Rrens/agent-bridge/internal/logging"
	"github.com/Rrens/agent-bridge/internal/repository"
	"github.com/Rrens/agent-bridge/internal/repository/filestore"
	"github.com/Rrens/agent-bridge/internal/repository/mongo"
	"github.com/Rrens/agent-bridge/internal/repository/postgres"
	"github.com/Rrens/agent-bridge/internal/repository/redis"
	"github.com/Rrens/agent-bridge/internal/repository/sqlite"
	"github.com/Rrens/agent-bridge/internal/security"
	"github.com/Rrens/agent-bridge/internal/service"
	"github.com/Rrens/agent-bridge/internal/session"
	"github.com/Rrens/agent-bridge/internal/tools"
	"github.com/Rrens/agent-bridge/internal/tools/sqldb"
	sqldbMySQL "github.com/Rrens/agent-bridge/internal/tools/sqldb/mysql"
	sqldbPostgres "github.com/Rrens/agent-bridge/internal/tools/sqldb/postgres"
	sqldbSQLite "github.com/Rrens/agent-bridge/internal/tools/sqldb/sqlite"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

func main() {
	// Load .env file - try multiple locations
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logCloser, err := logging.Setup(cfg.Logging, os.Getenv("ENV") == "production")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}
	defer logCloser.Close()

	sealer, err := security.NewSealer(cfg.Security.SecretKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid secret key")
	}
	if err := cfg.Unseal(sealer); err != nil {
		log.Fatal().Err(err).Msg("Failed to open sealed configuration values")
	}

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Str("approval_mode", cfg.Agent.ApprovalMode).
		Msg("Starting agent bridge server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fs := afero.NewOsFs()
	clock := clockwork.NewRealClock()

	layout, err := repository.NewLayout(fs, cfg.Storage.Root)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare storage root")
	}

	store, err := openStore(ctx, cfg, layout, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open session store")
	}
	defer store.Close()

	// Database tools
	pool := sqldb.NewPool(cfg.Tools.Databases)
	pool.RegisterAdapter("sqlite", sqldbSQLite.NewAdapter)
	pool.RegisterAdapter("postgres", sqldbPostgres.NewAdapter)
	pool.RegisterAdapter("mysql", sqldbMySQL.NewAdapter)
	defer pool.Close()

	toolRegistry := tools.NewRegistry(fs, cfg.Tools, pool)

	factory, err := gemini.NewFactory(ctx, cfg.Agent, fs, toolRegistry)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create agent client factory")
	}
	defer factory.Close()

	registry := session.NewRegistry(cfg.Agent.SessionTTL, clock)
	defer registry.CloseAll()
	go registry.RunSweeper(ctx, cfg.Agent.SweepInterval)

	orchestrator := session.NewOrchestrator(store, registry, factory, fs)

	deps := api.Dependencies{
		Config: cfg,
		Chat: service.NewChatService(
			orchestrator,
			store,
			attachment.NewIngestor(fs, clock),
			session.NewConfirmations(clock),
			cfg.Agent,
			clock,
		),
		Sessions: service.NewSessionService(store, orchestrator),
		Ready:    map[string]handler.Pinger{"store": store},
	}

	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()

		orchestrator.SetTurnLocker(redis.NewTurnLock(redisClient, cfg.Redis.LockTTL))
		deps.RateLimiter = redis.NewRateLimiter(
			redisClient,
			cfg.Security.RateLimit.RequestsPerMinute,
			cfg.Security.RateLimit.Burst,
		)
		deps.Ready["redis"] = redisClient
	}

	if cfg.Auth.Enabled {
		jwtManager := security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
		deps.JWT = jwtManager
		deps.Auth = service.NewAuthService(cfg.Auth.Username, cfg.Auth.PasswordHash, jwtManager)
	} else {
		log.Warn().Msg("Authentication disabled, API is open to anyone who can reach it")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, layout *repository.Layout, clock clockwork.Clock) (domain.SessionStore, error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.Storage.SQLite.Path, layout, clock)

	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.Storage.Postgres, layout, clock)

	case config.DriverMongo:
		return mongo.Connect(ctx, cfg.Storage.Mongo, layout, clock)

	default:
		return filestore.NewStore(layout, clock), nil
	}
}
