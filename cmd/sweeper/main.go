// The sweeper runs the engine's background maintenance: it expires idle
// collaboration sessions and deactivates shares whose expiry passed.
// The interactive API fronting the engine is deployed separately.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"redline/collab/internal/collab"
	"redline/collab/internal/config"
	"redline/collab/internal/content"
	"redline/collab/internal/export"
	"redline/collab/internal/notify"
	"redline/collab/internal/registry"
	"redline/collab/internal/search"
	"redline/collab/internal/store"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}
	dataStore := store.NewPostgresStore(db)

	var sessions registry.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := registry.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		sessions = redisStore
		log.Info().Msg("using redis session registry")
	} else {
		sessions = registry.NewMemoryStore()
		log.Warn().Msg("using in-memory session registry; sweeps only cover this process")
	}

	var publisher collab.Publisher
	if strings.TrimSpace(cfg.NATSUrl) != "" {
		natsPublisher, err := notify.NewNATSPublisher(cfg.NATSUrl, log)
		if err != nil {
			log.Fatal().Err(err).Msg("nats connection failed")
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
	} else {
		publisher = notify.NewLogPublisher(log)
	}

	blobs, err := newContentStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("content store init failed")
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts, log)
	searchService.ReindexAllFromPG(ctx)

	engine := collab.New(cfg, log, collab.Deps{
		Store:     dataStore,
		Sessions:  sessions,
		Content:   blobs,
		Publisher: publisher,
		Tasks:     collab.NewLocalTaskService(dataStore),
		Search:    searchService,
		Exporter:  export.NewService(collab.NewReportStore(dataStore)),
	})

	log.Info().
		Dur("interval", cfg.SweepInterval).
		Dur("session_idle_timeout", cfg.SessionIdleTimeout).
		Msg("sweeper started")

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			sweep(ctx, log, engine, dataStore)
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("sweeper stopping")
			return
		}
	}
}

func sweep(ctx context.Context, log zerolog.Logger, engine *collab.Service, dataStore *store.PostgresStore) {
	swept, err := engine.SweepSessions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("session sweep failed")
	} else if swept > 0 {
		log.Info().Int("sessions", swept).Msg("swept idle sessions")
	}

	deactivated, err := dataStore.DeactivateExpiredShares(ctx)
	if err != nil {
		log.Error().Err(err).Msg("share sweep failed")
	} else if deactivated > 0 {
		log.Info().Int64("shares", deactivated).Msg("deactivated expired shares")
	}
}

func newContentStore(ctx context.Context, cfg config.Config) (collab.ContentStore, error) {
	if cfg.ContentBackend == "minio" {
		return content.NewMinioStore(ctx, content.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	}
	if err := os.MkdirAll(cfg.ContentDir, 0o755); err != nil {
		return nil, err
	}
	return content.NewGitStore(cfg.ContentDir), nil
}

func newLogger(cfg config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	if cfg.LogPretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger
}
