package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ratesync/ratesync/internal/api"
	"github.com/ratesync/ratesync/internal/config"
	"github.com/ratesync/ratesync/internal/database"
	"github.com/ratesync/ratesync/internal/events"
	"github.com/ratesync/ratesync/internal/history"
	"github.com/ratesync/ratesync/internal/library"
	"github.com/ratesync/ratesync/internal/logger"
	"github.com/ratesync/ratesync/internal/rating"
	"github.com/ratesync/ratesync/internal/refresh"
	"github.com/ratesync/ratesync/internal/scheduler"
	"github.com/ratesync/ratesync/internal/scheduler/tasks"
	"github.com/ratesync/ratesync/internal/source"
	"github.com/ratesync/ratesync/internal/source/imdb"
	"github.com/ratesync/ratesync/internal/source/ratelimit"
	"github.com/ratesync/ratesync/internal/source/trakt"
)

const version = "0.1.0"

func main() {
	// .env is a dev convenience; absence is fine.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer log.Close()

	log.Info().
		Str("version", version).
		Str("logLevel", cfg.Logging.Level).
		Msg("starting ratesync")

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	log.Info().Msg("running database migrations")
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := library.NewStore(db.Conn(), log.WithComponent("library"))
	historySvc := history.NewService(db.Conn(), log.WithComponent("history"))

	limiter := ratelimit.New(log.WithComponent("ratelimit"))
	clients := []source.Client{
		imdb.NewClient(cfg.Sources.IMDb, limiter, log.Logger),
		trakt.NewClient(cfg.Sources.Trakt, limiter, log.Logger),
	}

	filter, err := buildFilter(cfg.Refresh)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid refresh configuration")
	}

	hub := events.NewHub()
	go hub.Run()
	log.SetBroadcastHub(hub)

	refresher := refresh.NewRefresher(store, clients, refresh.Options{
		Filter:        filter,
		Weights:       buildWeights(cfg.Sources),
		RetryAttempts: cfg.Refresh.RetryAttempts,
		RetryBackoff:  cfg.Refresh.RetryBackoff,
		Notifier:      hub,
	}, log.WithComponent("refresh"))

	sched, err := scheduler.New(log.WithComponent("scheduler"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}

	task, err := tasks.RegisterRatingRefreshTask(sched, refresher, historySvc, cfg.Refresh, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register refresh task")
	}
	if err := tasks.RegisterHistoryPruneTask(sched, historySvc, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("failed to register history prune task")
	}
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	server := api.NewServer(ctx, cfg, store, refresher, historySvc, sched, task, hub, log)

	go func() {
		if err := server.Start(cfg.Server.Address()); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	if err := sched.Stop(); err != nil {
		log.Warn().Err(err).Msg("scheduler shutdown failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	log.Info().Msg("shutdown complete")
	os.Exit(0)
}

// buildFilter converts the flat refresh configuration into candidate
// selection criteria.
func buildFilter(cfg config.RefreshConfig) (refresh.Filter, error) {
	types := make(map[library.ContentType]bool, len(cfg.ContentTypes))
	for _, raw := range cfg.ContentTypes {
		types[library.ContentType(raw)] = true
	}

	min, max, err := cfg.DateRange()
	if err != nil {
		return refresh.Filter{}, err
	}

	return refresh.Filter{
		ContentTypes:       types,
		DateRangeMin:       min,
		DateRangeMax:       max,
		MinRefreshInterval: cfg.MinRefreshInterval,
	}, nil
}

func buildWeights(cfg config.SourcesConfig) rating.SourceWeights {
	return rating.SourceWeights{
		rating.SourceIMDb: {
			Enabled: cfg.IMDb.Enabled,
			Weight:  cfg.IMDb.Weight,
		},
		rating.SourceTrakt: {
			Enabled: cfg.Trakt.Enabled,
			Weight:  cfg.Trakt.Weight,
		},
	}
}
