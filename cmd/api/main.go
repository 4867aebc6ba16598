package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/adapter/repo/memory"
	"server/internal/domain"
	"server/internal/http/handlers"
	"server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/maintenance"
	"server/internal/pipeline"
	"server/internal/providers/generation"
	"server/internal/storage"
	"server/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()

	// Persistence: Postgres when configured, in-memory otherwise.
	var (
		jobs   domain.JobRepository
		scenes domain.SceneRepository
		events domain.EventLog
	)
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer pool.Close()
		if err := repo.EnsureSchema(ctx, pool); err != nil {
			logger.Fatal().Err(err).Msg("failed to ensure schema")
		}
		jobs = repo.NewJobRepository(pool)
		scenes = repo.NewSceneRepository(pool)
		events = repo.NewEventLog(pool)
		logger.Info().Msg("using postgres store")
	} else {
		store := memory.NewStore()
		jobs = store.Jobs()
		scenes = store.Scenes()
		events = store.Events()
		logger.Warn().Msg("DATABASE_URL is empty, using in-memory store")
	}

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize file store")
	}

	generator, err := generation.NewGemini(generation.Options{
		APIKey:          cfg.GeminiAPIKey,
		BaseURL:         cfg.GeminiBaseURL,
		TextModel:       cfg.GeminiTextModel,
		ImageModel:      cfg.GeminiImageModel,
		VideoModel:      cfg.GeminiVideoModel,
		PollInterval:    cfg.PollInterval,
		MaxPollAttempts: cfg.MaxPollAttempts,
		Logger:          &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize generation client")
	}
	if cfg.GeminiAPIKey == "" {
		logger.Warn().Msg("GEMINI_API_KEY is empty, generation runs in synthetic mode")
	}

	orchestrator := pipeline.New(pipeline.Options{
		Jobs:      jobs,
		Scenes:    scenes,
		Events:    events,
		Generator: generator,
		Archive:   fileStore,
		Logger:    logger,
		Config: pipeline.Config{
			SceneCooldown: cfg.SceneCooldown,
			QuotaBackoff:  cfg.QuotaBackoff,
		},
	})
	manager := worker.NewManager(orchestrator, jobs, events, logger)

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	janitor := maintenance.NewJanitor(events, logger, cfg.CleanupInterval, cfg.EventRetention)
	go janitor.Run(janitorCtx)

	app := &handlers.App{
		Jobs:               jobs,
		Scenes:             scenes,
		Events:             events,
		Manager:            manager,
		Store:              fileStore,
		Logger:             logger,
		StreamPollInterval: cfg.StreamPollInterval,
		StreamKeepalive:    cfg.StreamKeepalive,
	}
	router := httpapi.NewRouter(app, cfg, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	stopJanitor()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("workers did not drain in time")
	}
	logger.Info().Msg("server stopped")
}
