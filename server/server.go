package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"echofm/config"
	"echofm/core/acquire"
	"echofm/core/lock"
	"echofm/core/ratelimit"
	"echofm/core/scheduler"
	"echofm/db"
	"echofm/logger"
	"echofm/model"
	"echofm/provider"
	"echofm/repository"
	"echofm/storage"

	"github.com/gorilla/mux"
)

// app bundles the constructed services. Everything is wired explicitly here;
// no package keeps ambient singletons beyond the shared DB/Redis handles.
type app struct {
	cfg       *config.Config
	service   *acquire.Service
	scheduler *scheduler.Scheduler
	reclaimer *acquire.Reclaimer
	limiter   *ratelimit.Limiter
}

// buildApp connects the stores and wires the acquisition engine.
func buildApp(cfg *config.Config) (*app, error) {
	if err := db.ConnectDB(cfg); err != nil {
		return nil, err
	}
	if err := db.InitDB(); err != nil {
		return nil, err
	}
	if err := db.ConnectGormDB(cfg); err != nil {
		return nil, err
	}
	if err := db.AutoMigrateModels(&model.UserLibraryEntry{}); err != nil {
		return nil, err
	}
	if err := db.ConnectRedis(cfg); err != nil {
		return nil, err
	}
	logger.Info("Successfully connected to Redis")

	catalogRepo := repository.NewRedisCatalogRepository(db.RedisClient)
	libraryRepo := repository.NewGormLibraryRepository(db.GormDB)

	var lockStore lock.Store
	var err error
	switch cfg.LockBackend {
	case "mysql":
		lockStore = lock.NewMySQLStore(db.DB)
	case "file":
		lockStore, err = lock.NewFileStore(cfg.LockDir, cfg.LockTTL)
		if err != nil {
			return nil, err
		}
	default:
		lockStore = lock.NewRedisStore(db.RedisClient)
	}
	locks := lock.NewManager(lockStore, cfg.LockTTL)

	var trackStore storage.TrackStore
	if cfg.StorageBackend == "minio" {
		trackStore, err = storage.NewMinioStore(cfg)
	} else {
		trackStore, err = storage.NewLocalStore(cfg.MusicDir, cfg.StagingDir)
	}
	if err != nil {
		return nil, err
	}

	metadata := provider.NewMetadataClient(cfg.MetadataAPIURL, cfg.ProviderTimeout)
	media := provider.NewMediaClient(cfg.MediaAPIURL, cfg.ProviderTimeout, cfg.MediaFetchRate)

	queue := scheduler.NewRedisQueue(db.RedisClient, cfg.QueueName)
	status := scheduler.NewRedisStatusStore(db.RedisClient)
	sched := scheduler.New(queue, status, cfg.WorkerCount, cfg.MaxRetries, cfg.RetryBaseWait)

	orchestrator := acquire.NewOrchestrator(catalogRepo, libraryRepo, locks, metadata, media, trackStore)
	orchestrator.SetRevokedCheck(sched.Revoked)
	sched.SetHandler(orchestrator.Process)

	service := acquire.NewService(catalogRepo, libraryRepo, sched)
	reclaimer := acquire.NewReclaimer(catalogRepo, locks, cfg.ReclaimInterval, cfg.StalenessThreshold)

	rules := ratelimit.DefaultRules()
	if cfg.RateLimitRulesFile != "" {
		if loaded, err := ratelimit.LoadRulesFile(cfg.RateLimitRulesFile); err != nil {
			logger.Warn("Failed to load rate limit rules file, using defaults", logger.ErrorField(err))
		} else {
			rules = loaded
		}
	}
	limiter := ratelimit.NewLimiter(ratelimit.NewRedisStore(db.RedisClient), rules)

	return &app{
		cfg:       cfg,
		service:   service,
		scheduler: sched,
		reclaimer: reclaimer,
		limiter:   limiter,
	}, nil
}

func (a *app) close() {
	db.CloseRedis()
	db.CloseGormDB()
	db.CloseDB()
}

// Start runs the full service in one process: HTTP intake, the worker pool
// and the reclaim sweep.
func Start() {
	cfg := config.Load()

	a, err := buildApp(cfg)
	if err != nil {
		logger.Fatal("Failed to start", logger.ErrorField(err))
	}
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.scheduler.Start()
	defer a.scheduler.Stop()
	go a.reclaimer.Run(ctx)
	if cfg.RateLimitRulesFile != "" {
		go func() {
			if err := ratelimit.WatchRules(ctx, a.limiter, cfg.RateLimitRulesFile); err != nil {
				logger.Error("Rate limit rules watcher exited", logger.ErrorField(err))
			}
		}()
	}

	handler := NewAPIHandler(a.service, a.scheduler)
	router := mux.NewRouter()
	router.Use(corsMiddleware)
	router.Use(identityMiddleware(cfg))
	router.Use(rateLimitMiddleware(a.limiter))

	// Register the static path before the templated one; mux matches routes
	// in registration order.
	router.HandleFunc("/api/tracks/popular", handler.PopularTracksHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{external_id}/download", handler.RequestDownloadHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks/{external_id}", handler.TrackStatusHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/library", handler.LibraryHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/library/{external_id}/play", handler.PlaybackHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/library/{external_id}/favorite", handler.FavoriteHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/jobs/{job_id}", handler.JobStatusHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/jobs/{job_id}", handler.RevokeJobHandler).Methods(http.MethodDelete)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", logger.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", logger.ErrorField(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", logger.ErrorField(err))
	}
}

// StartWorker runs a headless worker process: the pool and the reclaim
// sweep, no HTTP intake.
func StartWorker() {
	cfg := config.Load()

	a, err := buildApp(cfg)
	if err != nil {
		logger.Fatal("Failed to start worker", logger.ErrorField(err))
	}
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.scheduler.Start()
	defer a.scheduler.Stop()
	go a.reclaimer.Run(ctx)

	logger.Info("Worker running")
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Worker shutting down...")
}

// SweepOnce connects the stores and runs a single reclaim sweep. Used by the
// sweep command for operational one-shots.
func SweepOnce() error {
	cfg := config.Load()

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.reclaimer.SweepOnce(context.Background())
	if err != nil {
		return err
	}
	logger.Info("Reclaim sweep finished", logger.Int("reclaimed", n))
	return nil
}
