package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"zipsea-sync-api/internal/cache"
	"zipsea-sync-api/internal/config"
	"zipsea-sync-api/internal/handler"
	"zipsea-sync-api/internal/middleware"
	"zipsea-sync-api/internal/notify"
	"zipsea-sync-api/internal/repository"
	"zipsea-sync-api/internal/router"
	"zipsea-sync-api/internal/service"
	"zipsea-sync-api/internal/traveltek"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting Zipsea sync API...")

	// Load configuration
	cfg := config.MustLoad()
	log.Printf("Environment: %s", cfg.App.Environment)

	// Initialize the store based on config
	var store *repository.Store
	var err error
	switch cfg.Store.Type {
	case "mysql":
		store, err = repository.NewMySQLStore(cfg.Store.DSN())
		if err != nil {
			log.Fatalf("Failed to initialize MySQL store: %v", err)
		}
		log.Println("MySQL store initialized")
	default: // sqlite
		store, err = repository.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite store: %v", err)
		}
		log.Println("SQLite store initialized")
	}
	defer store.Close()

	// Initialize the status cache
	var statusCache cache.Cache
	switch cfg.Cache.Type {
	case "redis":
		redisCache, err := cache.NewRedisCache(cache.RedisCacheConfig{
			Addr:     cfg.Cache.RedisAddress(),
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			log.Fatalf("Failed to initialize Redis cache: %v", err)
		}
		statusCache = redisCache
	default: // memory
		statusCache = cache.NewMemoryCache()
		log.Println("In-memory cache initialized")
	}
	defer statusCache.Close()

	// Initialize the Traveltek feed source
	source, err := traveltek.NewFTPSource(traveltek.Config{
		Host:           cfg.FTP.Host,
		Port:           cfg.FTP.Port,
		User:           cfg.FTP.User,
		Password:       cfg.FTP.Password,
		MaxConns:       cfg.FTP.MaxConns,
		DialTimeout:    cfg.FTP.DialTimeout,
		AcquireTimeout: cfg.FTP.AcquireTimeout,
		RetryAttempts:  cfg.FTP.RetryAttempts,
		RetryBackoff:   cfg.FTP.RetryBackoff,
	})
	if err != nil {
		log.Fatalf("Failed to connect to Traveltek FTP: %v", err)
	}
	defer source.Close()

	// Initialize services
	lockManager := service.NewLockManager(store.Locks, cfg.Sync.LockStaleAfter)
	webhookService := service.NewWebhookService(store.Cruises, store.Events)

	var notifier service.RunNotifier
	slackNotifier := notify.NewSlackNotifier(cfg.Slack.WebhookURL, cfg.Slack.Timeout)
	if slackNotifier.Enabled() {
		notifier = slackNotifier
		log.Println("Slack notifications enabled")
	}

	scheduler := service.NewScheduler(
		store.Cruises, store.Events, store.Snapshots,
		lockManager, source, notifier,
		service.SchedulerConfig{
			Interval:      cfg.Sync.Interval,
			BatchSize:     cfg.Sync.BatchSize,
			RunCeiling:    cfg.Sync.RunCeiling,
			FailThreshold: cfg.Sync.FailThreshold,
			Workers:       cfg.FTP.MaxConns,
			ReseedChunk:   cfg.Sync.ReseedChunk,
		},
	)
	scheduler.Start()

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(store, statusCache, cfg.App.Version)
	webhookHandler := handler.NewWebhookHandler(webhookService)
	syncHandler := handler.NewSyncHandler(store, statusCache, cfg.Cache.TTL)
	adminHandler := handler.NewAdminHandler(store, scheduler, source)

	// Create router
	r := router.New(router.Config{
		HealthHandler:  healthHandler,
		WebhookHandler: webhookHandler,
		SyncHandler:    syncHandler,
		AdminHandler:   adminHandler,
		AuthMiddleware: middleware.APIKey(cfg.App.APIKeys),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Stop taking new sync passes; one in flight finishes on its own.
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
