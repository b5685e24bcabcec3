package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/syncpad/syncpad/api"
	"github.com/syncpad/syncpad/internal/config"
	"github.com/syncpad/syncpad/internal/slogging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := slogging.Initialize(slogging.Config{
		Level:            slogging.ParseLogLevel(cfg.Logging.Level),
		IsDev:            cfg.Logging.IsDev,
		LogDir:           cfg.Logging.LogDir,
		MaxAgeDays:       cfg.Logging.MaxAgeDays,
		MaxSizeMB:        cfg.Logging.MaxSizeMB,
		MaxBackups:       cfg.Logging.MaxBackups,
		AlsoLogToConsole: cfg.Logging.AlsoLogToConsole,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger := slogging.Get()
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := api.AutoMigrate(db); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	cache, err := openCache(ctx, cfg.Database.Redis)
	if err != nil {
		// The cache is an optimization; run without it.
		logger.Warn("Redis unavailable, continuing without cache: %v", err)
		cache = nil
	}

	store := api.NewGormStore(db, cache)

	// The realtime coordinator and its state are constructed once here and
	// passed explicitly; no package-level session state.
	hub := api.NewHub()
	presence := api.NewPresenceRegistry(cfg.Realtime.AuthThrottleWindow)
	whiteboard := api.NewWhiteboardStore()
	writer := api.NewDebouncedWriter(store, cfg.Realtime.CodeWriteDebounce)
	stats := api.NewStatsAggregator(store, hub, presence, cache, cfg.Realtime.StatsInterval)
	router := api.NewRouter(hub, presence, whiteboard, writer, stats, store)

	if err := stats.LoadBaseline(ctx); err != nil {
		logger.Warn("Failed to load stats baseline, starting from zero: %v", err)
	}
	go stats.Run(ctx)

	if !cfg.Logging.IsDev {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(slogging.Recoverer())
	engine.Use(slogging.LoggerMiddleware())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := engine.Group("/api", api.JWTMiddleware(cfg.Auth.JWTSecret))
	sessionHandlers := api.NewSessionHandlers(store, cache, stats)
	sessionHandlers.RegisterRoutes(authed)

	engine.GET("/ws", api.JWTMiddleware(cfg.Auth.JWTSecret), router.HandleWS)

	server := &http.Server{
		Addr:         cfg.Server.Interface + ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	writer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}
	return nil
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}
	if cfg.Postgres.Host != "" {
		return gorm.Open(postgres.Open(cfg.Postgres.DSN()), gormConfig)
	}
	return gorm.Open(sqlite.Open(cfg.SQLitePath), gormConfig)
}

func openCache(ctx context.Context, cfg config.RedisConfig) (*api.CacheService, error) {
	if cfg.Host == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return api.NewCacheService(rdb), nil
}
