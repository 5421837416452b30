package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"kalyn/backend/internal/barcode"
	"kalyn/backend/internal/cache"
	"kalyn/backend/internal/config"
	"kalyn/backend/internal/docgen"
	"kalyn/backend/internal/httpapi"
	"kalyn/backend/internal/service"
	"kalyn/backend/internal/storage"
	"kalyn/backend/internal/store"
	"kalyn/backend/internal/store/memory"
	pgstore "kalyn/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	snapshots := cache.SnapshotCache(cache.NoopSnapshotCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSnapshotCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop cache", zap.Error(err))
		} else {
			snapshots = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: noop")
	}

	svc := service.New(repo, snapshots, logger, cfg.WarehouseStoreID)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)

	generator := buildGenerator(ctx, cfg, logger)
	api := httpapi.New(svc, auth, generator, logger, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("inventory backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return errors.New("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

// buildGenerator wires document generation when the Google credentials and
// template ids are configured. A nil generator just disables the document
// endpoints; stock and order handling still work.
func buildGenerator(ctx context.Context, cfg config.Config, logger *zap.Logger) *docgen.Generator {
	if cfg.OrderTemplateID == "" || cfg.BarcodeTemplateID == "" {
		logger.Info("document generation disabled: template ids not configured")
		return nil
	}

	credentials := []byte(cfg.CredentialsJSON)

	var objects storage.ObjectStore
	switch cfg.StorageProvider {
	case "gcs":
		gcsStore, err := storage.NewGCSStore(ctx, cfg.GCSBucket, credentials)
		if err != nil {
			logger.Warn("gcs unavailable, document generation disabled", zap.Error(err))
			return nil
		}
		objects = gcsStore
	case "memory":
		objects = storage.NewMemoryStore()
	default:
		driveStore, err := storage.NewDriveStore(ctx, credentials)
		if err != nil {
			logger.Warn("drive unavailable, document generation disabled", zap.Error(err))
			return nil
		}
		objects = driveStore
	}

	templates, err := docgen.NewGoogleDocsClient(ctx, credentials)
	if err != nil {
		logger.Warn("docs client unavailable, document generation disabled", zap.Error(err))
		return nil
	}

	var barcodes barcode.Source
	if cfg.BarcodeProvider == "local" {
		barcodes = barcode.NewLocalSource()
	} else {
		barcodes = barcode.NewAPISource(cfg.BarcodeBaseURL, cfg.BarcodeMaxRetries)
	}

	return docgen.NewGenerator(templates, objects, barcodes, logger, docgen.GeneratorConfig{
		OrderTemplateID:   cfg.OrderTemplateID,
		BarcodeTemplateID: cfg.BarcodeTemplateID,
		BarcodeFolderID:   cfg.BarcodeFolderID,
	})
}
