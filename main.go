package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"moonlight/internal/api"
	"moonlight/internal/artifacts"
	"moonlight/internal/config"
	"moonlight/internal/flows"
	"moonlight/internal/llm"
	"moonlight/internal/logging"
	"moonlight/internal/redis"
	"moonlight/internal/session"
	"moonlight/internal/storage"
	"moonlight/internal/tools"
	"moonlight/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(os.Getenv("MOONLIGHT_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.BasicConfig.LogDir, cfg.BasicConfig.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(cfg, logger)
	if err != nil {
		logger.Fatal("open storage backend", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}
	defer closeBackend()

	archive, err := artifacts.New(ctx, cfg.Minio, logger)
	if err != nil {
		logger.Fatal("init artifact archive", zap.Error(err))
	}

	genaiClient, err := llm.NewGenAIClient(ctx, cfg.Providers["gemini"].APIKey)
	if err != nil {
		logger.Fatal("init gemini client", zap.Error(err))
	}
	imageModel, err := llm.NewGeminiImageModel(genaiClient, cfg.Flows.ImageModel)
	if err != nil {
		logger.Fatal("init image model", zap.Error(err))
	}

	catalog := llm.NewCatalog(cfg, nil)
	imageFlow := flows.NewImageFlow(catalog, imageModel, cfg.Flows, archive, logger)
	imageTool := tools.NewImageTool(imageFlow, cfg.Flows.ImageToolRate.PerMinute, cfg.Flows.ImageToolRate.Burst)
	chatFlow := flows.NewChatFlow(catalog, imageTool, cfg.Flows, logger)
	codeFlow := flows.NewCodeFlow(catalog, logger)

	store, err := session.Open(ctx, backend, chatFlow, session.Options{DefaultTemperature: cfg.Flows.DefaultTemperature}, logger)
	if err != nil {
		logger.Fatal("open dialog store", zap.Error(err))
	}

	dispatcher := worker.NewDispatcher(worker.Config{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Second,
	}, logger)

	handlers := api.NewHandler(api.Options{
		Catalog:        catalog,
		Code:           codeFlow,
		Images:         imageFlow,
		Chat:           chatFlow,
		Store:          store,
		Archive:        archive,
		Workers:        dispatcher,
		MaxUploadBytes: cfg.Flows.MaxUploadBytes,
		RequestTimeout: time.Duration(cfg.BasicConfig.RequestTimeout) * time.Second,
	}, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	handlers.RegisterRoutes(router)

	srv := &http.Server{Addr: cfg.BasicConfig.ServerAddress, Handler: router}
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.String("storage", cfg.Storage.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker shutdown", zap.Error(err))
	}
}

// openBackend builds the key/value backend named by storage.backend.
func openBackend(cfg *config.Config, logger *zap.Logger) (session.Backend, func(), error) {
	profile := cfg.Storage.Profile
	switch cfg.Storage.Backend {
	case "sqlite", "sqlite3", "mysql":
		db, err := storage.Open(cfg.Storage.Backend, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := storage.Migrate(db, cfg.Storage.Backend); err != nil {
			db.Close()
			return nil, nil, err
		}
		return storage.NewKV(db, cfg.Storage.Backend, profile), func() { db.Close() }, nil
	case "redis":
		rdb, err := redis.NewRedisClient(cfg)
		if err != nil {
			return nil, nil, err
		}
		ttl := time.Duration(cfg.Redis.TTL) * time.Second
		return redis.NewKV(rdb, profile, ttl), func() { rdb.Close() }, nil
	default:
		logger.Warn("using in-memory storage, dialogs are lost on restart")
		return session.NewMemoryBackend(), func() {}, nil
	}
}
