package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collabd/internal/api"
	"collabd/internal/config"
	"collabd/internal/db"
	"collabd/internal/repository"
	"collabd/internal/services/avatars"
	"collabd/internal/services/collaboration"
	"collabd/internal/telemetry"

	"go.uber.org/zap"
)

func main() {
	log.Println("Starting collabd realtime document server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Tracing first so everything downstream is already instrumented.
	jaegerShutdown, err := telemetry.InitJaeger("collabd", cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	database, err := db.NewGorm(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	presence, err := collaboration.NewRedisPresenceRegistry(cfg.RedisURL, cfg.PresenceTTL, logger)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer presence.Close()
	log.Println("✓ Presence registry connected")

	bootstrapCtx, cancelBootstrap := context.WithTimeout(context.Background(), 15*time.Second)
	assetStore, err := avatars.New(bootstrapCtx, avatars.Options{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	}, logger)
	cancelBootstrap()
	if err != nil {
		log.Fatalf("Failed to connect to object storage: %v", err)
	}
	log.Println("✓ Object storage connected")

	docRepo := repository.NewDocumentRepository(database.DB, logger)

	hub := collaboration.NewHub(docRepo, presence, logger, collaboration.HubOptions{
		SaveDebounce:   cfg.SaveDebounce,
		SessionTimeout: cfg.SessionTimeout,
	})
	hub.Start()

	wsHandler := collaboration.NewWebSocketHandler(hub, docRepo, assetStore, logger)

	handler := api.NewHandler(docRepo, assetStore, wsHandler)
	router := api.SetupRoutes(handler)

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Server listening on http://%s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// Hub shutdown flushes pending snapshot saves before connections drop.
	hub.Shutdown()

	log.Println("✓ Server shutdown complete")
}
