package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"healthmate/backend/internal/config"
	"healthmate/backend/internal/db"
	"healthmate/backend/internal/server"
	"healthmate/backend/internal/storage"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connect failed: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("database ping failed: %v", err)
	}
	if err := server.ValidateRuntimeSchema(ctx, pool); err != nil {
		log.Fatalf("database schema mismatch: %v", err)
	}

	var files storage.ObjectStore
	if strings.TrimSpace(cfg.StorageEndpoint) != "" {
		store, err := storage.NewMinioStore(
			cfg.StorageEndpoint,
			cfg.StorageAccessKey,
			cfg.StorageSecretKey,
			cfg.StorageBucket,
			cfg.StorageUseSSL,
		)
		if err != nil {
			log.Fatalf("object storage init failed: %v", err)
		}
		files = store
	} else {
		log.Println("STORAGE_ENDPOINT not set, uploads are held in process memory")
		files = storage.NewMemoryStore()
	}

	composer, err := server.NewGeminiComposer(ctx, cfg)
	if err != nil {
		log.Fatalf("ai composer init failed: %v", err)
	}
	defer composer.Close()

	app := server.New(cfg, pool, files, composer)
	httpServer := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("healthmate api listening on http://localhost:%s", cfg.AppPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
