package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ampersands-ai/mymedia-studio-sub004/internal/api"
	"github.com/ampersands-ai/mymedia-studio-sub004/internal/config"
	"github.com/ampersands-ai/mymedia-studio-sub004/internal/db"
	"github.com/ampersands-ai/mymedia-studio-sub004/internal/pipeline"
	"github.com/ampersands-ai/mymedia-studio-sub004/internal/providers"
	"github.com/ampersands-ai/mymedia-studio-sub004/internal/queue"
	"github.com/ampersands-ai/mymedia-studio-sub004/internal/storage"
	"github.com/ampersands-ai/mymedia-studio-sub004/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("[Main] Connected to database")

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer q.Close()
	log.Println("[Main] Connected to redis")

	store := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)

	stock := providers.NewPixabayClient(cfg.PixabayKey)
	render := providers.NewShotstackClient(cfg.ShotstackKey, cfg.ShotstackURL)

	var ai providers.BackgroundGenerator
	if cfg.GeminiKey != "" {
		ai = providers.NewGeminiBackgroundService(cfg.GeminiKey, "")
		log.Println("[Main] AI background generation enabled")
	}

	pipeCfg := pipeline.DefaultConfig()
	pipeCfg.RenderTokenCost = cfg.RenderTokenCost

	pipe := pipeline.New(pipeline.Options{
		Store:   database,
		Blobs:   store,
		Stock:   stock,
		Render:  render,
		AI:      ai,
		Config:  pipeCfg,
		Secrets: []string{cfg.ShotstackKey, cfg.PixabayKey, cfg.SupabaseServiceKey, cfg.GeminiKey},
	})

	handler := api.NewHandler(database, q, store)
	router := api.NewRouter(handler, cfg.BackendAPIKey, cfg.CorsAllowedOrigins)

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerDone := make(chan struct{})
	if cfg.WorkerEnabled {
		w := worker.New(q, pipe, cfg.MaxConcurrentJobs)
		go func() {
			defer close(workerDone)
			if err := w.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("[Main] Worker exited with error: %v", err)
			}
		}()
	} else {
		close(workerDone)
		log.Println("[Main] Worker disabled, running API only")
	}

	go func() {
		log.Printf("[Main] API listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("[Main] Shutting down...")

	// Stop accepting work, let in-flight jobs finish.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Main] Server shutdown error: %v", err)
	}

	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		log.Println("[Main] Worker drain timed out")
	}

	log.Println("[Main] Shutdown complete")
}
