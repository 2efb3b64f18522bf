package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trainbatch/cmd"
	"trainbatch/internal/api"
	"trainbatch/internal/config"
	"trainbatch/internal/core"
	"trainbatch/internal/database"
	"trainbatch/internal/messaging"
	"trainbatch/internal/notify"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"
)

// createQueue republishes launch tasks for runs that were queued when the
// server last stopped, so a restart does not strand them.
func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	var runs []database.Run
	if err := db.Where("status = ?", database.JobQueued).Find(&runs).Error; err != nil {
		log.Fatalf("Failed to fetch queued runs from database: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	for _, run := range runs {
		if err := queue.PublishLaunchTask(context.Background(), messaging.LaunchBatchPayload{RunId: run.Id}); err != nil {
			log.Fatalf("Failed to publish launch task: %v", err)
		}
	}

	return queue
}

func createServer(db *gorm.DB, queue messaging.Publisher, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(db, queue)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	f := cmd.SetupLogFile(cfg.Root, "server.log")
	defer f.Close()
	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting server", "root", cfg.Root, "port", cfg.Port, "max_parallel", cfg.MaxParallel)

	db := cmd.CreateDatabase(cfg)

	queue := createQueue(db)

	worker := core.NewTaskProcessor(db, cmd.CreateLauncher(cfg), queue, cmd.CreateStorage(cfg), cfg.ArtifactBucket, notify.NewNotifier(cfg.WebhookURL))

	server := createServer(db, queue, cfg.Port)

	slog.Info("starting worker")
	go worker.Start()

	// Goroutine for graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		slog.Info("shutting down worker")
		worker.Stop()
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
