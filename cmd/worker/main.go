package main

import (
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"trainbatch/cmd"
	"trainbatch/internal/config"
	"trainbatch/internal/core"
	"trainbatch/internal/messaging"
	"trainbatch/internal/notify"
)

// worker consumes launch tasks from RabbitMQ and runs the batches on this
// machine. Several workers can share a queue; each launch task is handled by
// exactly one of them.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	f := cmd.SetupLogFile(cfg.Root, "worker.log")
	defer f.Close()
	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting worker", "root", cfg.Root, "max_parallel", cfg.MaxParallel)

	db := cmd.CreateDatabase(cfg)

	reciever, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	worker := core.NewTaskProcessor(db, cmd.CreateLauncher(cfg), reciever, cmd.CreateStorage(cfg), cfg.ArtifactBucket, notify.NewNotifier(cfg.WebhookURL))

	go worker.Start()

	slog.Info("worker started, waiting for launch tasks")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutdown signal received, stopping worker")
	worker.Stop()
}
