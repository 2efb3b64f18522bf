package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"

	"trainbatch/cmd"
	"trainbatch/internal/batch"
	"trainbatch/internal/config"
	"trainbatch/internal/core"
	"trainbatch/internal/database"
	"trainbatch/internal/messaging"
	"trainbatch/internal/notify"
)

// launch runs one batch to completion: every job is started as its own
// process, all of them run concurrently, and the command returns once the
// last one has exited. Job failures are recorded in the manifest but never
// abort the batch, and they do not affect this command's exit status.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	f := cmd.SetupLogFile(cfg.Root, "launch.log")
	defer f.Close()
	log.SetOutput(io.MultiWriter(f, os.Stderr))

	db := cmd.CreateDatabase(cfg)

	b := batch.DefaultBatch()
	if cfg.BatchFile != "" {
		b, err = batch.LoadFile(cfg.BatchFile)
		if err != nil {
			log.Fatalf("Failed to load batch file: %v", err)
		}
	}

	if cfg.JobFilter != "" {
		filter, err := batch.ParseFilter(cfg.JobFilter)
		if err != nil {
			log.Fatalf("Invalid job filter: %v", err)
		}
		b = batch.Select(b, filter)
	}

	if err := b.Validate(); err != nil {
		log.Fatalf("Invalid batch: %v", err)
	}

	slog.Info("starting batch", "name", b.Name, "jobs", len(b.Jobs), "max_parallel", cfg.MaxParallel)

	run, err := database.CreateRun(context.Background(), db, b)
	if err != nil {
		log.Fatalf("Failed to create run entry: %v", err)
	}

	l := cmd.CreateLauncher(cfg)
	l.Progress = true
	l.Output = f // job output goes to the log file; the bar owns the terminal

	queue := messaging.NewInMemoryQueue()
	proc := core.NewTaskProcessor(db, l, queue, cmd.CreateStorage(cfg), cfg.ArtifactBucket, notify.NewNotifier(cfg.WebhookURL))

	if err := queue.PublishLaunchTask(context.Background(), messaging.LaunchBatchPayload{RunId: run.Id}); err != nil {
		log.Fatalf("Failed to queue launch task: %v", err)
	}
	queue.Close()

	// Start drains the queue and returns once the single launch task, and
	// with it every training process, has finished.
	proc.Start()

	log.Println("All training jobs have finished.")
}
