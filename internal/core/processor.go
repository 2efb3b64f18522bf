package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"trainbatch/internal/database"
	"trainbatch/internal/launcher"
	"trainbatch/internal/messaging"
	"trainbatch/internal/notify"
	"trainbatch/internal/storage"

	"gorm.io/gorm"
)

// TaskProcessor consumes launch tasks from a queue and drives the batch
// launcher: load the run's jobs from the manifest, spawn them all, wait for
// every one, then sync artifacts and fire the completion webhook.
type TaskProcessor struct {
	db       *gorm.DB
	launcher *launcher.Launcher
	reciever messaging.Reciever

	store          storage.Provider
	artifactBucket string

	notifier *notify.Notifier
}

func NewTaskProcessor(db *gorm.DB, l *launcher.Launcher, reciever messaging.Reciever, store storage.Provider, artifactBucket string, notifier *notify.Notifier) *TaskProcessor {
	l.Recorder = &database.JobRecorder{DB: db}

	return &TaskProcessor{
		db:             db,
		launcher:       l,
		reciever:       reciever,
		store:          store,
		artifactBucket: artifactBucket,
		notifier:       notifier,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.reciever.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {
	case messaging.LaunchQueue:
		var payload messaging.LaunchBatchPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling launch task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processLaunchTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil { // reject unknown message type
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error nacking message from queue", "error", err)
		}
		return
	}

	if err := task.Ack(); err != nil {
		slog.Error("error acking message from queue", "error", err)
	}
}

func (proc *TaskProcessor) processLaunchTask(ctx context.Context, payload messaging.LaunchBatchPayload) error {
	run, err := database.GetRun(ctx, proc.db, payload.RunId)
	if err != nil {
		return fmt.Errorf("error loading run %s: %w", payload.RunId, err)
	}

	slog.Info("launching run", "run_id", run.Id, "name", run.Name, "jobs", len(run.Jobs))

	if err := database.UpdateRunStatus(ctx, proc.db, run.Id, database.JobRunning); err != nil {
		return err
	}

	jobs := make([]launcher.Job, 0, len(run.Jobs))
	for _, row := range run.Jobs {
		var args []string
		if err := json.Unmarshal(row.Args, &args); err != nil {
			return fmt.Errorf("error unmarshalling args for job %s: %w", row.Id, err)
		}
		jobs = append(jobs, launcher.Job{
			Id:         row.Id,
			Program:    row.Program,
			Checkpoint: row.Checkpoint,
			Args:       args,
		})
	}

	results := proc.launcher.Run(ctx, jobs)

	failed := 0
	for _, result := range results {
		if !result.Succeeded() {
			failed++
		}
	}

	if err := database.SetRunFailedJobCount(ctx, proc.db, run.Id, failed); err != nil {
		return err
	}

	// The run completed once every process has exited. Individual exit
	// statuses live on the job rows; they are not folded into the run
	// status.
	if err := database.UpdateRunStatus(ctx, proc.db, run.Id, database.JobCompleted); err != nil {
		return err
	}

	proc.syncArtifacts(ctx, run)

	updated, err := database.GetRun(ctx, proc.db, run.Id)
	if err != nil {
		return fmt.Errorf("error reloading run %s: %w", run.Id, err)
	}
	proc.notifier.RunCompleted(ctx, database.ToAPIRun(*updated))

	slog.Info("run finished", "run_id", run.Id, "jobs", len(jobs), "failed", failed)

	return nil
}

func (proc *TaskProcessor) syncArtifacts(ctx context.Context, run *database.Run) {
	if proc.store == nil || proc.artifactBucket == "" {
		return
	}

	checkpoints := make([]string, 0, len(run.Jobs))
	for _, job := range run.Jobs {
		checkpoints = append(checkpoints, job.Checkpoint)
	}

	if err := storage.UploadCheckpoints(ctx, proc.store, proc.artifactBucket, run.Id.String(), checkpoints); err != nil {
		slog.Error("error uploading run artifacts", "run_id", run.Id, "error", err)
		return
	}

	slog.Info("uploaded run artifacts", "run_id", run.Id, "bucket", proc.artifactBucket)
}
