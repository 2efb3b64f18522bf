package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"trainbatch/internal/batch"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateRun inserts the manifest rows for a batch: one Run and one queued
// TrainingJob per spec. Specs are immutable, so the rendered argv is frozen
// here.
func CreateRun(ctx context.Context, db *gorm.DB, b batch.Batch) (*Run, error) {
	run := &Run{
		Id:            uuid.New(),
		Name:          b.Name,
		Status:        JobQueued,
		CreationTime:  time.Now().UTC(),
		TotalJobCount: len(b.Jobs),
	}

	for _, spec := range b.Jobs {
		args, err := json.Marshal(spec.Args())
		if err != nil {
			return nil, fmt.Errorf("error marshalling args for job %s: %w", spec.Name(), err)
		}

		run.Jobs = append(run.Jobs, TrainingJob{
			Id:           uuid.New(),
			RunId:        run.Id,
			Program:      spec.Program,
			Checkpoint:   spec.Checkpoint,
			Args:         args,
			Status:       JobQueued,
			CreationTime: run.CreationTime,
		})
	}

	if err := db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("error creating run %s: %w", b.Name, err)
	}

	return run, nil
}

func UpdateRunStatus(ctx context.Context, txn *gorm.DB, runId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&Run{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error updating run status", "run_id", runId, "status", status, "error", err)
		return err
	}
	return nil
}

func SetRunFailedJobCount(ctx context.Context, txn *gorm.DB, runId uuid.UUID, failed int) error {
	if err := txn.WithContext(ctx).Model(&Run{Id: runId}).Update("failed_job_count", failed).Error; err != nil {
		slog.Error("error updating run failed job count", "run_id", runId, "error", err)
		return err
	}
	return nil
}

func GetRun(ctx context.Context, db *gorm.DB, runId uuid.UUID) (*Run, error) {
	var run Run
	if err := db.WithContext(ctx).Preload("Jobs").First(&run, "id = ?", runId).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// JobRecorder persists launcher state transitions into the manifest. It
// satisfies the launcher's Recorder interface.
type JobRecorder struct {
	DB *gorm.DB
}

func (r *JobRecorder) JobStarted(ctx context.Context, jobId uuid.UUID, start time.Time) error {
	updates := map[string]any{"status": JobRunning, "start_time": start}
	if err := r.DB.WithContext(ctx).Model(&TrainingJob{Id: jobId}).Updates(updates).Error; err != nil {
		return fmt.Errorf("error marking job %s running: %w", jobId, err)
	}
	return nil
}

func (r *JobRecorder) JobFinished(ctx context.Context, jobId uuid.UUID, exitCode int, completion time.Time) error {
	status := JobCompleted
	if exitCode != 0 {
		status = JobFailed
	}

	updates := map[string]any{
		"status":          status,
		"completion_time": completion,
		"exit_code":       exitCode,
	}
	if err := r.DB.WithContext(ctx).Model(&TrainingJob{Id: jobId}).Updates(updates).Error; err != nil {
		return fmt.Errorf("error marking job %s %s: %w", jobId, status, err)
	}
	return nil
}
