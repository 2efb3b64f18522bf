package database_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"trainbatch/internal/batch"
	"trainbatch/internal/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func createDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return db
}

func rate(r float64) *float64 {
	return &r
}

func testBatch() batch.Batch {
	return batch.Batch{
		Name: "test-batch",
		Jobs: []batch.JobSpec{
			{Program: "train_cifar.py", Checkpoint: "checkpoint/benign_cifar"},
			{
				Program:    "train_watermark_cifar.py",
				Checkpoint: "checkpoint/infected_cifar_10",
				Trigger:    "Trigger1.png",
				Alpha:      "Alpha1.png",
				PoisonRate: rate(0.1),
			},
		},
	}
}

func TestCreateAndGetRun(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()

	run, err := database.CreateRun(ctx, db, testBatch())
	require.NoError(t, err)

	loaded, err := database.GetRun(ctx, db, run.Id)
	require.NoError(t, err)

	assert.Equal(t, "test-batch", loaded.Name)
	assert.Equal(t, database.JobQueued, loaded.Status)
	assert.Equal(t, 2, loaded.TotalJobCount)
	assert.Equal(t, 0, loaded.FailedJobCount)
	assert.False(t, loaded.CompletionTime.Valid)
	require.Len(t, loaded.Jobs, 2)

	for _, job := range loaded.Jobs {
		assert.Equal(t, run.Id, job.RunId)
		assert.Equal(t, database.JobQueued, job.Status)
		assert.False(t, job.StartTime.Valid)
		assert.False(t, job.ExitCode.Valid)
	}
}

func TestCreateRunFreezesArgs(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()

	b := testBatch()
	run, err := database.CreateRun(ctx, db, b)
	require.NoError(t, err)

	loaded, err := database.GetRun(ctx, db, run.Id)
	require.NoError(t, err)

	for i, job := range loaded.Jobs {
		var args []string
		require.NoError(t, json.Unmarshal(job.Args, &args))
		assert.Equal(t, b.Jobs[i].Args(), args)
	}
}

func TestGetRunNotFound(t *testing.T) {
	db := createDB(t)

	_, err := database.GetRun(context.Background(), db, uuid.New())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestUpdateRunStatus(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()

	run, err := database.CreateRun(ctx, db, testBatch())
	require.NoError(t, err)

	require.NoError(t, database.UpdateRunStatus(ctx, db, run.Id, database.JobRunning))
	loaded, err := database.GetRun(ctx, db, run.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobRunning, loaded.Status)
	assert.False(t, loaded.CompletionTime.Valid)

	require.NoError(t, database.UpdateRunStatus(ctx, db, run.Id, database.JobCompleted))
	loaded, err = database.GetRun(ctx, db, run.Id)
	require.NoError(t, err)
	assert.Equal(t, database.JobCompleted, loaded.Status)
	assert.True(t, loaded.CompletionTime.Valid)
}

func TestSetRunFailedJobCount(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()

	run, err := database.CreateRun(ctx, db, testBatch())
	require.NoError(t, err)

	require.NoError(t, database.SetRunFailedJobCount(ctx, db, run.Id, 1))

	loaded, err := database.GetRun(ctx, db, run.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.FailedJobCount)
}

func TestJobRecorder(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()

	run, err := database.CreateRun(ctx, db, testBatch())
	require.NoError(t, err)
	require.Len(t, run.Jobs, 2)

	recorder := &database.JobRecorder{DB: db}
	start := time.Now().UTC()

	require.NoError(t, recorder.JobStarted(ctx, run.Jobs[0].Id, start))
	require.NoError(t, recorder.JobStarted(ctx, run.Jobs[1].Id, start))
	require.NoError(t, recorder.JobFinished(ctx, run.Jobs[0].Id, 0, time.Now().UTC()))
	require.NoError(t, recorder.JobFinished(ctx, run.Jobs[1].Id, 2, time.Now().UTC()))

	loaded, err := database.GetRun(ctx, db, run.Id)
	require.NoError(t, err)

	byId := make(map[string]database.TrainingJob)
	for _, job := range loaded.Jobs {
		byId[job.Id.String()] = job
	}

	succeeded := byId[run.Jobs[0].Id.String()]
	assert.Equal(t, database.JobCompleted, succeeded.Status)
	require.True(t, succeeded.ExitCode.Valid)
	assert.Equal(t, int32(0), succeeded.ExitCode.Int32)
	assert.True(t, succeeded.StartTime.Valid)
	assert.True(t, succeeded.CompletionTime.Valid)

	failed := byId[run.Jobs[1].Id.String()]
	assert.Equal(t, database.JobFailed, failed.Status)
	require.True(t, failed.ExitCode.Valid)
	assert.Equal(t, int32(2), failed.ExitCode.Int32)
}
