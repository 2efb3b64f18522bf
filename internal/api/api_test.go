package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"trainbatch/internal/api"
	"trainbatch/internal/batch"
	"trainbatch/internal/database"
	"trainbatch/internal/messaging"
	"trainbatch/pkg/models"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testBackend struct {
	db     *gorm.DB
	queue  *messaging.InMemoryQueue
	router chi.Router
}

func createBackend(t *testing.T) *testBackend {
	t.Helper()

	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	queue := messaging.NewInMemoryQueue()

	router := chi.NewRouter()
	api.NewBackendService(db, queue).AddRoutes(router)

	return &testBackend{db: db, queue: queue, router: router}
}

func (b *testBackend) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, req)
	return w
}

func parseResponse[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func rate(r float64) *float64 {
	return &r
}

func TestHealth(t *testing.T) {
	backend := createBackend(t)

	w := backend.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitRun(t *testing.T) {
	backend := createBackend(t)

	w := backend.request(t, http.MethodPost, "/runs", models.SubmitRunRequest{
		Name: "sweep",
		Jobs: []batch.JobSpec{
			{Program: "train_cifar.py", Checkpoint: "checkpoint/benign_cifar"},
			{Program: "train_watermark_cifar.py", Checkpoint: "checkpoint/infected_cifar_10", Trigger: "Trigger1.png", PoisonRate: rate(0.1)},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	res := parseResponse[models.SubmitRunResponse](t, w)
	assert.Equal(t, 2, res.JobCount)

	// Submission persists the manifest and queues exactly one launch task.
	run, err := database.GetRun(context.Background(), backend.db, res.RunId)
	require.NoError(t, err)
	assert.Equal(t, database.JobQueued, run.Status)
	assert.Len(t, run.Jobs, 2)

	backend.queue.Close()
	var tasks []messaging.Task
	for task := range backend.queue.Tasks() {
		tasks = append(tasks, task)
	}
	require.Len(t, tasks, 1)
	assert.Equal(t, messaging.LaunchQueue, tasks[0].Type())

	var payload messaging.LaunchBatchPayload
	require.NoError(t, json.Unmarshal(tasks[0].Payload(), &payload))
	assert.Equal(t, res.RunId, payload.RunId)
}

func TestSubmitRunDefaultBatch(t *testing.T) {
	backend := createBackend(t)

	w := backend.request(t, http.MethodPost, "/runs", models.SubmitRunRequest{})
	require.Equal(t, http.StatusOK, w.Code)

	res := parseResponse[models.SubmitRunResponse](t, w)
	assert.Equal(t, len(batch.DefaultBatch().Jobs), res.JobCount)
}

func TestSubmitRunWithFilter(t *testing.T) {
	backend := createBackend(t)

	w := backend.request(t, http.MethodPost, "/runs", models.SubmitRunRequest{
		Filter: `program CONTAINS "watermark" AND poison_rate = 0.1`,
	})
	require.Equal(t, http.StatusOK, w.Code)

	res := parseResponse[models.SubmitRunResponse](t, w)
	assert.Equal(t, 2, res.JobCount)
}

func TestSubmitRunErrors(t *testing.T) {
	backend := createBackend(t)

	w := backend.request(t, http.MethodPost, "/runs", models.SubmitRunRequest{Filter: `bogus = "x"`})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// A filter matching nothing leaves an empty, invalid batch.
	w = backend.request(t, http.MethodPost, "/runs", models.SubmitRunRequest{Filter: `model = "alexnet"`})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = backend.request(t, http.MethodPost, "/runs", models.SubmitRunRequest{
		Jobs: []batch.JobSpec{{Program: "train_cifar.py"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestListRuns(t *testing.T) {
	backend := createBackend(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := database.CreateRun(ctx, backend.db, batch.Batch{
			Name: fmt.Sprintf("run-%d", i),
			Jobs: []batch.JobSpec{{Program: "train_cifar.py", Checkpoint: fmt.Sprintf("checkpoint/c%d", i)}},
		})
		require.NoError(t, err)
	}

	w := backend.request(t, http.MethodGet, "/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)

	runs := parseResponse[[]models.Run](t, w)
	assert.Len(t, runs, 3)
}

func TestGetRun(t *testing.T) {
	backend := createBackend(t)

	run, err := database.CreateRun(context.Background(), backend.db, batch.Batch{
		Name: "single",
		Jobs: []batch.JobSpec{{Program: "train_cifar.py", Checkpoint: "checkpoint/benign_cifar"}},
	})
	require.NoError(t, err)

	w := backend.request(t, http.MethodGet, "/runs/"+run.Id.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	res := parseResponse[models.Run](t, w)
	assert.Equal(t, run.Id, res.Id)
	assert.Equal(t, "single", res.Name)
	assert.Equal(t, database.JobQueued, res.Status)
	assert.Nil(t, res.CompletionTime)

	w = backend.request(t, http.MethodGet, "/runs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = backend.request(t, http.MethodGet, "/runs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRunJobs(t *testing.T) {
	backend := createBackend(t)
	ctx := context.Background()

	run, err := database.CreateRun(ctx, backend.db, batch.Batch{
		Name: "jobs",
		Jobs: []batch.JobSpec{
			{Program: "train_cifar.py", Checkpoint: "checkpoint/c1"},
			{Program: "train_gtsrb.py", Checkpoint: "checkpoint/c2"},
		},
	})
	require.NoError(t, err)

	recorder := &database.JobRecorder{DB: backend.db}
	require.NoError(t, recorder.JobStarted(ctx, run.Jobs[0].Id, run.CreationTime))

	w := backend.request(t, http.MethodGet, "/runs/"+run.Id.String()+"/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, parseResponse[[]models.TrainingJob](t, w), 2)

	w = backend.request(t, http.MethodGet, "/runs/"+run.Id.String()+"/jobs?Status=RUNNING", nil)
	require.Equal(t, http.StatusOK, w.Code)

	running := parseResponse[[]models.TrainingJob](t, w)
	require.Len(t, running, 1)
	assert.Equal(t, run.Jobs[0].Id, running[0].Id)
	assert.NotNil(t, running[0].StartTime)
}

func TestGetJob(t *testing.T) {
	backend := createBackend(t)

	run, err := database.CreateRun(context.Background(), backend.db, batch.Batch{
		Name: "job",
		Jobs: []batch.JobSpec{{
			Program:    "train_watermark_gtsrb.py",
			Checkpoint: "checkpoint/infected_gtsrb_5",
			Trigger:    "Trigger2.png",
			Alpha:      "Alpha2.png",
			PoisonRate: rate(0.05),
		}},
	})
	require.NoError(t, err)

	w := backend.request(t, http.MethodGet, "/jobs/"+run.Jobs[0].Id.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	job := parseResponse[models.TrainingJob](t, w)
	assert.Equal(t, "train_watermark_gtsrb.py", job.Program)
	assert.Equal(t, []string{
		"--checkpoint", "checkpoint/infected_gtsrb_5",
		"--trigger", "Trigger2.png",
		"--alpha", "Alpha2.png",
		"--poison-rate", "0.05",
	}, job.Args)
	assert.Nil(t, job.ExitCode)

	w = backend.request(t, http.MethodGet, "/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
