package api

import (
	"errors"
	"log/slog"
	"net/http"

	"trainbatch/internal/batch"
	"trainbatch/internal/database"
	"trainbatch/internal/messaging"
	"trainbatch/pkg/models"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// BackendService exposes batch submission and run inspection over HTTP. It
// never launches anything itself: submissions become manifest rows plus a
// launch task; whoever consumes the queue does the spawning.
type BackendService struct {
	db        *gorm.DB
	publisher messaging.Publisher
}

func NewBackendService(db *gorm.DB, publisher messaging.Publisher) *BackendService {
	return &BackendService{db: db, publisher: publisher}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitRun))
		r.Get("/", RestHandler(s.ListRuns))
		r.Get("/{run_id}", RestHandler(s.GetRun))
		r.Get("/{run_id}/jobs", RestHandler(s.ListRunJobs))
	})
	r.Get("/jobs/{job_id}", RestHandler(s.GetJob))
}

func (s *BackendService) SubmitRun(r *http.Request) (any, error) {
	req, err := ParseRequest[models.SubmitRunRequest](r)
	if err != nil {
		return nil, err
	}

	b := batch.Batch{Name: req.Name, Jobs: req.Jobs}
	if len(b.Jobs) == 0 {
		b = batch.DefaultBatch()
		if req.Name != "" {
			b.Name = req.Name
		}
	}

	if req.Filter != "" {
		filter, err := batch.ParseFilter(req.Filter)
		if err != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "invalid filter: %v", err)
		}
		b = batch.Select(b, filter)
	}

	if err := b.Validate(); err != nil {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "invalid batch: %v", err)
	}

	ctx := r.Context()

	run, err := database.CreateRun(ctx, s.db, b)
	if err != nil {
		slog.Error("error creating run", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create run entry")
	}

	if err := s.publisher.PublishLaunchTask(ctx, messaging.LaunchBatchPayload{RunId: run.Id}); err != nil {
		slog.Error("error publishing launch task", "run_id", run.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue launch task")
	}

	slog.Info("submitted run", "run_id", run.Id, "jobs", run.TotalJobCount)
	return models.SubmitRunResponse{Message: "Run submitted", RunId: run.Id, JobCount: run.TotalJobCount}, nil
}

func (s *BackendService) ListRuns(r *http.Request) (any, error) {
	var runs []database.Run
	if err := s.db.WithContext(r.Context()).Order("creation_time desc").Find(&runs).Error; err != nil {
		slog.Error("error listing runs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving runs")
	}

	out := make([]models.Run, len(runs))
	for i, run := range runs {
		out[i] = database.ToAPIRun(run)
	}
	return out, nil
}

func (s *BackendService) GetRun(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	var run database.Run
	if err := s.db.WithContext(r.Context()).First(&run, "id = ?", runId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "run not found")
		}
		slog.Error("error getting run", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving run record")
	}

	return database.ToAPIRun(run), nil
}

type listJobsQuery struct {
	Status string
}

func (s *BackendService) ListRunJobs(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	query, err := ParseRequestQueryParams[listJobsQuery](r)
	if err != nil {
		return nil, err
	}

	txn := s.db.WithContext(r.Context()).Where("run_id = ?", runId)
	if query.Status != "" {
		txn = txn.Where("status = ?", query.Status)
	}

	var jobs []database.TrainingJob
	if err := txn.Order("creation_time").Find(&jobs).Error; err != nil {
		slog.Error("error listing run jobs", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving jobs")
	}

	out := make([]models.TrainingJob, len(jobs))
	for i, job := range jobs {
		out[i] = database.ToAPIJob(job)
	}
	return out, nil
}

func (s *BackendService) GetJob(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	var job database.TrainingJob
	if err := s.db.WithContext(r.Context()).First(&job, "id = ?", jobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "job not found")
		}
		slog.Error("error getting job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving job record")
	}

	return database.ToAPIJob(job), nil
}
