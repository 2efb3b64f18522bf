package models

import (
	"time"

	"trainbatch/internal/batch"

	"github.com/google/uuid"
)

// --- API request/response structs ---

type SubmitRunRequest struct {
	// Name labels the run; defaults to the batch name when empty.
	Name string

	// Jobs is the batch to launch. When empty the built-in default batch
	// is used.
	Jobs []batch.JobSpec

	// Filter optionally selects a subset of the jobs, e.g.
	// `model = "vgg" AND poison_rate > 0.1`.
	Filter string
}

type SubmitRunResponse struct {
	Message  string
	RunId    uuid.UUID
	JobCount int
}

type Run struct {
	Id             uuid.UUID
	Name           string
	Status         string
	CreationTime   time.Time
	CompletionTime *time.Time `json:",omitempty"`
	TotalJobCount  int
	FailedJobCount int
}

type TrainingJob struct {
	Id             uuid.UUID
	RunId          uuid.UUID
	Program        string
	Checkpoint     string
	Args           []string
	Status         string
	CreationTime   time.Time
	StartTime      *time.Time `json:",omitempty"`
	CompletionTime *time.Time `json:",omitempty"`
	ExitCode       *int       `json:",omitempty"`
}
