package database

import (
	"encoding/json"
	"log/slog"
	"time"

	"trainbatch/pkg/models"
)

func ToAPIRun(run Run) models.Run {
	return models.Run{
		Id:             run.Id,
		Name:           run.Name,
		Status:         run.Status,
		CreationTime:   run.CreationTime,
		CompletionTime: nullTime(run.CompletionTime.Time, run.CompletionTime.Valid),
		TotalJobCount:  run.TotalJobCount,
		FailedJobCount: run.FailedJobCount,
	}
}

func ToAPIJob(job TrainingJob) models.TrainingJob {
	var args []string
	if len(job.Args) > 0 {
		if err := json.Unmarshal(job.Args, &args); err != nil {
			slog.Error("error unmarshalling job args", "job_id", job.Id, "error", err)
		}
	}

	out := models.TrainingJob{
		Id:             job.Id,
		RunId:          job.RunId,
		Program:        job.Program,
		Checkpoint:     job.Checkpoint,
		Args:           args,
		Status:         job.Status,
		CreationTime:   job.CreationTime,
		StartTime:      nullTime(job.StartTime.Time, job.StartTime.Valid),
		CompletionTime: nullTime(job.CompletionTime.Time, job.CompletionTime.Valid),
	}

	if job.ExitCode.Valid {
		code := int(job.ExitCode.Int32)
		out.ExitCode = &code
	}

	return out
}

func nullTime(t time.Time, valid bool) *time.Time {
	if !valid {
		return nil
	}
	return &t
}
