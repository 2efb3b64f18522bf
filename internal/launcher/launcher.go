package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"trainbatch/internal/batch"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
)

// Job is one process to spawn: a program plus its rendered argument list.
// The id ties the job to its manifest row; the zero uuid means the job is
// untracked.
type Job struct {
	Id         uuid.UUID
	Program    string
	Checkpoint string
	Args       []string
}

// JobsFromBatch renders a batch into launchable jobs. Ids are assigned by the
// caller when the batch is recorded in a manifest; here they stay zero.
func JobsFromBatch(b batch.Batch) []Job {
	jobs := make([]Job, len(b.Jobs))
	for i, spec := range b.Jobs {
		jobs[i] = Job{
			Program:    spec.Program,
			Checkpoint: spec.Checkpoint,
			Args:       spec.Args(),
		}
	}
	return jobs
}

func (j Job) name() string {
	if j.Checkpoint != "" {
		return j.Checkpoint
	}
	return j.Program
}

type JobResult struct {
	Job Job

	// ExitCode is the process exit status, or -1 if the process could not
	// be started.
	ExitCode int

	StartTime      time.Time
	CompletionTime time.Time

	// Err is set only when the process failed to start. A started process
	// that exits non-zero is not an error here; its status lives in
	// ExitCode.
	Err error
}

func (r JobResult) Succeeded() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Recorder receives job state transitions. Implementations must tolerate
// concurrent calls, one goroutine per job.
type Recorder interface {
	JobStarted(ctx context.Context, jobId uuid.UUID, start time.Time) error
	JobFinished(ctx context.Context, jobId uuid.UUID, exitCode int, completion time.Time) error
}

// Launcher starts every job of a batch as an independent OS process and
// blocks until all of them have exited. Jobs share no state; a failing job
// never stops or delays its siblings, and exit statuses are recorded but not
// aggregated into the launcher's own outcome.
type Launcher struct {
	// Python is the interpreter the training programs are run with. When
	// empty, the job's program is executed directly.
	Python string

	// ScriptDir is prepended to job programs when Python is set.
	ScriptDir string

	// MaxParallel bounds the number of concurrently running processes.
	// Zero means unbounded: all jobs are started immediately, which is the
	// historical behavior.
	MaxParallel int

	// Recorder, when set, is notified of job state transitions.
	Recorder Recorder

	// Progress, when true, renders a terminal progress bar ticking once
	// per finished job.
	Progress bool

	// Output receives a copy of every job's stdout and stderr in addition
	// to the per-job log file. Typically os.Stderr for the CLI, nil for
	// servers.
	Output io.Writer
}

// Run starts all jobs and blocks until every one of them has exited. It
// returns one result per job, in job order. Individual job failures never
// abort the batch; they are reported in the results only.
func (l *Launcher) Run(ctx context.Context, jobs []Job) []JobResult {
	results := make([]JobResult, len(jobs))

	var bar *progressbar.ProgressBar
	if l.Progress {
		bar = progressbar.NewOptions(len(jobs),
			progressbar.OptionSetDescription("training"),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
	}

	var sem chan struct{}
	if l.MaxParallel > 0 {
		sem = make(chan struct{}, l.MaxParallel)
	}

	var wg sync.WaitGroup
	for i := range jobs {
		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()

			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}

			results[i] = l.runJob(ctx, job)

			if bar != nil {
				if err := bar.Add(1); err != nil {
					slog.Error("error updating progress bar", "error", err)
				}
			}
		}(i, jobs[i])
	}

	wg.Wait()

	slog.Info("all training jobs finished", "jobs", len(jobs))

	return results
}

func (l *Launcher) runJob(ctx context.Context, job Job) JobResult {
	result := JobResult{Job: job, StartTime: time.Now().UTC()}

	cmd := l.command(ctx, job)

	logFile, err := l.openLogFile(job)
	if err != nil {
		slog.Error("error opening job log file", "job", job.name(), "error", err)
	} else {
		defer logFile.Close()
		if l.Output != nil {
			cmd.Stdout = io.MultiWriter(logFile, l.Output)
		} else {
			cmd.Stdout = logFile
		}
		cmd.Stderr = cmd.Stdout
	}

	if err := cmd.Start(); err != nil {
		slog.Error("error starting training job", "job", job.name(), "error", err)
		result.Err = fmt.Errorf("error starting job %s: %w", job.name(), err)
		result.ExitCode = -1
		result.CompletionTime = time.Now().UTC()
		l.recordFinished(ctx, job, result)
		return result
	}

	slog.Info("started training job", "job", job.name(), "pid", cmd.Process.Pid)
	l.recordStarted(ctx, job, result.StartTime)

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.Err = fmt.Errorf("error waiting for job %s: %w", job.name(), err)
			result.ExitCode = -1
		}
	}

	result.CompletionTime = time.Now().UTC()

	if result.Succeeded() {
		slog.Info("training job finished", "job", job.name())
	} else {
		slog.Warn("training job failed", "job", job.name(), "exit_code", result.ExitCode)
	}

	l.recordFinished(ctx, job, result)

	return result
}

func (l *Launcher) command(ctx context.Context, job Job) *exec.Cmd {
	if l.Python == "" {
		return exec.CommandContext(ctx, job.Program, job.Args...)
	}

	argv := append([]string{filepath.Join(l.ScriptDir, job.Program)}, job.Args...)
	return exec.CommandContext(ctx, l.Python, argv...)
}

func (l *Launcher) openLogFile(job Job) (*os.File, error) {
	if job.Checkpoint == "" {
		return nil, fmt.Errorf("job %s has no checkpoint dir for logs", job.Program)
	}
	if err := os.MkdirAll(job.Checkpoint, os.ModePerm); err != nil {
		return nil, fmt.Errorf("error creating checkpoint dir %s: %w", job.Checkpoint, err)
	}
	return os.OpenFile(filepath.Join(job.Checkpoint, "train.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
}

func (l *Launcher) recordStarted(ctx context.Context, job Job, start time.Time) {
	if l.Recorder == nil || job.Id == uuid.Nil {
		return
	}
	if err := l.Recorder.JobStarted(ctx, job.Id, start); err != nil {
		slog.Error("error recording job start", "job_id", job.Id, "error", err)
	}
}

func (l *Launcher) recordFinished(ctx context.Context, job Job, result JobResult) {
	if l.Recorder == nil || job.Id == uuid.Nil {
		return
	}
	if err := l.Recorder.JobFinished(ctx, job.Id, result.ExitCode, result.CompletionTime); err != nil {
		slog.Error("error recording job completion", "job_id", job.Id, "error", err)
	}
}
