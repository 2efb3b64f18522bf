package batch_test

import (
	"testing"

	"trainbatch/internal/batch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rate(r float64) *float64 {
	return &r
}

func TestJobSpecArgs(t *testing.T) {
	spec := batch.JobSpec{
		Program:    "train_watermark_cifar.py",
		Checkpoint: "checkpoint/infected_cifar_10",
		Trigger:    "Trigger1.png",
		Alpha:      "Alpha1.png",
		PoisonRate: rate(0.1),
	}

	assert.Equal(t, []string{
		"--checkpoint", "checkpoint/infected_cifar_10",
		"--trigger", "Trigger1.png",
		"--alpha", "Alpha1.png",
		"--poison-rate", "0.1",
	}, spec.Args())
}

func TestJobSpecArgsOmitsUnsetFlags(t *testing.T) {
	spec := batch.JobSpec{Program: "train_cifar.py", Checkpoint: "checkpoint/benign_cifar"}
	assert.Equal(t, []string{"--checkpoint", "checkpoint/benign_cifar"}, spec.Args())

	spec.Model = "vgg"
	assert.Equal(t, []string{"--checkpoint", "checkpoint/benign_cifar", "--model", "vgg"}, spec.Args())
}

func TestJobSpecArgsZeroPoisonRate(t *testing.T) {
	// An explicit zero is rendered; only a nil rate is omitted.
	spec := batch.JobSpec{Program: "train_cifar.py", Checkpoint: "c", PoisonRate: rate(0)}
	assert.Equal(t, []string{"--checkpoint", "c", "--poison-rate", "0"}, spec.Args())
}

func TestJobSpecArgsExtraArgs(t *testing.T) {
	spec := batch.JobSpec{
		Program:    "train_cifar.py",
		Checkpoint: "c",
		ExtraArgs:  []string{"--epochs", "100"},
	}
	assert.Equal(t, []string{"--checkpoint", "c", "--epochs", "100"}, spec.Args())
}

func TestJobSpecValidate(t *testing.T) {
	assert.Error(t, batch.JobSpec{Checkpoint: "c"}.Validate())
	assert.Error(t, batch.JobSpec{Program: "train_cifar.py"}.Validate())
	assert.Error(t, batch.JobSpec{Program: "p", Checkpoint: "c", PoisonRate: rate(1.5)}.Validate())
	assert.Error(t, batch.JobSpec{Program: "p", Checkpoint: "c", PoisonRate: rate(-0.1)}.Validate())
	assert.NoError(t, batch.JobSpec{Program: "p", Checkpoint: "c", PoisonRate: rate(0.25)}.Validate())
	assert.NoError(t, batch.JobSpec{Program: "p", Checkpoint: "c"}.Validate())
}

func TestDefaultBatch(t *testing.T) {
	b := batch.DefaultBatch()
	require.NoError(t, b.Validate())

	// 4 benign baselines + 2 watermark jobs per poison rate.
	assert.Len(t, b.Jobs, 4+2*5)

	checkpoints := make(map[string]bool)
	for _, job := range b.Jobs {
		assert.False(t, checkpoints[job.Checkpoint], "duplicate checkpoint %s", job.Checkpoint)
		checkpoints[job.Checkpoint] = true

		if job.PoisonRate != nil {
			assert.Contains(t, []float64{0.05, 0.1, 0.15, 0.2, 0.25}, *job.PoisonRate)
			assert.NotEmpty(t, job.Trigger)
			assert.NotEmpty(t, job.Alpha)
		}
	}
}

func TestBatchValidate(t *testing.T) {
	assert.Error(t, batch.Batch{Name: "empty"}.Validate())

	b := batch.Batch{
		Name: "bad",
		Jobs: []batch.JobSpec{
			{Program: "p", Checkpoint: "c"},
			{Program: "p"},
		},
	}
	err := b.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job 1")
}
