package batch

import (
	"fmt"
	"strconv"
)

// JobSpec describes a single training job: the training program to run and
// the flags it is invoked with. Specs are immutable once constructed; the
// launcher only reads them.
type JobSpec struct {
	Program    string   `yaml:"program" json:"Program"`
	Checkpoint string   `yaml:"checkpoint" json:"Checkpoint"`
	Model      string   `yaml:"model,omitempty" json:"Model,omitempty"`
	Trigger    string   `yaml:"trigger,omitempty" json:"Trigger,omitempty"`
	Alpha      string   `yaml:"alpha,omitempty" json:"Alpha,omitempty"`
	PoisonRate *float64 `yaml:"poison_rate,omitempty" json:"PoisonRate,omitempty"`
	ExtraArgs  []string `yaml:"extra_args,omitempty" json:"ExtraArgs,omitempty"`
}

// Args renders the argument list exactly as the external training CLIs
// consume it. Unset optional fields produce no flag, so the training program
// falls back to its own defaults.
func (j JobSpec) Args() []string {
	args := []string{"--checkpoint", j.Checkpoint}
	if j.Model != "" {
		args = append(args, "--model", j.Model)
	}
	if j.Trigger != "" {
		args = append(args, "--trigger", j.Trigger)
	}
	if j.Alpha != "" {
		args = append(args, "--alpha", j.Alpha)
	}
	if j.PoisonRate != nil {
		args = append(args, "--poison-rate", strconv.FormatFloat(*j.PoisonRate, 'g', -1, 64))
	}
	return append(args, j.ExtraArgs...)
}

func (j JobSpec) Validate() error {
	if j.Program == "" {
		return fmt.Errorf("job spec is missing a program")
	}
	if j.Checkpoint == "" {
		return fmt.Errorf("job spec for %s is missing a checkpoint path", j.Program)
	}
	if j.PoisonRate != nil && (*j.PoisonRate < 0 || *j.PoisonRate > 1) {
		return fmt.Errorf("job spec for %s has poison rate %v outside [0, 1]", j.Program, *j.PoisonRate)
	}
	return nil
}

// Name is a short human readable identifier used for log file names and
// progress output. It is derived from the checkpoint path, which is unique
// per job in any sane batch.
func (j JobSpec) Name() string {
	if j.Checkpoint != "" {
		return j.Checkpoint
	}
	return j.Program
}

type Batch struct {
	Name string    `yaml:"name"`
	Jobs []JobSpec `yaml:"jobs"`
}

func (b Batch) Validate() error {
	if len(b.Jobs) == 0 {
		return fmt.Errorf("batch %q contains no jobs", b.Name)
	}
	for i, job := range b.Jobs {
		if err := job.Validate(); err != nil {
			return fmt.Errorf("batch %q job %d: %w", b.Name, i, err)
		}
	}
	return nil
}

func rate(r float64) *float64 {
	return &r
}

// DefaultBatch is the built-in experiment grid: benign baselines for each
// architecture plus watermark runs sweeping the poison rate, for both CIFAR
// and GTSRB.
func DefaultBatch() Batch {
	jobs := []JobSpec{
		{Program: "train_cifar.py", Checkpoint: "checkpoint/benign_cifar"},
		{Program: "train_cifar.py", Checkpoint: "checkpoint/benign_cifar_vgg", Model: "vgg"},
		{Program: "train_cifar.py", Checkpoint: "checkpoint/benign_cifar_resnet", Model: "resnet"},
		{Program: "train_gtsrb.py", Checkpoint: "checkpoint/benign_gtsrb"},
	}

	for _, pr := range []float64{0.05, 0.1, 0.15, 0.2, 0.25} {
		pct := int(pr * 100)
		jobs = append(jobs,
			JobSpec{
				Program:    "train_watermark_cifar.py",
				Checkpoint: fmt.Sprintf("checkpoint/infected_cifar_%d", pct),
				Trigger:    "Trigger1.png",
				Alpha:      "Alpha1.png",
				PoisonRate: rate(pr),
			},
			JobSpec{
				Program:    "train_watermark_gtsrb.py",
				Checkpoint: fmt.Sprintf("checkpoint/infected_gtsrb_%d", pct),
				Trigger:    "Trigger2.png",
				Alpha:      "Alpha2.png",
				PoisonRate: rate(pr),
			},
		)
	}

	return Batch{Name: "default", Jobs: jobs}
}
