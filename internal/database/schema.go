package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
)

// Run is one submitted batch: a set of training jobs launched together.
type Run struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"not null"`

	Status         string `gorm:"size:20;not null"`
	CreationTime   time.Time
	CompletionTime sql.NullTime

	TotalJobCount  int `gorm:"default:0"`
	FailedJobCount int `gorm:"default:0"`

	Jobs []TrainingJob `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
}

// TrainingJob is the manifest row for a single spawned training process. The
// rendered argument list is stored verbatim so a run can be audited or
// replayed exactly as it was issued.
type TrainingJob struct {
	Id    uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunId uuid.UUID `gorm:"type:uuid"`
	Run   *Run      `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`

	Program    string `gorm:"not null"`
	Checkpoint string `gorm:"not null"`
	Args       datatypes.JSON

	Status         string `gorm:"size:20;not null"`
	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime
	ExitCode       sql.NullInt32
}
