package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	LaunchQueue     = "launch_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// LaunchBatchPayload tells a worker to launch the run's jobs. The job specs
// themselves live in the manifest database; the payload only carries the id.
type LaunchBatchPayload struct {
	RunId uuid.UUID
}

type Publisher interface {
	PublishLaunchTask(ctx context.Context, payload LaunchBatchPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
