package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// UploadCheckpoints syncs each job's checkpoint directory into the artifact
// bucket under the run id. Missing checkpoint dirs (e.g. a job that failed
// before creating one) are skipped. Upload errors for one checkpoint do not
// stop the others.
func UploadCheckpoints(ctx context.Context, store Provider, bucket, runId string, checkpoints []string) error {
	if err := store.CreateBucket(ctx, bucket); err != nil {
		return fmt.Errorf("error creating artifact bucket %s: %w", bucket, err)
	}

	var errs []error
	for _, dir := range checkpoints {
		if _, err := os.Stat(dir); err != nil {
			continue
		}

		prefix := filepath.Join(runId, filepath.Base(dir))
		if err := store.UploadDir(ctx, bucket, prefix, dir); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
