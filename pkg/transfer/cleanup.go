package transfer

import (
	"os"
	"path/filepath"

	"github.com/transloadr/transloader/pkg/logx"
)

// Cleaner removes a job's staging directory after the job reaches a
// terminal state. Removal is idempotent: a missing directory is success,
// and failures are logged without ever touching job status.
type Cleaner struct {
	stagingDir string
}

// NewCleaner creates a cleaner rooted at the staging directory.
func NewCleaner(stagingDir string) *Cleaner {
	return &Cleaner{stagingDir: stagingDir}
}

// JobDir returns the per-job staging directory.
func (c *Cleaner) JobDir(jobID string) string {
	return filepath.Join(c.stagingDir, jobID)
}

// Cleanup removes the job's staging directory and everything under it.
func (c *Cleaner) Cleanup(jobID string) {
	dir := c.JobDir(jobID)
	if err := os.RemoveAll(dir); err != nil {
		logx.WithError(err).WithField("job_id", jobID).Warn("transfer: staging cleanup failed")
		return
	}
	logx.WithField("job_id", jobID).Debug("transfer: staging cleaned")
}
