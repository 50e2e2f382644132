package engine

import (
	"time"

	"github.com/datallboy/nzbleecher/internal/domain"
	"github.com/datallboy/nzbleecher/internal/nzb"
)

// job is one archive the service is responsible for, from enqueue until its
// history record is written.
type job struct {
	archive *nzb.Archive
	nzbPath string
	status  domain.JobStatus
	started time.Time
}

func (j *job) readBytes() (read, skipped int64) {
	for _, f := range j.archive.Files {
		read += f.ReadBytes()
		skipped += f.SkippedBytes()
	}
	return read, skipped
}
