package scheduler

import (
	"context"
	"time"

	"github.com/example/session-timer/internal/application"
)

const (
	// ExpiryScanJob is the name of the job that expires and flags sessions.
	ExpiryScanJob = "expiry-scan"
	// SnapshotJob is the name of the job that writes the local cache.
	SnapshotJob = "snapshot"
)

// Collection is what the periodic jobs act on.
type Collection interface {
	Scan(ctx context.Context) (application.ScanResult, error)
	Snapshot(ctx context.Context) error
}

// CollectionJobs returns the expiry scan and snapshot jobs for c.
func CollectionJobs(c Collection, scanEvery, snapshotEvery time.Duration) []Job {
	return []Job{
		{
			Name:  ExpiryScanJob,
			Every: scanEvery,
			Run: func(ctx context.Context) error {
				_, err := c.Scan(ctx)
				return err
			},
		},
		{
			Name:  SnapshotJob,
			Every: snapshotEvery,
			Run:   c.Snapshot,
		},
	}
}
