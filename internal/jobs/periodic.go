package jobs

import (
	"time"

	"github.com/riverqueue/river"

	"github.com/turri/tastehub/internal/models"
)

// PeriodicJobs schedules both profile refreshes over the trailing lookback window and a catalog
// refresh every interval. A non-positive interval schedules nothing.
func PeriodicJobs(interval, lookback time.Duration, now func() time.Time) []*river.PeriodicJob {
	if interval <= 0 {
		return nil
	}

	if now == nil {
		now = time.Now
	}

	refresh := func(source models.Source) *river.PeriodicJob {
		return river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return ProfileRefreshArgs{Source: source, From: now().UTC().Add(-lookback).Truncate(time.Second)}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: false},
		)
	}

	return []*river.PeriodicJob{
		refresh(models.SourcePurchaseHistory),
		refresh(models.SourceWebAnalytics),
		river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return CatalogRefreshArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: false},
		),
	}
}
