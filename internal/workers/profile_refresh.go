// Package workers provides River job workers for profile and catalog refreshes.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/turri/tastehub/internal/huberrors"
	"github.com/turri/tastehub/internal/jobs"
	"github.com/turri/tastehub/internal/models"
)

// RefreshJobTimeout bounds one batch refresh, which walks every active customer of the window.
const RefreshJobTimeout = 30 * time.Minute

// profileRefresher is the minimal interface needed by the worker.
type profileRefresher interface {
	Refresh(ctx context.Context, source models.Source, from time.Time) (models.RefreshResult, error)
}

// ProfileRefreshWorker runs the batch driver named by the job.
type ProfileRefreshWorker struct {
	river.WorkerDefaults[jobs.ProfileRefreshArgs]

	refresher profileRefresher
	logger    *slog.Logger
}

// NewProfileRefreshWorker creates the worker. logger may be nil.
func NewProfileRefreshWorker(refresher profileRefresher, logger *slog.Logger) *ProfileRefreshWorker {
	if logger == nil {
		logger = slog.Default()
	}

	return &ProfileRefreshWorker{refresher: refresher, logger: logger}
}

// Timeout limits how long a single refresh can run.
func (w *ProfileRefreshWorker) Timeout(*river.Job[jobs.ProfileRefreshArgs]) time.Duration {
	return RefreshJobTimeout
}

// Work runs the refresh. Per-customer failures are part of the tally, not job errors;
// an invalid source cancels the job instead of retrying it.
func (w *ProfileRefreshWorker) Work(ctx context.Context, job *river.Job[jobs.ProfileRefreshArgs]) error {
	args := job.Args

	result, err := w.refresher.Refresh(ctx, args.Source, args.From)
	if err != nil {
		if errors.Is(err, huberrors.ErrValidation) {
			w.logger.Error("profile refresh: invalid job", "job_id", job.ID, "source", string(args.Source), "error", err)

			return river.JobCancel(err)
		}

		return fmt.Errorf("profile refresh %s: %w", args.Source, err)
	}

	w.logger.Info("profile refresh: done",
		"job_id", job.ID,
		"source", string(args.Source),
		"from", args.From,
		"success", result.Success,
		"failures", result.Failures,
	)

	return nil
}
