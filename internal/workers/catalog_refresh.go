package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/turri/tastehub/internal/jobs"
	"github.com/turri/tastehub/internal/models"
)

// catalogRefresher is the minimal interface needed by the worker.
type catalogRefresher interface {
	Refresh(ctx context.Context) (models.CatalogRefreshResult, error)
}

// CatalogRefreshWorker recomputes catalog taste vectors and backfills embeddings.
type CatalogRefreshWorker struct {
	river.WorkerDefaults[jobs.CatalogRefreshArgs]

	refresher catalogRefresher
	logger    *slog.Logger
}

// NewCatalogRefreshWorker creates the worker. logger may be nil.
func NewCatalogRefreshWorker(refresher catalogRefresher, logger *slog.Logger) *CatalogRefreshWorker {
	if logger == nil {
		logger = slog.Default()
	}

	return &CatalogRefreshWorker{refresher: refresher, logger: logger}
}

// Timeout limits how long a single catalog refresh can run.
func (w *CatalogRefreshWorker) Timeout(*river.Job[jobs.CatalogRefreshArgs]) time.Duration {
	return RefreshJobTimeout
}

// Work runs the refresh. Embeddings already written stay written when a later batch fails,
// so a retry only embeds what is still missing.
func (w *CatalogRefreshWorker) Work(ctx context.Context, job *river.Job[jobs.CatalogRefreshArgs]) error {
	result, err := w.refresher.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("catalog refresh: %w", err)
	}

	w.logger.Info("catalog refresh: done",
		"job_id", job.ID,
		"product_tastes", result.ProductTastes,
		"producer_tastes", result.ProducerTastes,
		"product_embeddings", result.ProductEmbeddings,
		"producer_embeddings", result.ProducerEmbeddings,
	)

	return nil
}
