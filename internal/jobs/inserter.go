package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/turri/tastehub/internal/models"
)

// Enqueued describes an inserted (or deduplicated) job.
type Enqueued struct {
	JobID     int64 `json:"job_id"`
	Duplicate bool  `json:"duplicate"`
}

// JobInserter enqueues background work without exposing River to callers.
type JobInserter interface {
	InsertProfileRefresh(ctx context.Context, source models.Source, from time.Time) (Enqueued, error)
	InsertCatalogRefresh(ctx context.Context) (Enqueued, error)
}

// riverInserter is the subset of *river.Client used for inserts.
type riverInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// RiverJobInserter implements JobInserter using the River client.
type RiverJobInserter struct {
	client riverInserter
}

// NewRiverJobInserter creates a new River-based job inserter.
func NewRiverJobInserter(client riverInserter) *RiverJobInserter {
	return &RiverJobInserter{client: client}
}

// InsertProfileRefresh enqueues a batch refresh of source over the window starting at from.
func (r *RiverJobInserter) InsertProfileRefresh(ctx context.Context, source models.Source, from time.Time) (Enqueued, error) {
	return r.insert(ctx, ProfileRefreshArgs{Source: source, From: from.UTC()})
}

// InsertCatalogRefresh enqueues a catalog refresh.
func (r *RiverJobInserter) InsertCatalogRefresh(ctx context.Context) (Enqueued, error) {
	return r.insert(ctx, CatalogRefreshArgs{})
}

func (r *RiverJobInserter) insert(ctx context.Context, args river.JobArgs) (Enqueued, error) {
	res, err := r.client.Insert(ctx, args, nil)
	if err != nil {
		return Enqueued{}, fmt.Errorf("insert %s job: %w", args.Kind(), err)
	}

	out := Enqueued{Duplicate: res.UniqueSkippedAsDuplicate}
	if res.Job != nil {
		out.JobID = res.Job.ID
	}

	return out, nil
}
