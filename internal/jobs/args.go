// Package jobs defines the River job payloads, their insertion and the periodic schedule.
package jobs

import (
	"time"

	"github.com/riverqueue/river"

	"github.com/turri/tastehub/internal/models"
)

// River queues.
const (
	QueueProfiles = "profiles"
	QueueCatalog  = "catalog"
)

const (
	profileRefreshKind = "profile_refresh"
	catalogRefreshKind = "catalog_refresh"
)

// ProfileRefreshArgs runs one batch driver over the activity recorded after From.
// Uniqueness is by (source, from) so a repeated admin call does not queue the same window twice.
type ProfileRefreshArgs struct {
	Source models.Source `json:"source" river:"unique"`
	From   time.Time     `json:"from"   river:"unique"`
}

// Kind returns the River job kind.
func (ProfileRefreshArgs) Kind() string { return profileRefreshKind }

// InsertOpts routes the job to the profiles queue.
func (ProfileRefreshArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueProfiles, UniqueOpts: river.UniqueOpts{ByArgs: true}}
}

// CatalogRefreshArgs recomputes catalog taste vectors and backfills embeddings.
// At most one is pending at a time.
type CatalogRefreshArgs struct{}

// Kind returns the River job kind.
func (CatalogRefreshArgs) Kind() string { return catalogRefreshKind }

// InsertOpts routes the job to the catalog queue.
func (CatalogRefreshArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueCatalog, UniqueOpts: river.UniqueOpts{ByArgs: true}}
}

var (
	_ river.JobArgsWithInsertOpts = ProfileRefreshArgs{}
	_ river.JobArgsWithInsertOpts = CatalogRefreshArgs{}
)
