// Package readings provides the local repository for meter-reading records,
// including the predicate queries the sync engine depends on.
package readings

import (
	"context"
	"time"

	"github.com/dmitrijs2005/meterlog/internal/models"
)

type Repository interface {
	// CreateOrUpdate upserts the full record by id.
	CreateOrUpdate(ctx context.Context, r *models.Reading) error

	// GetByID returns the record or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.Reading, error)

	// ListActive returns non-deleted records for the owner, optionally
	// filtered by meter type (empty = all types). ownerID "" selects
	// unowned local-only records.
	ListActive(ctx context.Context, ownerID string, meterType models.MeterType) ([]*models.Reading, error)

	// ListPushable returns the owner's records with status Pending or Error.
	ListPushable(ctx context.Context, ownerID string) ([]*models.Reading, error)

	// ListConflicts returns the owner's records with status Conflict.
	ListConflicts(ctx context.Context, ownerID string) ([]*models.Reading, error)

	// PendingCount counts the owner's records with status Pending.
	PendingCount(ctx context.Context, ownerID string) (int, error)

	// SetSyncStatus updates only the sync status of a record.
	SetSyncStatus(ctx context.Context, id string, status models.SyncStatus) error

	// SetDeviceID backfills the device id of a record.
	SetDeviceID(ctx context.Context, id string, deviceID string) error

	// MigrateUnversioned moves the owner's records with version == 0 to
	// version 1 / Pending / the given device id. Returns the number of
	// rows touched.
	MigrateUnversioned(ctx context.Context, ownerID, deviceID string) (int64, error)

	// BackfillTimestamps repairs rows imported from the v1 schema that
	// have no created_at: created_at is set from observed_at, modified_at
	// to now. Returns the number of rows touched.
	BackfillTimestamps(ctx context.Context, now time.Time) (int64, error)

	// AdoptUnowned claims every unowned record for the owner: sets the
	// owner, marks it Pending and stamps version/device where missing.
	// Returns the number of rows claimed.
	AdoptUnowned(ctx context.Context, ownerID, deviceID string) (int64, error)

	// Delete removes the record row permanently.
	Delete(ctx context.Context, id string) error

	// PurgeTombstones hard-deletes synced tombstones whose deleted_at is
	// before cutoff and returns the image refs they pointed at.
	PurgeTombstones(ctx context.Context, cutoff time.Time) ([]string, error)
}
