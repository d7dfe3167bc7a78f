package readings

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dmitrijs2005/meterlog/internal/common"
	"github.com/dmitrijs2005/meterlog/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE readings (
  id TEXT PRIMARY KEY,
  owner_id TEXT,
  meter_type TEXT NOT NULL,
  value TEXT NOT NULL,
  observed_at INTEGER NOT NULL,
  created_at INTEGER,
  modified_at INTEGER NOT NULL,
  soft_deleted INTEGER NOT NULL DEFAULT 0,
  deleted_at INTEGER,
  image_ref TEXT,
  sync_status INTEGER NOT NULL DEFAULT 0,
  version INTEGER NOT NULL DEFAULT 0,
  device_id TEXT,
  conflict_data TEXT
);`)
	require.NoError(t, err)
	return db
}

func newReading(id, owner string, status models.SyncStatus) *models.Reading {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &models.Reading{
		ID:         id,
		OwnerID:    owner,
		MeterType:  models.MeterWater,
		Value:      "123.4",
		ObservedAt: at,
		CreatedAt:  at,
		ModifiedAt: at,
		SyncStatus: status,
		Version:    1,
		DeviceID:   "dev-a",
	}
}

func TestCreateOrUpdate_InsertThenGet(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	rec := newReading("r1", "owner-1", models.StatusPending)
	rec.ImageRef = "images/owner-1/pic"
	require.NoError(t, r.CreateOrUpdate(ctx, rec))

	got, err := r.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, rec.OwnerID, got.OwnerID)
	assert.Equal(t, rec.MeterType, got.MeterType)
	assert.Equal(t, rec.Value, got.Value)
	assert.True(t, rec.ObservedAt.Equal(got.ObservedAt))
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, rec.ImageRef, got.ImageRef)
	assert.Equal(t, rec.SyncStatus, got.SyncStatus)
	assert.Equal(t, rec.Version, got.Version)
	assert.Equal(t, rec.DeviceID, got.DeviceID)
	assert.Nil(t, got.Conflict)
}

func TestCreateOrUpdate_UpsertReplacesState(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	rec := newReading("r1", "owner-1", models.StatusPending)
	require.NoError(t, r.CreateOrUpdate(ctx, rec))

	rec.Value = "200"
	rec.Version = 2
	rec.SyncStatus = models.StatusSynced
	require.NoError(t, r.CreateOrUpdate(ctx, rec))

	got, err := r.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "200", got.Value)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, models.StatusSynced, got.SyncStatus)
}

func TestCreateOrUpdate_ConflictSnapshotRoundTrip(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	rec := newReading("r1", "owner-1", models.StatusConflict)
	rec.Conflict = &models.ConflictSnapshot{
		Value:      "999",
		ModifiedAt: time.Date(2026, 3, 1, 9, 0, 30, 0, time.UTC),
		DeviceID:   "dev-b",
		Version:    2,
	}
	require.NoError(t, r.CreateOrUpdate(ctx, rec))

	got, err := r.GetByID(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got.Conflict)
	assert.Equal(t, "999", got.Conflict.Value)
	assert.Equal(t, "dev-b", got.Conflict.DeviceID)

	// Clearing the snapshot persists as well.
	got.Conflict = nil
	got.SyncStatus = models.StatusPending
	require.NoError(t, r.CreateOrUpdate(ctx, got))

	again, err := r.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, again.Conflict)
}

func TestGetByID_NotFound(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))

	_, err := r.GetByID(context.Background(), "absent")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestListActive_FiltersAndOrder(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	older := newReading("r1", "owner-1", models.StatusSynced)
	newer := newReading("r2", "owner-1", models.StatusSynced)
	newer.ObservedAt = older.ObservedAt.Add(time.Hour)
	gas := newReading("r3", "owner-1", models.StatusSynced)
	gas.MeterType = models.MeterGas
	deleted := newReading("r4", "owner-1", models.StatusSynced)
	deleted.SoftDeleted = true
	now := time.Now().UTC()
	deleted.DeletedAt = &now
	other := newReading("r5", "owner-2", models.StatusSynced)

	for _, rec := range []*models.Reading{older, newer, gas, deleted, other} {
		require.NoError(t, r.CreateOrUpdate(ctx, rec))
	}

	all, err := r.ListActive(ctx, "owner-1", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r2", all[0].ID) // newest observation first

	water, err := r.ListActive(ctx, "owner-1", models.MeterWater)
	require.NoError(t, err)
	assert.Len(t, water, 2)
}

func TestListActive_EmptyOwnerMeansUnowned(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	unowned := newReading("r1", "", models.StatusPending)
	owned := newReading("r2", "owner-1", models.StatusPending)
	require.NoError(t, r.CreateOrUpdate(ctx, unowned))
	require.NoError(t, r.CreateOrUpdate(ctx, owned))

	got, err := r.ListActive(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)
	assert.Equal(t, "", got[0].OwnerID)
}

func TestListPushable_PendingAndErrorOnly(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.CreateOrUpdate(ctx, newReading("p", "owner-1", models.StatusPending)))
	require.NoError(t, r.CreateOrUpdate(ctx, newReading("e", "owner-1", models.StatusError)))
	require.NoError(t, r.CreateOrUpdate(ctx, newReading("s", "owner-1", models.StatusSynced)))
	require.NoError(t, r.CreateOrUpdate(ctx, newReading("c", "owner-1", models.StatusConflict)))

	got, err := r.ListPushable(ctx, "owner-1")
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, rec := range got {
		ids = append(ids, rec.ID)
	}
	assert.ElementsMatch(t, []string{"p", "e"}, ids)
}

func TestSetSyncStatus(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.CreateOrUpdate(ctx, newReading("r1", "owner-1", models.StatusPending)))
	require.NoError(t, r.SetSyncStatus(ctx, "r1", models.StatusSynced))

	got, err := r.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, got.SyncStatus)

	require.ErrorIs(t, r.SetSyncStatus(ctx, "absent", models.StatusSynced), common.ErrNotFound)
}

func TestMigrateUnversioned(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	legacy := newReading("old", "owner-1", models.StatusSynced)
	legacy.Version = 0
	legacy.DeviceID = ""
	current := newReading("new", "owner-1", models.StatusSynced)
	require.NoError(t, r.CreateOrUpdate(ctx, legacy))
	require.NoError(t, r.CreateOrUpdate(ctx, current))

	n, err := r.MigrateUnversioned(ctx, "owner-1", "dev-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := r.GetByID(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, models.StatusPending, got.SyncStatus)
	assert.Equal(t, "dev-a", got.DeviceID)

	untouched, err := r.GetByID(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, untouched.SyncStatus)

	// Second run finds nothing left to migrate.
	n, err = r.MigrateUnversioned(ctx, "owner-1", "dev-a")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBackfillTimestamps(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	observed := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := db.Exec(`
		INSERT INTO readings (id, owner_id, meter_type, value, observed_at, modified_at, sync_status, version)
		VALUES ('legacy', 'owner-1', 'water', '5', ?, ?, 1, 0)
	`, observed.UnixNano(), observed.UnixNano())
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n, err := r.BackfillTimestamps(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := r.GetByID(ctx, "legacy")
	require.NoError(t, err)
	assert.True(t, observed.Equal(got.CreatedAt))
	assert.True(t, now.Equal(got.ModifiedAt))
	assert.False(t, got.SoftDeleted)
}

func TestAdoptUnowned_IsIdempotent(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	unowned := newReading("u1", "", models.StatusPending)
	unowned.Version = 0
	unowned.DeviceID = ""
	owned := newReading("o1", "owner-2", models.StatusSynced)
	require.NoError(t, r.CreateOrUpdate(ctx, unowned))
	require.NoError(t, r.CreateOrUpdate(ctx, owned))

	n, err := r.AdoptUnowned(ctx, "owner-1", "dev-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := r.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", got.OwnerID)
	assert.Equal(t, models.StatusPending, got.SyncStatus)
	assert.Equal(t, int64(1), got.Version) // lifted from 0
	assert.Equal(t, "dev-a", got.DeviceID)

	// Another account's records are never reassigned.
	other, err := r.GetByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "owner-2", other.OwnerID)

	n, err = r.AdoptUnowned(ctx, "owner-1", "dev-a")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAdoptUnowned_KeepsExistingVersionAndDevice(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	rec := newReading("u1", "", models.StatusPending)
	rec.Version = 4
	rec.DeviceID = "dev-original"
	require.NoError(t, r.CreateOrUpdate(ctx, rec))

	_, err := r.AdoptUnowned(ctx, "owner-1", "dev-a")
	require.NoError(t, err)

	got, err := r.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Version)
	assert.Equal(t, "dev-original", got.DeviceID)
}

func TestPurgeTombstones_RetentionRules(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cutoff := now.Add(-30 * 24 * time.Hour)

	tombstone := func(id string, deletedAt time.Time, status models.SyncStatus, imageRef string) {
		rec := newReading(id, "owner-1", status)
		rec.SoftDeleted = true
		rec.DeletedAt = &deletedAt
		rec.ImageRef = imageRef
		require.NoError(t, r.CreateOrUpdate(ctx, rec))
	}

	tombstone("expired", now.Add(-31*24*time.Hour), models.StatusSynced, "images/owner-1/a")
	tombstone("recent", now.Add(-5*24*time.Hour), models.StatusSynced, "")
	tombstone("unsynced", now.Add(-31*24*time.Hour), models.StatusPending, "")

	refs, err := r.PurgeTombstones(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"images/owner-1/a"}, refs)

	_, err = r.GetByID(ctx, "expired")
	require.ErrorIs(t, err, common.ErrNotFound)

	// Within retention: kept.
	_, err = r.GetByID(ctx, "recent")
	require.NoError(t, err)

	// Deletion not confirmed remotely: kept, whatever the age.
	_, err = r.GetByID(ctx, "unsynced")
	require.NoError(t, err)
}

func TestPendingCount(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.CreateOrUpdate(ctx, newReading("p1", "owner-1", models.StatusPending)))
	require.NoError(t, r.CreateOrUpdate(ctx, newReading("p2", "owner-1", models.StatusPending)))
	require.NoError(t, r.CreateOrUpdate(ctx, newReading("e1", "owner-1", models.StatusError)))

	n, err := r.PendingCount(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDelete_AbsentRowIsNoError(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.CreateOrUpdate(ctx, newReading("r1", "owner-1", models.StatusSynced)))
	require.NoError(t, r.Delete(ctx, "r1"))
	require.NoError(t, r.Delete(ctx, "r1"))

	_, err := r.GetByID(ctx, "r1")
	require.ErrorIs(t, err, common.ErrNotFound)
}
