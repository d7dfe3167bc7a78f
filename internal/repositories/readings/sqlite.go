package readings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/meterlog/internal/common"
	"github.com/dmitrijs2005/meterlog/internal/dbx"
	"github.com/dmitrijs2005/meterlog/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or
// *sql.Tx). Timestamps are stored as unix nanoseconds; the conflict
// snapshot is stored as a JSON blob.
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const readingColumns = `id, owner_id, meter_type, value, observed_at, created_at, modified_at,
	soft_deleted, deleted_at, image_ref, sync_status, version, device_id, conflict_data`

// CreateOrUpdate upserts a reading by id. On conflict every mutable column
// is replaced with the incoming state.
func (r *SQLiteRepository) CreateOrUpdate(ctx context.Context, rec *models.Reading) error {
	var conflictData []byte
	if rec.Conflict != nil {
		b, err := json.Marshal(rec.Conflict)
		if err != nil {
			return fmt.Errorf("failed to marshal conflict snapshot: %w", err)
		}
		conflictData = b
	}

	query := `INSERT INTO readings (` + readingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			meter_type = excluded.meter_type,
			value = excluded.value,
			observed_at = excluded.observed_at,
			created_at = excluded.created_at,
			modified_at = excluded.modified_at,
			soft_deleted = excluded.soft_deleted,
			deleted_at = excluded.deleted_at,
			image_ref = excluded.image_ref,
			sync_status = excluded.sync_status,
			version = excluded.version,
			device_id = excluded.device_id,
			conflict_data = excluded.conflict_data
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		nullString(rec.OwnerID),
		string(rec.MeterType),
		rec.Value,
		rec.ObservedAt.UnixNano(),
		nullTime(timePtrOrNil(rec.CreatedAt)),
		rec.ModifiedAt.UnixNano(),
		boolToInt(rec.SoftDeleted),
		nullTime(rec.DeletedAt),
		nullString(rec.ImageRef),
		int64(rec.SyncStatus),
		rec.Version,
		nullString(rec.DeviceID),
		conflictData,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert reading: %w", err)
	}
	return nil
}

// GetByID returns a single reading by id.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Reading, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+readingColumns+` FROM readings WHERE id = ?`, id)
	rec, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select reading: %w", err)
	}
	return rec, nil
}

// ListActive lists non-deleted readings for an owner, newest observation first.
func (r *SQLiteRepository) ListActive(ctx context.Context, ownerID string, meterType models.MeterType) ([]*models.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM readings WHERE soft_deleted = 0`
	args := []any{}
	if ownerID == "" {
		query += ` AND owner_id IS NULL`
	} else {
		query += ` AND owner_id = ?`
		args = append(args, ownerID)
	}
	if meterType != "" {
		query += ` AND meter_type = ?`
		args = append(args, string(meterType))
	}
	query += ` ORDER BY observed_at DESC`

	return r.queryReadings(ctx, query, args...)
}

// ListPushable returns the owner's readings awaiting a (re-)push.
func (r *SQLiteRepository) ListPushable(ctx context.Context, ownerID string) ([]*models.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM readings
		WHERE owner_id = ? AND (sync_status = ? OR sync_status = ?)`
	return r.queryReadings(ctx, query, ownerID, int64(models.StatusPending), int64(models.StatusError))
}

// ListConflicts returns the owner's readings flagged as true conflicts.
func (r *SQLiteRepository) ListConflicts(ctx context.Context, ownerID string) ([]*models.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM readings WHERE owner_id = ? AND sync_status = ?`
	return r.queryReadings(ctx, query, ownerID, int64(models.StatusConflict))
}

func (r *SQLiteRepository) PendingCount(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM readings WHERE owner_id = ? AND sync_status = ?`,
		ownerID, int64(models.StatusPending)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending readings: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) SetSyncStatus(ctx context.Context, id string, status models.SyncStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE readings SET sync_status = ? WHERE id = ?`, int64(status), id)
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) SetDeviceID(ctx context.Context, id string, deviceID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE readings SET device_id = ? WHERE id = ?`, deviceID, id)
	if err != nil {
		return fmt.Errorf("failed to update device id: %w", err)
	}
	return requireOneRow(res)
}

// MigrateUnversioned queues records that existed before sync was introduced:
// anything still at version 0 becomes version 1 / Pending with this device's id.
func (r *SQLiteRepository) MigrateUnversioned(ctx context.Context, ownerID, deviceID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE readings SET version = 1, sync_status = ?, device_id = ?
		WHERE owner_id = ? AND version = 0
	`, int64(models.StatusPending), deviceID, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to migrate unversioned readings: %w", err)
	}
	return res.RowsAffected()
}

// BackfillTimestamps repairs v1 rows that predate the created_at column.
func (r *SQLiteRepository) BackfillTimestamps(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE readings SET created_at = observed_at, modified_at = ?, soft_deleted = 0
		WHERE created_at IS NULL
	`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to backfill timestamps: %w", err)
	}
	return res.RowsAffected()
}

// AdoptUnowned claims local-only records for an account. The predicate makes
// the operation idempotent: a second call finds no unowned rows.
func (r *SQLiteRepository) AdoptUnowned(ctx context.Context, ownerID, deviceID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE readings SET
			owner_id = ?,
			sync_status = ?,
			version = MAX(version, 1),
			device_id = COALESCE(device_id, ?)
		WHERE owner_id IS NULL
	`, ownerID, int64(models.StatusPending), deviceID)
	if err != nil {
		return 0, fmt.Errorf("failed to adopt readings: %w", err)
	}
	return res.RowsAffected()
}

// Delete removes a reading permanently. Deleting an absent row is not an error.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM readings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete reading: %w", err)
	}
	return nil
}

// PurgeTombstones reclaims synced tombstones older than cutoff. Tombstones
// that have not been confirmed synced are never purged: the deletion itself
// must reach the remote store first.
func (r *SQLiteRepository) PurgeTombstones(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, image_ref FROM readings
		WHERE soft_deleted = 1 AND deleted_at < ? AND sync_status = ?
	`, cutoff.UnixNano(), int64(models.StatusSynced))
	if err != nil {
		return nil, fmt.Errorf("failed to select tombstones: %w", err)
	}
	defer rows.Close()

	var ids []string
	var refs []string
	for rows.Next() {
		var id string
		var ref sql.NullString
		if err := rows.Scan(&id, &ref); err != nil {
			return nil, err
		}
		ids = append(ids, id)
		if ref.Valid && ref.String != "" {
			refs = append(refs, ref.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM readings WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("failed to purge tombstone %s: %w", id, err)
		}
	}
	return refs, nil
}

func (r *SQLiteRepository) queryReadings(ctx context.Context, query string, args ...any) ([]*models.Reading, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select readings: %w", err)
	}
	defer rows.Close()

	var result []*models.Reading
	for rows.Next() {
		rec, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReading(s scanner) (*models.Reading, error) {
	var (
		rec          models.Reading
		ownerID      sql.NullString
		meterType    string
		observedAt   int64
		createdAt    sql.NullInt64
		modifiedAt   int64
		softDeleted  int64
		deletedAt    sql.NullInt64
		imageRef     sql.NullString
		syncStatus   int64
		deviceID     sql.NullString
		conflictData []byte
	)
	err := s.Scan(&rec.ID, &ownerID, &meterType, &rec.Value, &observedAt, &createdAt,
		&modifiedAt, &softDeleted, &deletedAt, &imageRef, &syncStatus, &rec.Version,
		&deviceID, &conflictData)
	if err != nil {
		return nil, err
	}

	rec.OwnerID = ownerID.String
	rec.MeterType = models.MeterType(meterType)
	rec.ObservedAt = time.Unix(0, observedAt).UTC()
	if createdAt.Valid {
		rec.CreatedAt = time.Unix(0, createdAt.Int64).UTC()
	}
	rec.ModifiedAt = time.Unix(0, modifiedAt).UTC()
	rec.SoftDeleted = softDeleted != 0
	if deletedAt.Valid {
		t := time.Unix(0, deletedAt.Int64).UTC()
		rec.DeletedAt = &t
	}
	rec.ImageRef = imageRef.String
	rec.SyncStatus = models.SyncStatus(syncStatus)
	rec.DeviceID = deviceID.String

	if len(conflictData) > 0 {
		var snapshot models.ConflictSnapshot
		if err := json.Unmarshal(conflictData, &snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conflict snapshot: %w", err)
		}
		rec.Conflict = &snapshot
	}
	return &rec, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func timePtrOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
