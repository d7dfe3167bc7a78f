package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/meterlog/internal/dbx"
	"github.com/dmitrijs2005/meterlog/internal/logging"
	remotemigrations "github.com/dmitrijs2005/meterlog/internal/remote/migrations"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store over a Postgres documents table and an
// EventPublisher for the change feed. Documents are stored in typed columns
// so timestamps keep the store's native timestamp type.
type PostgresStore struct {
	db        *sql.DB
	publisher EventPublisher
	logger    logging.Logger
}

// NewPostgresStore opens the DSN, runs the schema migrations and returns a
// ready store. publisher may be nil, in which case no events are emitted.
func NewPostgresStore(ctx context.Context, dsn string, publisher EventPublisher, logger logging.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote store: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db, publisher: publisher, logger: logger}, nil
}

// RunMigrations applies the remote schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(remotemigrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to migrate remote store: %w", err)
	}
	return nil
}

// Put upserts the document and publishes added or modified depending on
// whether the row existed. The write and the existence check share one
// transaction so concurrent writers see a consistent event kind.
func (s *PostgresStore) Put(ctx context.Context, doc Document) error {
	kind := ChangeAdded

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM readings WHERE owner_id = $1 AND id = $2)`,
			doc.OwnerID, doc.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check document existence: %w", err)
		}
		if exists {
			kind = ChangeModified
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO readings (id, owner_id, meter_type, value, observed_at, created_at,
				updated_at, deleted_at, device_id, version, image_ref)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				owner_id = EXCLUDED.owner_id,
				meter_type = EXCLUDED.meter_type,
				value = EXCLUDED.value,
				observed_at = EXCLUDED.observed_at,
				created_at = EXCLUDED.created_at,
				updated_at = EXCLUDED.updated_at,
				deleted_at = EXCLUDED.deleted_at,
				device_id = EXCLUDED.device_id,
				version = EXCLUDED.version,
				image_ref = EXCLUDED.image_ref
			WHERE readings.owner_id = EXCLUDED.owner_id
		`, doc.ID, doc.OwnerID, doc.Type, doc.Value, doc.ObservedAt, doc.CreatedAt,
			doc.UpdatedAt, nullTimePtr(doc.DeletedAt), doc.DeviceID, doc.Version,
			nullStringPtr(doc.ImageRef))
		if err != nil {
			return fmt.Errorf("failed to upsert document: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, ChangeEvent{Kind: kind, OwnerID: doc.OwnerID, RecordID: doc.ID}, &doc)
	return nil
}

// Remove deletes the document and publishes a removed event if a row was
// actually deleted.
func (s *PostgresStore) Remove(ctx context.Context, ownerID, recordID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM readings WHERE owner_id = $1 AND id = $2`, ownerID, recordID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return nil
	}

	s.publish(ctx, ChangeEvent{Kind: ChangeRemoved, OwnerID: ownerID, RecordID: recordID}, nil)
	return nil
}

// List returns all documents of the owner.
func (s *PostgresStore) List(ctx context.Context, ownerID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, meter_type, value, observed_at, created_at, updated_at,
			deleted_at, device_id, version, image_ref
		FROM readings WHERE owner_id = $1
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var result []Document
	for rows.Next() {
		var (
			doc       Document
			deletedAt sql.NullTime
			imageRef  sql.NullString
		)
		err := rows.Scan(&doc.ID, &doc.OwnerID, &doc.Type, &doc.Value, &doc.ObservedAt,
			&doc.CreatedAt, &doc.UpdatedAt, &deletedAt, &doc.DeviceID, &doc.Version, &imageRef)
		if err != nil {
			return nil, err
		}
		if deletedAt.Valid {
			t := deletedAt.Time.UTC()
			doc.DeletedAt = &t
		}
		if imageRef.Valid {
			ref := imageRef.String
			doc.ImageRef = &ref
		}
		result = append(result, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Ping reports reachability of the backing database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// publish best-effort delivers a change event. A publish failure never fails
// the write: subscribers recover missed state from the snapshot replay.
func (s *PostgresStore) publish(ctx context.Context, ev ChangeEvent, doc *Document) {
	if s.publisher == nil {
		return
	}
	if doc != nil {
		raw, err := json.Marshal(doc)
		if err != nil {
			s.logger.Error(ctx, "failed to marshal change event document", "record", ev.RecordID, "error", err)
			return
		}
		ev.Doc = raw
	}
	if err := s.publisher.Publish(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn(ctx, "failed to publish change event", "record", ev.RecordID, "kind", string(ev.Kind), "error", err)
	}
}

func nullTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStringPtr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
