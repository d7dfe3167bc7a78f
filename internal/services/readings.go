// Package services implements the local application services on top of the
// repositories: reading CRUD with version bookkeeping, account adoption and
// commit notifications consumed by the sync engine.
package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/meterlog/internal/common"
	"github.com/dmitrijs2005/meterlog/internal/device"
	"github.com/dmitrijs2005/meterlog/internal/logging"
	"github.com/dmitrijs2005/meterlog/internal/models"
	"github.com/dmitrijs2005/meterlog/internal/repositories/metadata"
	"github.com/dmitrijs2005/meterlog/internal/repositories/readings"
	"github.com/google/uuid"
)

// ReadingService owns local mutations of readings. Every committed mutation
// bumps the record's version, stamps this device and emits a commit
// notification so the engine can schedule a push.
type ReadingService struct {
	repo     readings.Repository
	metadata metadata.Repository
	device   *device.Identity
	logger   logging.Logger
	commits  chan struct{}
	now      func() time.Time
}

func NewReadingService(repo readings.Repository, meta metadata.Repository, dev *device.Identity, logger logging.Logger) *ReadingService {
	return &ReadingService{
		repo:     repo,
		metadata: meta,
		device:   dev,
		logger:   logger,
		commits:  make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Commits returns the local commit notification stream. Notifications are
// coalesced: a pending one is enough, the engine re-reads state anyway.
func (s *ReadingService) Commits() <-chan struct{} {
	return s.commits
}

// Add creates a reading. With an owner it is born Pending at version 1;
// without one it stays local-only until adoption.
func (s *ReadingService) Add(ctx context.Context, ownerID string, meterType models.MeterType, value string, observedAt time.Time, imageRef string) (*models.Reading, error) {
	if !meterType.Valid() {
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidMeterType, meterType)
	}
	value = strings.TrimSpace(value)
	if err := validateValue(value); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := &models.Reading{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		MeterType:  meterType,
		Value:      value,
		ObservedAt: observedAt.UTC(),
		CreatedAt:  now,
		ModifiedAt: now,
		ImageRef:   imageRef,
		SyncStatus: models.StatusPending,
		Version:    1,
		DeviceID:   s.device.Current(),
	}

	if err := s.repo.CreateOrUpdate(ctx, rec); err != nil {
		return nil, fmt.Errorf("saving error: %w", err)
	}
	s.notifyCommit()
	return rec, nil
}

// Update corrects the value and/or observation date of a reading and queues
// it for a fresh push.
func (s *ReadingService) Update(ctx context.Context, id string, value string, observedAt time.Time) (*models.Reading, error) {
	value = strings.TrimSpace(value)
	if err := validateValue(value); err != nil {
		return nil, err
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rec.Value = value
	rec.ObservedAt = observedAt.UTC()
	s.touch(rec)

	if err := s.repo.CreateOrUpdate(ctx, rec); err != nil {
		return nil, fmt.Errorf("saving error: %w", err)
	}
	s.notifyCommit()
	return rec, nil
}

// SoftDelete turns a reading into a tombstone. The row is reclaimed by the
// tombstone collector once the deletion is confirmed remotely.
func (s *ReadingService) SoftDelete(ctx context.Context, id string) error {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	rec.SoftDeleted = true
	rec.DeletedAt = &now
	s.touch(rec)

	if err := s.repo.CreateOrUpdate(ctx, rec); err != nil {
		return fmt.Errorf("error deleting reading: %w", err)
	}
	s.notifyCommit()
	return nil
}

// List returns non-deleted readings for the owner, optionally by meter type.
func (s *ReadingService) List(ctx context.Context, ownerID string, meterType models.MeterType) ([]*models.Reading, error) {
	return s.repo.ListActive(ctx, ownerID, meterType)
}

// Conflicts returns the owner's readings awaiting user resolution.
func (s *ReadingService) Conflicts(ctx context.Context, ownerID string) ([]*models.Reading, error) {
	return s.repo.ListConflicts(ctx, ownerID)
}

// Get returns one reading by id.
func (s *ReadingService) Get(ctx context.Context, id string) (*models.Reading, error) {
	return s.repo.GetByID(ctx, id)
}

// AttachImage records an external image reference on a reading.
func (s *ReadingService) AttachImage(ctx context.Context, id string, imageRef string) error {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	rec.ImageRef = imageRef
	rec.ModifiedAt = s.now().UTC()
	rec.DeviceID = s.device.Current()
	if rec.SyncStatus == models.StatusSynced {
		rec.SyncStatus = models.StatusPending
	}

	if err := s.repo.CreateOrUpdate(ctx, rec); err != nil {
		return fmt.Errorf("saving error: %w", err)
	}
	s.notifyCommit()
	return nil
}

// Adopt claims all unowned local readings for the account. It runs once per
// owner: a metadata flag short-circuits repeat calls, and the underlying
// claim predicate makes the operation idempotent regardless.
func (s *ReadingService) Adopt(ctx context.Context, ownerID string) (int64, error) {
	flag := "adopted:" + ownerID
	done, err := s.metadata.Get(ctx, flag)
	if err != nil {
		return 0, err
	}
	if len(done) > 0 {
		return 0, nil
	}

	n, err := s.repo.AdoptUnowned(ctx, ownerID, s.device.Current())
	if err != nil {
		return 0, fmt.Errorf("adoption failed: %w", err)
	}
	if err := s.metadata.Set(ctx, flag, []byte("1")); err != nil {
		return n, err
	}

	if n > 0 {
		s.logger.Info(ctx, "adopted local readings", "owner", ownerID, "count", n)
		s.notifyCommit()
	}
	return n, nil
}

// touch applies the bookkeeping of one local edit: version bump, fresh
// modifiedAt, this device, back to Pending.
func (s *ReadingService) touch(rec *models.Reading) {
	rec.Version++
	rec.ModifiedAt = s.now().UTC()
	rec.DeviceID = s.device.Current()
	rec.SyncStatus = models.StatusPending
	rec.Conflict = nil
}

func (s *ReadingService) notifyCommit() {
	select {
	case s.commits <- struct{}{}:
	default:
	}
}

// validateValue guards the decimal-as-string contract: digits with an
// optional single decimal separator. Comma is accepted and normalized
// upstream by the UI; here it is simply tolerated.
func validateValue(value string) error {
	normalized := strings.ReplaceAll(value, ",", ".")
	if normalized == "" {
		return common.ErrInvalidValue
	}
	if _, err := strconv.ParseFloat(normalized, 64); err != nil {
		return fmt.Errorf("%w: %q", common.ErrInvalidValue, value)
	}
	return nil
}
