// Package gc reclaims storage held by soft-deleted, fully synced readings.
package gc

import (
	"context"
	"time"

	"github.com/dmitrijs2005/meterlog/internal/images"
	"github.com/dmitrijs2005/meterlog/internal/logging"
	"github.com/dmitrijs2005/meterlog/internal/repositories/readings"
)

// Retention is how long a synced tombstone is kept before reclamation.
// Tombstones whose deletion has not been confirmed remotely are never
// purged, whatever their age: the delete must reach the remote store first,
// or a device that never learned about it would resurrect the record.
const Retention = 30 * 24 * time.Hour

// Collector purges expired tombstones and their externally stored images.
// It runs once at startup, not continuously.
type Collector struct {
	repo   readings.Repository
	images images.Store
	logger logging.Logger
	now    func() time.Time
}

// NewCollector builds a collector. images may be nil when no image store is
// configured; refs are then left behind and logged.
func NewCollector(repo readings.Repository, imgs images.Store, logger logging.Logger) *Collector {
	return &Collector{repo: repo, images: imgs, logger: logger, now: time.Now}
}

// Run performs one collection pass and returns the number of image refs
// that were reclaimed along with their rows.
func (c *Collector) Run(ctx context.Context) (int, error) {
	cutoff := c.now().UTC().Add(-Retention)

	refs, err := c.repo.PurgeTombstones(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, nil
	}

	deleted := 0
	for _, ref := range refs {
		if c.images == nil {
			c.logger.Warn(ctx, "no image store configured, leaving image behind", "ref", ref)
			continue
		}
		if err := c.images.Delete(ctx, ref); err != nil {
			// The row is already gone; an orphaned object is preferable
			// to a resurrected record.
			c.logger.Warn(ctx, "failed to delete tombstone image", "ref", ref, "error", err)
			continue
		}
		deleted++
	}

	c.logger.Info(ctx, "tombstone collection finished", "images", deleted)
	return deleted, nil
}
