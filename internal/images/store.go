// Package images stores meter photos externally. Records carry only a
// reference; image bytes never pass through the sync engine.
package images

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Store is the external image storage consumed by the reading service and
// the tombstone collector.
type Store interface {
	// Upload stores the image under the given key.
	Upload(ctx context.Context, key string, body io.Reader) error

	// Delete removes the stored image. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// PresignGet returns a short-lived download URL for UI collaborators.
	PresignGet(ctx context.Context, key string) (string, error)
}

// NewStorageKey returns a fresh storage key, sharded by date.
func NewStorageKey(ownerID string) string {
	d := time.Now()
	return fmt.Sprintf("images/%s/%d/%d/%d/%v", ownerID, d.Year(), d.Month(), d.Day(), uuid.New())
}
