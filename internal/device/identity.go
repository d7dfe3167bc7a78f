// Package device provides the stable per-installation identity used to
// tell same-device edits apart from cross-device ones.
package device

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/meterlog/internal/repositories/metadata"
	"github.com/google/uuid"
)

const identityKey = "device_id"

// Identity is the process-wide device identifier. It is generated once per
// installation from a cryptographically strong random source, persisted in
// the metadata store, and never changes afterwards.
type Identity struct {
	id string
}

// Load reads the persisted identity, generating and storing a fresh one on
// first use.
func Load(ctx context.Context, repo metadata.Repository) (*Identity, error) {
	value, err := repo.Get(ctx, identityKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load device identity: %w", err)
	}
	if len(value) > 0 {
		return &Identity{id: string(value)}, nil
	}

	id := uuid.NewString()
	if err := repo.Set(ctx, identityKey, []byte(id)); err != nil {
		return nil, fmt.Errorf("failed to persist device identity: %w", err)
	}
	return &Identity{id: id}, nil
}

// Current returns the device identifier. Pure cached accessor.
func (i *Identity) Current() string {
	return i.id
}
