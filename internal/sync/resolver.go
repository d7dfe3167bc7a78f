// Package sync implements the offline-first synchronization engine: the
// conflict resolver, the per-owner sync session and its push/pull cycles.
package sync

import (
	"time"

	"github.com/dmitrijs2005/meterlog/internal/models"
)

// conflictWindow is the time separation under which concurrent cross-device
// edits are considered ambiguous. Edits further apart than this resolve by
// last-writer-wins.
const conflictWindow = 60 * time.Second

// Action is the outcome of reconciling a local record against a remote one.
type Action int

const (
	// KeepLocal leaves the local record untouched.
	KeepLocal Action = iota
	// AdoptRemote overwrites the local record with the remote state.
	AdoptRemote
	// MarkConflict flags the record for explicit user resolution, keeping
	// the local value and attaching the remote state as a snapshot.
	MarkConflict
)

// Resolution is the resolver's decision. Snapshot is set for MarkConflict.
type Resolution struct {
	Action   Action
	Snapshot *models.ConflictSnapshot
}

// Resolve reconciles a local record against a freshly decoded remote version
// of the same record. Pure function; the caller applies the decision.
//
// Ordering throughout: a strictly later remote modifiedAt wins, an exact tie
// keeps the local copy. A local edit is never silently discarded on a tie.
func Resolve(local, remote *models.Reading) Resolution {
	// No local edit in flight that must be preserved.
	if local.SyncStatus == models.StatusSynced || local.SyncStatus == models.StatusError {
		return Resolution{Action: AdoptRemote}
	}

	// Same originating device: an echo of our own prior write, or a newer
	// write from the same install.
	if local.DeviceID == remote.DeviceID {
		return adoptIfRemoteNewer(local, remote)
	}

	// Large time separation: the temporally later edit is authoritative.
	gap := local.ModifiedAt.Sub(remote.ModifiedAt)
	if gap < 0 {
		gap = -gap
	}
	if gap > conflictWindow {
		return adoptIfRemoteNewer(local, remote)
	}

	// Same value, differing only in metadata: no real conflict.
	if local.Value == remote.Value {
		return adoptIfRemoteNewer(local, remote)
	}

	// Different devices, near-simultaneous edits, different values.
	return Resolution{Action: MarkConflict, Snapshot: snapshotOf(remote)}
}

// ResolveRemoteDelete decides what a remote tombstone means for the local
// record. Without a pending local edit the deletion is simply applied. With
// one, the deletion is surfaced as a conflict for the user to settle rather
// than dropped.
func ResolveRemoteDelete(local *models.Reading) Resolution {
	if local.SyncStatus == models.StatusSynced || local.SyncStatus == models.StatusError {
		return Resolution{Action: AdoptRemote}
	}
	return Resolution{
		Action: MarkConflict,
		Snapshot: &models.ConflictSnapshot{
			Deleted:    true,
			ModifiedAt: time.Now().UTC(),
		},
	}
}

func adoptIfRemoteNewer(local, remote *models.Reading) Resolution {
	if remote.ModifiedAt.After(local.ModifiedAt) {
		return Resolution{Action: AdoptRemote}
	}
	return Resolution{Action: KeepLocal}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func snapshotOf(remote *models.Reading) *models.ConflictSnapshot {
	return &models.ConflictSnapshot{
		Value:      remote.Value,
		ObservedAt: remote.ObservedAt,
		ModifiedAt: remote.ModifiedAt,
		DeviceID:   remote.DeviceID,
		Version:    remote.Version,
		ImageRef:   remote.ImageRef,
	}
}
