// Package models defines the replicated meter-reading record and its
// sync metadata.
package models

import "time"

// Reading is one meter reading with replication metadata. It is persisted
// locally, pushed to the remote document store once it has an owner, and
// reconciled against remote versions of the same record.
type Reading struct {
	// ID is a globally unique identifier, immutable after creation.
	ID string

	// OwnerID is the account the record belongs to. Empty means the record
	// is local-only and has not been claimed by any account yet; such
	// records are never transmitted to the remote store.
	OwnerID string

	// MeterType classifies the meter the reading was taken from.
	MeterType MeterType

	// Value is the meter value as a decimal string, validated upstream.
	Value string

	// ObservedAt is the point in time the reading represents.
	ObservedAt time.Time

	// CreatedAt is the local creation time. Zero for rows imported from
	// the v1 schema until the startup backfill runs.
	CreatedAt time.Time

	// ModifiedAt is the local last-write timestamp. Conflict resolution
	// orders edits by this field.
	ModifiedAt time.Time

	// SoftDeleted marks the record as a tombstone. SoftDeleted and
	// DeletedAt are always set together.
	SoftDeleted bool
	DeletedAt   *time.Time

	// ImageRef points at an externally stored photo of the meter. The
	// image bytes never travel with the record.
	ImageRef string

	// SyncStatus tracks the record's replication state.
	SyncStatus SyncStatus

	// Version increases monotonically, bumped exactly once per local edit
	// that changes Value, ObservedAt or the deletion state.
	Version int64

	// DeviceID identifies the installation that produced ModifiedAt.
	DeviceID string

	// Conflict holds the remote side of a detected true conflict. Non-nil
	// implies SyncStatus == StatusConflict.
	Conflict *ConflictSnapshot
}

// ConflictSnapshot is the remote state captured when a true conflict is
// detected, kept until the user picks a side. It is stored locally as a
// JSON blob and never pushed.
type ConflictSnapshot struct {
	Value      string    `json:"value"`
	ObservedAt time.Time `json:"date"`
	ModifiedAt time.Time `json:"updatedAt"`
	DeviceID   string    `json:"deviceId"`
	Version    int64     `json:"version"`
	ImageRef   string    `json:"imagePath,omitempty"`

	// Deleted marks a conflict between a remote tombstone and a local
	// pending edit: the remote side removed the record while this device
	// still had unsynced changes.
	Deleted bool `json:"deleted,omitempty"`
}

// Tombstone reports whether the reading is soft-deleted.
func (r *Reading) Tombstone() bool {
	return r.SoftDeleted && r.DeletedAt != nil
}

// Clone returns a deep copy of the reading.
func (r *Reading) Clone() *Reading {
	c := *r
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		c.DeletedAt = &t
	}
	if r.Conflict != nil {
		s := *r.Conflict
		c.Conflict = &s
	}
	return &c
}
