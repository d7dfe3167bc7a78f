// Package remote defines the wire representation of a reading in the remote
// document store, the codec between records and documents, and the store
// itself with its change feed.
package remote

import (
	"encoding/json"
	"time"
)

// Document is the wire form of one reading, one document per record under
// users/{ownerId}/readings/{recordId}. Local-only state (sync status,
// conflict snapshot) never appears here. DeletedAt and ImageRef are omitted
// entirely when absent rather than carried as nulls.
type Document struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"userId"`
	Type       string     `json:"type"`
	Value      string     `json:"value"`
	ObservedAt time.Time  `json:"date"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	DeletedAt  *time.Time `json:"deletedAt,omitempty"`
	DeviceID   string     `json:"deviceId"`
	Version    int64      `json:"version"`
	ImageRef   *string    `json:"imagePath,omitempty"`
}

// Fields returns the document as a raw field map, the shape change-stream
// consumers decode from.
func (d Document) Fields() (map[string]any, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ChangeKind discriminates change-stream events.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// ChangeEvent is one entry of the remote change stream. Doc is present for
// added/modified and absent for removed.
type ChangeEvent struct {
	Kind     ChangeKind      `json:"kind"`
	OwnerID  string          `json:"ownerId"`
	RecordID string          `json:"recordId"`
	Doc      json.RawMessage `json:"doc,omitempty"`
}

// Fields decodes the event's document into a raw field map.
func (e ChangeEvent) Fields() (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(e.Doc, &m); err != nil {
		return nil, err
	}
	return m, nil
}
