package remote

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/meterlog/internal/common"
	"github.com/dmitrijs2005/meterlog/internal/models"
	"github.com/google/uuid"
)

// Encode maps a record to its wire document. Records without an owner are
// never transmitted; encoding one is a programming error surfaced as
// common.ErrUnownedRecord.
func Encode(r *models.Reading) (Document, error) {
	if r.OwnerID == "" {
		return Document{}, common.ErrUnownedRecord
	}

	doc := Document{
		ID:         r.ID,
		OwnerID:    r.OwnerID,
		Type:       string(r.MeterType),
		Value:      r.Value,
		ObservedAt: r.ObservedAt,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.ModifiedAt,
		DeviceID:   r.DeviceID,
		Version:    r.Version,
	}
	if r.SoftDeleted && r.DeletedAt != nil {
		t := *r.DeletedAt
		doc.DeletedAt = &t
	}
	if r.ImageRef != "" {
		ref := r.ImageRef
		doc.ImageRef = &ref
	}
	return doc, nil
}

// Decode maps a raw field map back to a record. The decode is forgiving:
// absent or malformed timestamps default to now, only identity-bearing
// fields are mandatory. The returned record is marked Synced; it mirrors
// confirmed remote state.
func Decode(fields map[string]any) (*models.Reading, error) {
	id, err := stringField(fields, "id")
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidID, id)
	}

	ownerID, err := stringField(fields, "userId")
	if err != nil {
		return nil, err
	}
	meterType, err := stringField(fields, "type")
	if err != nil {
		return nil, err
	}
	value, err := stringField(fields, "value")
	if err != nil {
		return nil, err
	}
	deviceID, err := stringField(fields, "deviceId")
	if err != nil {
		return nil, err
	}
	version, err := int64Field(fields, "version")
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &models.Reading{
		ID:         id,
		OwnerID:    ownerID,
		MeterType:  models.MeterType(meterType),
		Value:      value,
		ObservedAt: timeField(fields, "date", now),
		CreatedAt:  timeField(fields, "createdAt", now),
		ModifiedAt: timeField(fields, "updatedAt", now),
		DeviceID:   deviceID,
		Version:    version,
		SyncStatus: models.StatusSynced,
	}

	if _, ok := fields["deletedAt"]; ok {
		t := timeField(fields, "deletedAt", now)
		rec.SoftDeleted = true
		rec.DeletedAt = &t
	}
	if ref, ok := fields["imagePath"].(string); ok {
		rec.ImageRef = ref
	}
	return rec, nil
}

func stringField(fields map[string]any, name string) (string, error) {
	v, ok := fields[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", common.ErrMissingField, name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s", common.ErrMissingField, name)
	}
	return s, nil
}

func int64Field(fields map[string]any, name string) (int64, error) {
	switch v := fields[name].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s", common.ErrMissingField, name)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s", common.ErrMissingField, name)
	}
}

// timeField extracts a timestamp in any of its transit forms: a time.Time
// from native producers, an RFC 3339 string after a JSON round trip, or
// unix seconds. Anything else falls back to the given default; a malformed
// timestamp never rejects the whole document.
func timeField(fields map[string]any, name string, fallback time.Time) time.Time {
	switch v := fields[name].(type) {
	case time.Time:
		return v.UTC()
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC()
		}
	case float64:
		return time.Unix(int64(v), 0).UTC()
	}
	return fallback
}
