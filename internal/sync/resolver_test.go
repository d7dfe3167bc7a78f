package sync

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/meterlog/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reading(value string, modifiedAt time.Time, deviceID string, status models.SyncStatus) *models.Reading {
	return &models.Reading{
		ID:         "11111111-1111-1111-1111-111111111111",
		OwnerID:    "owner-1",
		MeterType:  models.MeterWater,
		Value:      value,
		ObservedAt: modifiedAt,
		ModifiedAt: modifiedAt,
		DeviceID:   deviceID,
		Version:    2,
		SyncStatus: status,
	}
}

func TestResolve_SyncedLocal_AdoptsRemote(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	local := reading("100", base, "dev-a", models.StatusSynced)
	remote := reading("200", base.Add(-time.Hour), "dev-b", models.StatusSynced)

	res := Resolve(local, remote)
	assert.Equal(t, AdoptRemote, res.Action)
	assert.Nil(t, res.Snapshot)
}

func TestResolve_ErroredLocal_AdoptsRemote(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	local := reading("100", base, "dev-a", models.StatusError)
	remote := reading("200", base.Add(time.Second), "dev-b", models.StatusSynced)

	res := Resolve(local, remote)
	assert.Equal(t, AdoptRemote, res.Action)
}

func TestResolve_SameDevice_LaterRemoteWins(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	local := reading("100", base, "dev-a", models.StatusPending)
	remote := reading("200", base.Add(5*time.Minute), "dev-a", models.StatusSynced)

	res := Resolve(local, remote)
	assert.Equal(t, AdoptRemote, res.Action)
}

func TestResolve_SameDevice_OlderRemoteKeepsLocal(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	local := reading("100", base, "dev-a", models.StatusPending)
	remote := reading("200", base.Add(-5*time.Minute), "dev-a", models.StatusSynced)

	res := Resolve(local, remote)
	assert.Equal(t, KeepLocal, res.Action)
}

func TestResolve_SameDevice_ExactTieKeepsLocal(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	local := reading("100", base, "dev-a", models.StatusPending)
	remote := reading("100", base, "dev-a", models.StatusSynced)

	res := Resolve(local, remote)
	assert.Equal(t, KeepLocal, res.Action)
}

func TestResolve_LargeGap_LaterWins(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	local := reading("100", base, "dev-a", models.StatusPending)
	remote := reading("200", base.Add(10*time.Minute), "dev-b", models.StatusSynced)

	res := Resolve(local, remote)
	assert.Equal(t, AdoptRemote, res.Action)

	// Mirrored: local edit is the later one.
	remote = reading("200", base.Add(-10*time.Minute), "dev-b", models.StatusSynced)
	res = Resolve(local, remote)
	assert.Equal(t, KeepLocal, res.Action)
}

func TestResolve_CloseGapSameValue_NoConflict(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	local := reading("100", base, "dev-a", models.StatusPending)
	remote := reading("100", base.Add(30*time.Second), "dev-b", models.StatusSynced)

	res := Resolve(local, remote)
	assert.Equal(t, AdoptRemote, res.Action)
}

func TestResolve_CloseGapDifferentValues_MarksConflict(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	local := reading("100", base, "dev-a", models.StatusPending)
	remote := reading("200", base.Add(30*time.Second), "dev-b", models.StatusSynced)
	remote.ImageRef = "images/owner-1/x"

	res := Resolve(local, remote)
	require.Equal(t, MarkConflict, res.Action)
	require.NotNil(t, res.Snapshot)
	assert.Equal(t, "200", res.Snapshot.Value)
	assert.Equal(t, "dev-b", res.Snapshot.DeviceID)
	assert.Equal(t, remote.ModifiedAt, res.Snapshot.ModifiedAt)
	assert.Equal(t, remote.Version, res.Snapshot.Version)
	assert.Equal(t, "images/owner-1/x", res.Snapshot.ImageRef)
	assert.False(t, res.Snapshot.Deleted)
}

func TestResolve_ExactBoundaryGap_StillAmbiguous(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Exactly 60s apart is within the ambiguity window, not beyond it.
	local := reading("100", base, "dev-a", models.StatusPending)
	remote := reading("200", base.Add(conflictWindow), "dev-b", models.StatusSynced)

	res := Resolve(local, remote)
	assert.Equal(t, MarkConflict, res.Action)
}

func TestResolve_ConflictedLocal_IsStillProtected(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	local := reading("100", base, "dev-a", models.StatusConflict)
	remote := reading("300", base.Add(10*time.Second), "dev-b", models.StatusSynced)

	res := Resolve(local, remote)
	assert.Equal(t, MarkConflict, res.Action)
	assert.Equal(t, "300", res.Snapshot.Value)
}

func TestResolveRemoteDelete_SyncedLocal_Deletes(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	local := reading("100", base, "dev-a", models.StatusSynced)
	res := ResolveRemoteDelete(local)
	assert.Equal(t, AdoptRemote, res.Action)
}

func TestResolveRemoteDelete_PendingLocal_MarksDeletionConflict(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	local := reading("100", base, "dev-a", models.StatusPending)
	res := ResolveRemoteDelete(local)
	require.Equal(t, MarkConflict, res.Action)
	require.NotNil(t, res.Snapshot)
	assert.True(t, res.Snapshot.Deleted)
}
