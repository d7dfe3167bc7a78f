package device

import (
	"context"
	"database/sql"
	"testing"

	"github.com/dmitrijs2005/meterlog/internal/repositories/metadata"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupRepo(t *testing.T) metadata.Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE metadata (key TEXT PRIMARY KEY, value BLOB);`)
	require.NoError(t, err)
	return metadata.NewSQLiteRepository(db)
}

func TestLoad_GeneratesAndPersistsOnFirstUse(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	id, err := Load(ctx, repo)
	require.NoError(t, err)

	_, err = uuid.Parse(id.Current())
	require.NoError(t, err)

	stored, err := repo.Get(ctx, "device_id")
	require.NoError(t, err)
	assert.Equal(t, id.Current(), string(stored))
}

func TestLoad_IsStableAcrossRestarts(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	first, err := Load(ctx, repo)
	require.NoError(t, err)

	second, err := Load(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, first.Current(), second.Current())
}
