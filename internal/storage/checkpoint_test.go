package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/tally/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointManager_CreateAndList(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seed(t, store, []model.Sale{testSale("S1", "100", day(0))}, []model.BankEntry{testInflow("B1", "100", day(1))})

	cm, err := store.Checkpoints()
	require.NoError(t, err)

	info, err := cm.Create(ctx, "before-close", "month end")
	require.NoError(t, err)
	assert.Equal(t, "before-close", info.ID)
	assert.Equal(t, 1, info.RowCounts["sales"])
	assert.Equal(t, 1, info.RowCounts["bank_entries"])
	assert.Equal(t, ExpectedSchemaVersion, info.SchemaVersion)
	assert.Positive(t, info.FileSize)
	assert.FileExists(t, filepath.Join(cm.dir, "before-close.db"))

	// The copy is a usable ledger.
	copied, err := NewSQLiteStorage(filepath.Join(cm.dir, "before-close.db"))
	require.NoError(t, err)
	defer func() { _ = copied.Close() }()
	sales, err := copied.GetSales(ctx, []string{"S1"})
	require.NoError(t, err)
	assert.Len(t, sales, 1)

	_, err = cm.Create(ctx, "before-close", "")
	assert.ErrorIs(t, err, ErrCheckpointExists)

	list, err := cm.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "month end", list[0].Description)
}

func TestCheckpointManager_InvalidTags(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	cm, err := store.Checkpoints()
	require.NoError(t, err)

	for _, tag := range []string{"../escape", "a/b", "it's", "x;y"} {
		_, err := cm.Create(context.Background(), tag, "")
		assert.ErrorIs(t, err, ErrInvalidCheckpoint, tag)
	}
}

func TestCheckpointManager_AutoCheckpointPrunes(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	cm, err := store.Checkpoints()
	require.NoError(t, err)

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cm.now = func() time.Time { return clock }

	_, err = cm.Create(ctx, "manual", "")
	require.NoError(t, err)

	for i := 0; i < maxAutoCheckpoints+2; i++ {
		clock = clock.Add(time.Minute)
		_, err := cm.AutoCheckpoint(ctx, "auto-accept")
		require.NoError(t, err, fmt.Sprintf("checkpoint %d", i))
	}

	list, err := cm.List(ctx)
	require.NoError(t, err)

	auto := 0
	for _, cp := range list {
		if cp.IsAuto {
			auto++
		}
	}
	assert.Equal(t, maxAutoCheckpoints, auto)
	assert.Len(t, list, maxAutoCheckpoints+1)
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt))
}

func TestCheckpointManager_Delete(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	cm, err := store.Checkpoints()
	require.NoError(t, err)

	_, err = cm.Create(ctx, "gone", "")
	require.NoError(t, err)
	require.NoError(t, cm.Delete(ctx, "gone"))

	_, statErr := os.Stat(filepath.Join(cm.dir, "gone.db"))
	assert.True(t, os.IsNotExist(statErr))
	assert.ErrorIs(t, cm.Delete(ctx, "gone"), ErrCheckpointNotFound)
}

func TestCheckpoints_InMemory(t *testing.T) {
	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	_, err = store.Checkpoints()
	assert.ErrorIs(t, err, ErrInvalidCheckpoint)
}
