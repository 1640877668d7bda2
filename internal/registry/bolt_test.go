package registry_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroni66/luminAI-sub000/internal/common"
	"github.com/kroni66/luminAI-sub000/internal/registry"
)

func newTestRegistry(t *testing.T) *registry.BoltRegistry {
	t.Helper()

	reg, err := registry.NewBoltRegistry(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	t.Cleanup(func() { reg.Close() })

	return reg
}

func newRecord(status common.Status) *common.DownloadRecord {
	return &common.DownloadRecord{
		ID:        uuid.New(),
		URL:       "https://example.com/file.bin",
		Filename:  "file.bin",
		SavePath:  "/tmp/file.bin",
		Status:    status,
		StartTime: time.Now(),
	}
}

func TestInsertAndGet(t *testing.T) {
	reg := newTestRegistry(t)

	rec := newRecord(common.StatusQueued)
	require.NoError(t, reg.Insert(rec))

	found, err := reg.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)
	assert.Equal(t, rec.URL, found.URL)
	assert.Equal(t, common.StatusQueued, found.Status)
}

func TestInsertDuplicate(t *testing.T) {
	reg := newTestRegistry(t)

	rec := newRecord(common.StatusQueued)
	require.NoError(t, reg.Insert(rec))
	assert.ErrorIs(t, reg.Insert(rec), registry.ErrExists)
}

func TestUpdate(t *testing.T) {
	reg := newTestRegistry(t)

	rec := newRecord(common.StatusDownloading)
	require.NoError(t, reg.Insert(rec))

	rec.Status = common.StatusCompleted
	rec.DownloadedBytes = 4096
	rec.TotalBytes = 4096
	require.NoError(t, reg.Update(rec))

	found, err := reg.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, common.StatusCompleted, found.Status)
	assert.EqualValues(t, 4096, found.DownloadedBytes)
}

func TestUpdateMissing(t *testing.T) {
	reg := newTestRegistry(t)

	assert.ErrorIs(t, reg.Update(newRecord(common.StatusQueued)), registry.ErrNotFound)
}

func TestGetMissing(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Get(uuid.New())
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestGetAll(t *testing.T) {
	reg := newTestRegistry(t)

	want := map[uuid.UUID]bool{}

	for range 3 {
		rec := newRecord(common.StatusQueued)
		require.NoError(t, reg.Insert(rec))
		want[rec.ID] = true
	}

	records, err := reg.GetAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	for _, rec := range records {
		assert.True(t, want[rec.ID], "unexpected record %s", rec.ID)
	}
}

func TestDelete(t *testing.T) {
	reg := newTestRegistry(t)

	rec := newRecord(common.StatusCancelled)
	require.NoError(t, reg.Insert(rec))
	require.NoError(t, reg.Delete(rec.ID))

	_, err := reg.Get(rec.ID)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestDeleteMissingIsNoop(t *testing.T) {
	reg := newTestRegistry(t)

	require.NoError(t, reg.Delete(uuid.New()))
}

func TestTimestampsSurviveRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)

	rec := newRecord(common.StatusCompleted)
	rec.EndTime = rec.StartTime.Add(5 * time.Second)
	require.NoError(t, reg.Insert(rec))

	found, err := reg.Get(rec.ID)
	require.NoError(t, err)
	assert.True(t, found.StartTime.Equal(rec.StartTime))
	assert.True(t, found.EndTime.Equal(rec.EndTime))
}

func TestClose(t *testing.T) {
	reg, err := registry.NewBoltRegistry(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	_, err = reg.Get(uuid.New())
	assert.Error(t, err)
}
