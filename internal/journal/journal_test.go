package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KFearsoff/tailforward/internal/storage"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestRecordAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2023, 5, 17, 11, 13, 7, 0, time.UTC)

	id1, err := j.Record(ctx, Entry{
		ReceivedAt: base,
		RequestID:  "req-1",
		Stage:      "done",
		Events:     2,
		Forwarded:  2,
		Status:     200,
		Duration:   150 * time.Millisecond,
	})
	require.NoError(t, err)
	_, err = uuid.Parse(id1)
	assert.NoError(t, err, "ids are uuids")

	_, err = j.Record(ctx, Entry{
		ReceivedAt: base.Add(time.Minute),
		Stage:      "verify_mac",
		Kind:       "signature_mismatch",
		Status:     422,
	})
	require.NoError(t, err)

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "verify_mac", entries[0].Stage, "newest first")
	assert.Equal(t, "signature_mismatch", entries[0].Kind)
	assert.Empty(t, entries[0].RequestID)
	assert.Equal(t, 422, entries[0].Status)

	assert.Equal(t, id1, entries[1].ID)
	assert.Equal(t, "req-1", entries[1].RequestID)
	assert.Empty(t, entries[1].Kind)
	assert.Equal(t, 2, entries[1].Forwarded)
	assert.Equal(t, 150*time.Millisecond, entries[1].Duration)
	assert.True(t, base.Equal(entries[1].ReceivedAt))
}

func TestRecentLimit(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i := 0; i < DefaultLimit+5; i++ {
		_, err := j.Record(ctx, Entry{Stage: "done", Status: 200})
		require.NoError(t, err)
	}

	entries, err := j.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	entries, err = j.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, DefaultLimit)
}

func TestRecordRequiresStage(t *testing.T) {
	j := openTestJournal(t)
	_, err := j.Record(context.Background(), Entry{Status: 200})
	assert.Error(t, err)
}

func TestPrune(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	now := time.Now()

	_, err := j.Record(ctx, Entry{ReceivedAt: now.Add(-48 * time.Hour), Stage: "done", Status: 200})
	require.NoError(t, err)
	_, err = j.Record(ctx, Entry{ReceivedAt: now, Stage: "done", Status: 200})
	require.NoError(t, err)

	n, err := j.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGet(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	id, err := j.Record(ctx, Entry{
		ReceivedAt: time.Date(2023, 5, 17, 11, 13, 7, 0, time.UTC),
		Stage:      "verify_mac",
		Kind:       "signature_mismatch",
		Status:     422,
	})
	require.NoError(t, err)

	e, err := j.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, e.ID)
	assert.Equal(t, "verify_mac", e.Stage)
	assert.Equal(t, "signature_mismatch", e.Kind)
	assert.Empty(t, e.RequestID)

	_, err = j.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}
