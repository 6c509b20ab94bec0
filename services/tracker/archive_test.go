package tracker

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata_hub/models"
)

func testAttempt(id string, startedAt time.Time) *models.FetchAttempt {
	completed := startedAt.Add(200 * time.Millisecond)
	return &models.FetchAttempt{
		ID:              id,
		Symbol:          "AAPL",
		DataType:        models.DataTypeQuote,
		Provider:        "finnhub",
		Status:          models.FetchStatusSuccess,
		ExecutionTimeMs: 200,
		PayloadSize:     14,
		StartedAt:       startedAt,
		CompletedAt:     &completed,
	}
}

func TestAttemptArchiveRoundTrip(t *testing.T) {
	archive, err := OpenAttemptArchive(filepath.Join(t.TempDir(), "attempts.db"))
	require.NoError(t, err)
	defer archive.Close()

	now := time.Now().UTC()
	require.NoError(t, archive.Insert(testAttempt("a1", now)))
	require.NoError(t, archive.Insert(testAttempt("a2", now)))
	require.NoError(t, archive.Insert(testAttempt("a2", now)), "re-insert of the same id replaces")

	count, err := archive.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestAttemptArchiveDeleteOlderThan(t *testing.T) {
	archive, err := OpenAttemptArchive(filepath.Join(t.TempDir(), "attempts.db"))
	require.NoError(t, err)
	defer archive.Close()

	now := time.Now().UTC()
	require.NoError(t, archive.Insert(testAttempt("old", now.Add(-40*24*time.Hour))))
	require.NoError(t, archive.Insert(testAttempt("new", now)))

	removed, err := archive.DeleteOlderThan(now.Add(-30 * 24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	count, err := archive.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestTrackerArchivesAttempts(t *testing.T) {
	archive, err := OpenAttemptArchive(filepath.Join(t.TempDir(), "attempts.db"))
	require.NoError(t, err)
	defer archive.Close()

	trk := New(DefaultConfig(), archive)
	trk.RegisterProvider("finnhub", []models.DataType{models.DataTypeQuote})

	id := trk.RegisterFetchAttempt("finnhub", "AAPL", models.DataTypeQuote, "quotes:run1")
	trk.RecordFetchSuccess(id, 150*time.Millisecond, 12)

	count, err := archive.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
