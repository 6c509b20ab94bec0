package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata_hub/models"
)

func nyHours(t *testing.T) MarketHours {
	t.Helper()
	return NewMarketHours("America/New_York", 9, 30, 16, 0)
}

func TestMarketHoursIsOpen(t *testing.T) {
	hours := nyHours(t)

	// Friday 2026-08-28
	assert.True(t, hours.IsOpen(time.Date(2026, 8, 28, 10, 0, 0, 0, hours.Location)))
	assert.True(t, hours.IsOpen(time.Date(2026, 8, 28, 9, 30, 0, 0, hours.Location)), "open is inclusive")
	assert.False(t, hours.IsOpen(time.Date(2026, 8, 28, 9, 29, 0, 0, hours.Location)))
	assert.False(t, hours.IsOpen(time.Date(2026, 8, 28, 16, 0, 0, 0, hours.Location)), "close is exclusive")

	// Saturday 2026-08-29
	assert.False(t, hours.IsOpen(time.Date(2026, 8, 29, 12, 0, 0, 0, hours.Location)))
}

func TestMarketHoursUnknownTimezone(t *testing.T) {
	hours := NewMarketHours("Not/AZone", 9, 30, 16, 0)
	assert.Equal(t, time.UTC, hours.Location)
}

func TestStartStopIdempotent(t *testing.T) {
	s := New(nyHours(t))
	require.NoError(t, s.AddFunc("noop", Schedule{EveryMinutes: 60}, func(ctx context.Context) {}))

	s.Start()
	assert.True(t, s.Running())
	s.Start() // logs a warning, changes nothing
	assert.True(t, s.Running())

	s.Stop()
	assert.False(t, s.Running())
	s.Stop() // safe
}

func TestStopBeforeStart(t *testing.T) {
	s := New(nyHours(t))
	s.Stop()
	assert.False(t, s.Running())
}

func TestAddAfterStartFails(t *testing.T) {
	s := New(nyHours(t))
	s.Start()
	defer s.Stop()

	err := s.AddFunc("late", Schedule{EveryMinutes: 5}, func(ctx context.Context) {})
	assert.Error(t, err)
}

func TestDuplicateJobName(t *testing.T) {
	s := New(nyHours(t))
	require.NoError(t, s.AddFunc("dup", Schedule{EveryMinutes: 5}, func(ctx context.Context) {}))
	assert.Error(t, s.AddFunc("dup", Schedule{EveryMinutes: 5}, func(ctx context.Context) {}))
}

func TestRunJobNow(t *testing.T) {
	var runs int64
	s := New(nyHours(t))
	require.NoError(t, s.AddFunc("counter", Schedule{EveryMinutes: 60}, func(ctx context.Context) {
		atomic.AddInt64(&runs, 1)
	}))

	require.NoError(t, s.RunJobNow("counter", nil))
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&runs) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Error(t, s.RunJobNow("unknown", nil))
}

func TestRunJobNowBypassesPause(t *testing.T) {
	var runs int64
	s := New(nyHours(t))
	require.NoError(t, s.AddFunc("counter", Schedule{EveryMinutes: 60}, func(ctx context.Context) {
		atomic.AddInt64(&runs, 1)
	}))

	require.NoError(t, s.PauseJob("counter"))
	require.NoError(t, s.RunJobNow("counter", nil))
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&runs) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestOverlappingRunIsRejected(t *testing.T) {
	release := make(chan struct{})
	s := New(nyHours(t))
	require.NoError(t, s.AddFunc("slow", Schedule{EveryMinutes: 60}, func(ctx context.Context) {
		<-release
	}))

	require.NoError(t, s.RunJobNow("slow", nil))
	assert.Eventually(t, func() bool {
		for _, st := range s.Status() {
			if st.Name == "slow" {
				return st.Running
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	assert.Error(t, s.RunJobNow("slow", nil), "a running job cannot be triggered again")
	close(release)
}

type stubJob struct{ name string }

func (j stubJob) Name() string                            { return j.name }
func (j stubJob) DataType() models.DataType               { return models.DataTypeQuote }
func (j stubJob) Symbols(ctx context.Context) []string    { return []string{"FALLBACK"} }
func (j stubJob) Validate(rec *models.MergedRecord) error { return nil }

func (j stubJob) Fetch(ctx context.Context, symbol string) *models.FetchResult {
	return nil
}

func (j stubJob) Store(ctx context.Context, rec *models.MergedRecord) error {
	return nil
}

func TestRunJobNowSymbolOverride(t *testing.T) {
	got := make(chan []string, 1)
	s := New(nyHours(t))
	err := s.AddJob(stubJob{name: "quotes"}, Schedule{EveryMinutes: 60}, func(ctx context.Context, symbols []string) {
		got <- symbols
	})
	require.NoError(t, err)

	require.NoError(t, s.RunJobNow("quotes", []string{"AAPL", "MSFT"}))
	select {
	case symbols := <-got:
		assert.Equal(t, []string{"AAPL", "MSFT"}, symbols)
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}
}

func TestRestartDoesNotDuplicateSchedules(t *testing.T) {
	s := New(nyHours(t))
	require.NoError(t, s.AddFunc("noop", Schedule{EveryMinutes: 60}, func(ctx context.Context) {}))

	s.Start()
	require.Len(t, s.cron.Jobs(), 1)
	s.Stop()
	s.Start()
	defer s.Stop()

	assert.Len(t, s.cron.Jobs(), 1, "restart resumes existing schedules instead of re-wiring")
}

func TestPauseResumeStatus(t *testing.T) {
	s := New(nyHours(t))
	require.NoError(t, s.AddFunc("one", Schedule{EveryMinutes: 5, MarketHoursOnly: true}, func(ctx context.Context) {}))
	require.NoError(t, s.AddFunc("two", Schedule{DailyAt: "16:30"}, func(ctx context.Context) {}))

	require.NoError(t, s.PauseJob("one"))
	assert.Error(t, s.PauseJob("nope"))

	status := s.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "one", status[0].Name, "registration order preserved")
	assert.True(t, status[0].Paused)
	assert.Equal(t, "every 5m (market hours)", status[0].Schedule)
	assert.Equal(t, "daily at 16:30", status[1].Schedule)
	assert.False(t, status[1].Paused)

	require.NoError(t, s.ResumeJob("one"))
	assert.False(t, s.Status()[0].Paused)
}

func TestStatusIncludesNextRunWhenStarted(t *testing.T) {
	s := New(nyHours(t))
	require.NoError(t, s.AddFunc("timed", Schedule{EveryMinutes: 30}, func(ctx context.Context) {}))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		st := s.Status()
		return len(st) == 1 && st[0].NextRun != nil && st[0].NextRun.After(time.Now())
	}, time.Second, 20*time.Millisecond)
}

func TestValidateQuote(t *testing.T) {
	rec := &models.MergedRecord{
		Symbol:   "AAPL",
		DataType: models.DataTypeQuote,
		Fields:   models.FieldMap{"price": 123.4},
	}
	assert.NoError(t, ValidateQuote(rec))

	rec.Fields["price"] = -1.0
	assert.Error(t, ValidateQuote(rec))

	delete(rec.Fields, "price")
	assert.Error(t, ValidateQuote(rec))
}

func TestValidateDatedRecords(t *testing.T) {
	rec := &models.MergedRecord{
		Symbol:   "AAPL",
		DataType: models.DataTypeHistoricalPrices,
		Records: []models.FieldMap{
			{"date": "2026-08-28", "close": 1.0},
		},
	}
	assert.NoError(t, ValidateDatedRecords(rec))

	rec.Records = append(rec.Records, models.FieldMap{"date": "28/08/2026"})
	assert.Error(t, ValidateDatedRecords(rec))
}
