package scheduler

import (
	"context"
	"log"
	"time"

	"marketdata_hub/models"
	"marketdata_hub/services/cache"
	"marketdata_hub/services/orchestrator"
	"marketdata_hub/services/store"
	"marketdata_hub/services/tracker"
)

// RegisterDefaultJobs wires the standard collection and maintenance jobs.
// Intraday jobs gate on market hours; dailies run after the close so they
// capture the finished session.
func RegisterDefaultJobs(
	s *Scheduler,
	brain *orchestrator.Brain,
	registry *cache.SymbolRegistry,
	db *store.GormStore,
	news *store.NewsStore,
	trk *tracker.Tracker,
	attemptRetention time.Duration,
) error {
	type spec struct {
		job      Job
		schedule Schedule
	}
	specs := []spec{
		{
			job: NewDataJob("quotes", models.DataTypeQuote, brain, registry,
				db.UpsertQuote, ValidateQuote),
			schedule: Schedule{EveryMinutes: 5, MarketHoursOnly: true},
		},
		{
			job: NewDataJob("news", models.DataTypeNews, brain, registry,
				news.UpsertNews, nil),
			schedule: Schedule{EveryMinutes: 30},
		},
		{
			job: NewDataJob("historical_prices", models.DataTypeHistoricalPrices, brain, registry,
				db.UpsertHistoricalBars, ValidateDatedRecords),
			schedule: Schedule{DailyAt: "16:30"},
		},
		{
			job: NewDataJob("company_info", models.DataTypeCompanyInfo, brain, registry,
				db.UpsertCompanyProfile, nil),
			schedule: Schedule{DailyAt: "17:00"},
		},
		{
			job: NewDataJob("fundamentals", models.DataTypeFundamentals, brain, registry,
				db.UpsertFundamentals, nil),
			schedule: Schedule{DailyAt: "17:30"},
		},
		{
			job: NewDataJob("dividends", models.DataTypeDividends, brain, registry,
				db.UpsertDividends, ValidateDatedRecords),
			schedule: Schedule{DailyAt: "18:00"},
		},
		{
			job: NewDataJob("earnings", models.DataTypeEarnings, brain, registry,
				db.UpsertEarnings, ValidateDatedRecords),
			schedule: Schedule{DailyAt: "18:15"},
		},
		{
			job: NewStaticJob("economic_events", models.DataTypeEconomicEvents, brain,
				[]string{"US"}, db.UpsertEconomicEvents, ValidateDatedRecords),
			schedule: Schedule{DailyAt: "07:00"},
		},
	}

	for _, sp := range specs {
		sp := sp
		err := s.AddJob(sp.job, sp.schedule, func(ctx context.Context, symbols []string) {
			runJob(ctx, sp.job, brain, symbols)
		})
		if err != nil {
			return err
		}
	}

	// Weekly cleanup keeps the attempt archive, news store and bar history
	// from growing without bound.
	cleanup := Schedule{WeeklyDay: time.Sunday, WeeklyAt: "01:00"}
	return s.AddFunc("cleanup", cleanup, func(ctx context.Context) {
		if n, err := trk.CleanupOld(attemptRetention); err != nil {
			log.Printf("Cleanup: attempt archive prune failed: %v", err)
		} else {
			log.Printf("Cleanup: pruned %d archived attempts", n)
		}

		if n, err := news.DeleteOlderThan(ctx, time.Now().AddDate(0, -3, 0)); err != nil {
			log.Printf("Cleanup: news prune failed: %v", err)
		} else if n > 0 {
			log.Printf("Cleanup: pruned %d old news articles", n)
		}

		cutoff := time.Now().AddDate(-5, 0, 0).Format("2006-01-02")
		if n, err := db.PruneHistoricalBars(ctx, cutoff); err != nil {
			log.Printf("Cleanup: historical bar prune failed: %v", err)
		} else if n > 0 {
			log.Printf("Cleanup: pruned %d historical bars", n)
		}
	})
}
