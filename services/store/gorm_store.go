package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"marketdata_hub/models"
)

// GormStore persists merged market data into Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an initialized gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// dec converts a merged field value into a decimal, zero when absent.
func dec(fields models.FieldMap, name string) decimal.Decimal {
	if !fields.Populated(name) {
		return decimal.Decimal{}
	}
	return decimal.NewFromFloat(fields.FloatField(name))
}

// UpsertQuote writes a merged quote, replacing the existing row for the
// symbol if one exists.
func (s *GormStore) UpsertQuote(ctx context.Context, rec *models.MergedRecord) error {
	fields := rec.Fields
	quote := models.StockQuote{
		Symbol:        rec.Symbol,
		Price:         dec(fields, "price"),
		Open:          dec(fields, "open"),
		High:          dec(fields, "high"),
		Low:           dec(fields, "low"),
		PreviousClose: dec(fields, "previous_close"),
		Change:        dec(fields, "change"),
		ChangePercent: dec(fields, "change_percent"),
		MarketCap:     dec(fields, "market_cap"),
		Currency:      fields.StringField("currency"),
		Exchange:      fields.StringField("exchange"),
		DataSource:    rec.Provider(),
		QuotedAt:      rec.FetchedAt,
	}
	quote.Volume = fields.IntField("volume")

	var existing models.StockQuote
	err := s.db.WithContext(ctx).Where("symbol = ?", rec.Symbol).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		if err := s.db.WithContext(ctx).Create(&quote).Error; err != nil {
			return fmt.Errorf("failed to create quote for %s: %w", rec.Symbol, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up quote for %s: %w", rec.Symbol, err)
	}
	quote.ID = existing.ID
	quote.CreatedAt = existing.CreatedAt
	if err := s.db.WithContext(ctx).Save(&quote).Error; err != nil {
		return fmt.Errorf("failed to update quote for %s: %w", rec.Symbol, err)
	}
	return nil
}

// UpsertCompanyProfile writes merged company info.
func (s *GormStore) UpsertCompanyProfile(ctx context.Context, rec *models.MergedRecord) error {
	fields := rec.Fields
	profile := models.CompanyProfile{
		Symbol:      rec.Symbol,
		Name:        fields.StringField("name"),
		Description: fields.StringField("description"),
		Sector:      fields.StringField("sector"),
		Industry:    fields.StringField("industry"),
		Exchange:    fields.StringField("exchange"),
		Currency:    fields.StringField("currency"),
		Country:     fields.StringField("country"),
		Website:     fields.StringField("website"),
		CEO:         fields.StringField("ceo"),
		IPODate:     fields.StringField("ipo_date"),
		LogoURL:     fields.StringField("logo_url"),
		DataSource:  rec.Provider(),
	}
	profile.Employees = fields.IntField("employees")

	var existing models.CompanyProfile
	err := s.db.WithContext(ctx).Where("symbol = ?", rec.Symbol).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
			return fmt.Errorf("failed to create company profile for %s: %w", rec.Symbol, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up company profile for %s: %w", rec.Symbol, err)
	}
	profile.ID = existing.ID
	profile.CreatedAt = existing.CreatedAt
	if err := s.db.WithContext(ctx).Save(&profile).Error; err != nil {
		return fmt.Errorf("failed to update company profile for %s: %w", rec.Symbol, err)
	}
	return nil
}

// UpsertFundamentals writes a merged fundamentals snapshot.
func (s *GormStore) UpsertFundamentals(ctx context.Context, rec *models.MergedRecord) error {
	fields := rec.Fields
	snap := models.FundamentalSnapshot{
		Symbol:            rec.Symbol,
		PERatio:           dec(fields, "pe_ratio"),
		ForwardPE:         dec(fields, "forward_pe"),
		PEGRatio:          dec(fields, "peg_ratio"),
		PriceToBook:       dec(fields, "price_to_book"),
		PriceToSales:      dec(fields, "price_to_sales"),
		EPS:               dec(fields, "eps"),
		DividendYield:     dec(fields, "dividend_yield"),
		Beta:              dec(fields, "beta"),
		ProfitMargin:      dec(fields, "profit_margin"),
		ROE:               dec(fields, "roe"),
		ROA:               dec(fields, "roa"),
		Revenue:           dec(fields, "revenue"),
		EBITDA:            dec(fields, "ebitda"),
		DebtToEquity:      dec(fields, "debt_to_equity"),
		SharesOutstanding: dec(fields, "shares_outstanding"),
		Week52High:        dec(fields, "week52_high"),
		Week52Low:         dec(fields, "week52_low"),
		Sector:            fields.StringField("sector"),
		DataSource:        rec.Provider(),
	}

	var existing models.FundamentalSnapshot
	err := s.db.WithContext(ctx).Where("symbol = ?", rec.Symbol).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		if err := s.db.WithContext(ctx).Create(&snap).Error; err != nil {
			return fmt.Errorf("failed to create fundamentals for %s: %w", rec.Symbol, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up fundamentals for %s: %w", rec.Symbol, err)
	}
	snap.ID = existing.ID
	snap.CreatedAt = existing.CreatedAt
	if err := s.db.WithContext(ctx).Save(&snap).Error; err != nil {
		return fmt.Errorf("failed to update fundamentals for %s: %w", rec.Symbol, err)
	}
	return nil
}

// UpsertDividends writes merged dividend records, keyed by (symbol,
// ex_date, amount).
func (s *GormStore) UpsertDividends(ctx context.Context, rec *models.MergedRecord) error {
	for _, r := range rec.Records {
		exDate := r.StringField("ex_date")
		if exDate == "" {
			continue
		}
		row := models.DividendRecord{
			Symbol:          rec.Symbol,
			ExDate:          exDate,
			Amount:          dec(r, "amount"),
			PaymentDate:     r.StringField("payment_date"),
			RecordDate:      r.StringField("record_date"),
			DeclarationDate: r.StringField("declaration_date"),
			Currency:        r.StringField("currency"),
			Frequency:       r.StringField("frequency"),
			DataSource:      rec.Provider(),
		}

		var existing models.DividendRecord
		err := s.db.WithContext(ctx).
			Where("symbol = ? AND ex_date = ? AND amount = ?", rec.Symbol, exDate, row.Amount).
			First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
				return fmt.Errorf("failed to create dividend %s/%s: %w", rec.Symbol, exDate, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to look up dividend %s/%s: %w", rec.Symbol, exDate, err)
		}
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
		if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
			return fmt.Errorf("failed to update dividend %s/%s: %w", rec.Symbol, exDate, err)
		}
	}
	return nil
}

// UpsertEarnings writes merged earnings reports, keyed by (symbol, date).
func (s *GormStore) UpsertEarnings(ctx context.Context, rec *models.MergedRecord) error {
	for _, r := range rec.Records {
		date := r.StringField("date")
		if date == "" {
			continue
		}
		row := models.EarningsReport{
			Symbol:          rec.Symbol,
			Date:            date,
			Period:          r.StringField("period"),
			EPSActual:       dec(r, "eps_actual"),
			EPSEstimate:     dec(r, "eps_estimate"),
			RevenueActual:   dec(r, "revenue_actual"),
			RevenueEstimate: dec(r, "revenue_estimate"),
			SurprisePercent: dec(r, "surprise_percent"),
			DataSource:      rec.Provider(),
		}

		var existing models.EarningsReport
		err := s.db.WithContext(ctx).
			Where("symbol = ? AND date = ?", rec.Symbol, date).
			First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
				return fmt.Errorf("failed to create earnings %s/%s: %w", rec.Symbol, date, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to look up earnings %s/%s: %w", rec.Symbol, date, err)
		}
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
		if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
			return fmt.Errorf("failed to update earnings %s/%s: %w", rec.Symbol, date, err)
		}
	}
	return nil
}

// UpsertHistoricalBars writes merged daily bars, keyed by (symbol, date).
// Bars are append-mostly so existing rows are left untouched.
func (s *GormStore) UpsertHistoricalBars(ctx context.Context, rec *models.MergedRecord) error {
	for _, r := range rec.Records {
		date := r.StringField("date")
		if date == "" {
			continue
		}
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.HistoricalBar{}).
			Where("symbol = ? AND date = ?", rec.Symbol, date).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to look up bar %s/%s: %w", rec.Symbol, date, err)
		}
		if count > 0 {
			continue
		}
		row := models.HistoricalBar{
			Symbol:     rec.Symbol,
			Date:       date,
			Open:       dec(r, "open"),
			High:       dec(r, "high"),
			Low:        dec(r, "low"),
			Close:      dec(r, "close"),
			AdjClose:   dec(r, "adj_close"),
			DataSource: rec.Provider(),
		}
		row.Volume = r.IntField("volume")
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create bar %s/%s: %w", rec.Symbol, date, err)
		}
	}
	return nil
}

// UpsertEconomicEvents writes calendar entries, keyed by (date, event,
// country). Updates refresh actual/estimate values as releases land.
func (s *GormStore) UpsertEconomicEvents(ctx context.Context, rec *models.MergedRecord) error {
	for _, r := range rec.Records {
		date := r.StringField("date")
		event := r.StringField("event")
		if date == "" || event == "" {
			continue
		}
		row := models.EconomicEvent{
			Date:       date,
			Event:      event,
			Country:    r.StringField("country"),
			Actual:     r.StringField("actual"),
			Estimate:   r.StringField("estimate"),
			Previous:   r.StringField("previous"),
			Impact:     r.StringField("impact"),
			Unit:       r.StringField("unit"),
			DataSource: rec.Provider(),
		}

		var existing models.EconomicEvent
		err := s.db.WithContext(ctx).
			Where("date = ? AND event = ? AND country = ?", date, event, row.Country).
			First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
				return fmt.Errorf("failed to create economic event %s/%s: %w", date, event, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to look up economic event %s/%s: %w", date, event, err)
		}
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
		if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
			return fmt.Errorf("failed to update economic event %s/%s: %w", date, event, err)
		}
	}
	return nil
}

// PruneHistoricalBars deletes bars older than the given cutoff date
// (ISO format). Returns the number of rows removed.
func (s *GormStore) PruneHistoricalBars(ctx context.Context, cutoff string) (int64, error) {
	res := s.db.WithContext(ctx).Where("date < ?", cutoff).Delete(&models.HistoricalBar{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune historical bars: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// TrackedSymbols returns active continuously-tracked symbols.
func (s *GormStore) TrackedSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := s.db.WithContext(ctx).Model(&models.TrackedSymbol{}).
		Where("active = ?", true).
		Order("symbol").
		Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load tracked symbols: %w", err)
	}
	return symbols, nil
}

// MoverSymbols returns symbols from the most recent movers scan.
func (s *GormStore) MoverSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := s.db.WithContext(ctx).Model(&models.MarketMover{}).
		Where("created_at > ?", time.Now().Add(-24*time.Hour)).
		Distinct("symbol").
		Order("symbol").
		Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load mover symbols: %w", err)
	}
	return symbols, nil
}

// WatchlistSymbols returns every symbol on any user watchlist.
func (s *GormStore) WatchlistSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := s.db.WithContext(ctx).Model(&models.WatchlistEntry{}).
		Distinct("symbol").
		Order("symbol").
		Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load watchlist symbols: %w", err)
	}
	return symbols, nil
}
