package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockQuote is the persisted shape of a merged quote record.
type StockQuote struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Symbol        string          `gorm:"uniqueIndex;not null" json:"symbol"`
	Price         decimal.Decimal `gorm:"type:decimal(15,4)" json:"price"`
	Open          decimal.Decimal `gorm:"type:decimal(15,4)" json:"open"`
	High          decimal.Decimal `gorm:"type:decimal(15,4)" json:"high"`
	Low           decimal.Decimal `gorm:"type:decimal(15,4)" json:"low"`
	PreviousClose decimal.Decimal `gorm:"type:decimal(15,4)" json:"previous_close"`
	Volume        int64           `json:"volume"`
	Change        decimal.Decimal `gorm:"type:decimal(15,4)" json:"change"`
	ChangePercent decimal.Decimal `gorm:"type:decimal(10,4)" json:"change_percent"`
	MarketCap     decimal.Decimal `gorm:"type:decimal(22,2)" json:"market_cap"`
	Currency      string          `json:"currency"`
	Exchange      string          `json:"exchange"`
	DataSource    string          `json:"data_source"` // "providerA+providerB" attribution
	QuotedAt      time.Time       `json:"quoted_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CompanyProfile is the persisted shape of merged company info.
type CompanyProfile struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Symbol      string    `gorm:"uniqueIndex;not null" json:"symbol"`
	Name        string    `json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Sector      string    `json:"sector"`
	Industry    string    `json:"industry"`
	Exchange    string    `json:"exchange"`
	Currency    string    `json:"currency"`
	Country     string    `json:"country"`
	Website     string    `json:"website"`
	Employees   int64     `json:"employees"`
	CEO         string    `json:"ceo"`
	IPODate     string    `json:"ipo_date"`
	LogoURL     string    `json:"logo_url"`
	DataSource  string    `json:"data_source"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FundamentalSnapshot is the persisted shape of merged fundamentals.
type FundamentalSnapshot struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	Symbol            string          `gorm:"uniqueIndex;not null" json:"symbol"`
	PERatio           decimal.Decimal `gorm:"type:decimal(12,4)" json:"pe_ratio"`
	ForwardPE         decimal.Decimal `gorm:"type:decimal(12,4)" json:"forward_pe"`
	PEGRatio          decimal.Decimal `gorm:"type:decimal(12,4)" json:"peg_ratio"`
	PriceToBook       decimal.Decimal `gorm:"type:decimal(12,4)" json:"price_to_book"`
	PriceToSales      decimal.Decimal `gorm:"type:decimal(12,4)" json:"price_to_sales"`
	EPS               decimal.Decimal `gorm:"type:decimal(12,4)" json:"eps"`
	DividendYield     decimal.Decimal `gorm:"type:decimal(10,6)" json:"dividend_yield"`
	Beta              decimal.Decimal `gorm:"type:decimal(10,4)" json:"beta"`
	ProfitMargin      decimal.Decimal `gorm:"type:decimal(10,6)" json:"profit_margin"`
	ROE               decimal.Decimal `gorm:"type:decimal(10,6)" json:"roe"`
	ROA               decimal.Decimal `gorm:"type:decimal(10,6)" json:"roa"`
	Revenue           decimal.Decimal `gorm:"type:decimal(22,2)" json:"revenue"`
	EBITDA            decimal.Decimal `gorm:"type:decimal(22,2)" json:"ebitda"`
	DebtToEquity      decimal.Decimal `gorm:"type:decimal(12,4)" json:"debt_to_equity"`
	SharesOutstanding decimal.Decimal `gorm:"type:decimal(22,0)" json:"shares_outstanding"`
	Week52High        decimal.Decimal `gorm:"type:decimal(15,4)" json:"week52_high"`
	Week52Low         decimal.Decimal `gorm:"type:decimal(15,4)" json:"week52_low"`
	Sector            string          `json:"sector"`
	DataSource        string          `json:"data_source"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// DividendRecord is one dividend event, keyed by (symbol, ex_date, amount).
type DividendRecord struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	Symbol          string          `gorm:"index:idx_div_symbol_exdate" json:"symbol"`
	ExDate          string          `gorm:"index:idx_div_symbol_exdate" json:"ex_date"`
	Amount          decimal.Decimal `gorm:"type:decimal(12,6)" json:"amount"`
	PaymentDate     string          `json:"payment_date"`
	RecordDate      string          `json:"record_date"`
	DeclarationDate string          `json:"declaration_date"`
	Currency        string          `json:"currency"`
	Frequency       string          `json:"frequency"`
	DataSource      string          `json:"data_source"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// EarningsReport is one reported or estimated earnings period.
type EarningsReport struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	Symbol          string          `gorm:"index:idx_earn_symbol_date" json:"symbol"`
	Date            string          `gorm:"index:idx_earn_symbol_date" json:"date"`
	Period          string          `json:"period"`
	EPSActual       decimal.Decimal `gorm:"type:decimal(12,4)" json:"eps_actual"`
	EPSEstimate     decimal.Decimal `gorm:"type:decimal(12,4)" json:"eps_estimate"`
	RevenueActual   decimal.Decimal `gorm:"type:decimal(22,2)" json:"revenue_actual"`
	RevenueEstimate decimal.Decimal `gorm:"type:decimal(22,2)" json:"revenue_estimate"`
	SurprisePercent decimal.Decimal `gorm:"type:decimal(10,4)" json:"surprise_percent"`
	DataSource      string          `json:"data_source"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// HistoricalBar is one daily OHLCV bar.
type HistoricalBar struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	Symbol     string          `gorm:"index:idx_bar_symbol_date" json:"symbol"`
	Date       string          `gorm:"index:idx_bar_symbol_date" json:"date"`
	Open       decimal.Decimal `gorm:"type:decimal(15,4)" json:"open"`
	High       decimal.Decimal `gorm:"type:decimal(15,4)" json:"high"`
	Low        decimal.Decimal `gorm:"type:decimal(15,4)" json:"low"`
	Close      decimal.Decimal `gorm:"type:decimal(15,4)" json:"close"`
	AdjClose   decimal.Decimal `gorm:"type:decimal(15,4)" json:"adj_close"`
	Volume     int64           `json:"volume"`
	DataSource string          `json:"data_source"`
	CreatedAt  time.Time       `json:"created_at"`
}

// EconomicEvent is one calendar entry (CPI release, rate decision, ...).
type EconomicEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Date       string    `gorm:"index:idx_econ_date_event" json:"date"`
	Event      string    `gorm:"index:idx_econ_date_event" json:"event"`
	Country    string    `gorm:"index:idx_econ_date_event" json:"country"`
	Actual     string    `json:"actual"`
	Estimate   string    `json:"estimate"`
	Previous   string    `json:"previous"`
	Impact     string    `json:"impact"`
	Unit       string    `json:"unit"`
	DataSource string    `json:"data_source"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TrackedSymbol is a symbol the hub keeps continuously updated.
type TrackedSymbol struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Symbol    string    `gorm:"uniqueIndex;not null" json:"symbol"`
	Active    bool      `gorm:"default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// MarketMover is a symbol surfaced by the movers scan (top gainers/losers).
type MarketMover struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Symbol    string    `gorm:"index" json:"symbol"`
	Direction string    `json:"direction"` // gainer, loser, most_active
	Rank      int       `json:"rank"`
	CreatedAt time.Time `json:"created_at"`
}

// WatchlistEntry is a user-watchlisted symbol.
type WatchlistEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index" json:"user_id"`
	Symbol    string    `gorm:"index" json:"symbol"`
	CreatedAt time.Time `json:"created_at"`
}

// MigrateMarketModels runs database migrations for market data models
func MigrateMarketModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&StockQuote{},
		&CompanyProfile{},
		&FundamentalSnapshot{},
		&DividendRecord{},
		&EarningsReport{},
		&HistoricalBar{},
		&EconomicEvent{},
		&TrackedSymbol{},
		&MarketMover{},
		&WatchlistEntry{},
	)
}
