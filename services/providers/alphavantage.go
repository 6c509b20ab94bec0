package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"marketdata_hub/models"
)

// AlphaVantageBaseURL is the default Alpha Vantage endpoint.
const AlphaVantageBaseURL = "https://www.alphavantage.co/query"

// AlphaVantage serves quotes, company overview/fundamentals, earnings and
// daily history from the Alpha Vantage REST API.
type AlphaVantage struct {
	APIKey  string
	BaseURL string

	client    *http.Client
	limiter   *rate.Limiter
	supported typeSet
}

// NewAlphaVantage creates an Alpha Vantage adapter.
func NewAlphaVantage(apiKey string, ratePerSec float64) *AlphaVantage {
	return &AlphaVantage{
		APIKey:  apiKey,
		BaseURL: AlphaVantageBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
		supported: newTypeSet(
			models.DataTypeQuote,
			models.DataTypeCompanyInfo,
			models.DataTypeFundamentals,
			models.DataTypeEarnings,
			models.DataTypeHistoricalPrices,
		),
	}
}

func (p *AlphaVantage) Name() string { return "alphavantage" }

func (p *AlphaVantage) Supports(dt models.DataType) bool { return p.supported.has(dt) }

// avGlobalQuote is the GLOBAL_QUOTE response envelope. Alpha Vantage keys
// every field with a positional prefix and returns all values as strings.
type avGlobalQuote struct {
	Quote struct {
		Symbol        string `json:"01. symbol"`
		Open          string `json:"02. open"`
		High          string `json:"03. high"`
		Low           string `json:"04. low"`
		Price         string `json:"05. price"`
		Volume        string `json:"06. volume"`
		PreviousClose string `json:"08. previous close"`
		Change        string `json:"09. change"`
		ChangePercent string `json:"10. change percent"`
	} `json:"Global Quote"`
	Note        string `json:"Note"`
	Information string `json:"Information"`
}

// avOverview is the OVERVIEW response (company info + fundamentals).
type avOverview struct {
	Symbol            string `json:"Symbol"`
	Name              string `json:"Name"`
	Description       string `json:"Description"`
	Exchange          string `json:"Exchange"`
	Currency          string `json:"Currency"`
	Country           string `json:"Country"`
	Sector            string `json:"Sector"`
	Industry          string `json:"Industry"`
	PERatio           string `json:"PERatio"`
	ForwardPE         string `json:"ForwardPE"`
	PEGRatio          string `json:"PEGRatio"`
	PriceToBook       string `json:"PriceToBookRatio"`
	PriceToSales      string `json:"PriceToSalesRatioTTM"`
	EPS               string `json:"EPS"`
	DividendYield     string `json:"DividendYield"`
	Beta              string `json:"Beta"`
	ProfitMargin      string `json:"ProfitMargin"`
	OperatingMargin   string `json:"OperatingMarginTTM"`
	ROE               string `json:"ReturnOnEquityTTM"`
	ROA               string `json:"ReturnOnAssetsTTM"`
	Revenue           string `json:"RevenueTTM"`
	GrossProfit       string `json:"GrossProfitTTM"`
	EBITDA            string `json:"EBITDA"`
	SharesOutstanding string `json:"SharesOutstanding"`
	Week52High        string `json:"52WeekHigh"`
	Week52Low         string `json:"52WeekLow"`
	MarketCap         string `json:"MarketCapitalization"`
	Note              string `json:"Note"`
}

// avEarnings is the EARNINGS response.
type avEarnings struct {
	Symbol            string `json:"symbol"`
	QuarterlyEarnings []struct {
		FiscalDateEnding   string `json:"fiscalDateEnding"`
		ReportedEPS        string `json:"reportedEPS"`
		EstimatedEPS       string `json:"estimatedEPS"`
		SurprisePercentage string `json:"surprisePercentage"`
	} `json:"quarterlyEarnings"`
	Note string `json:"Note"`
}

// avDaily is the TIME_SERIES_DAILY response.
type avDaily struct {
	Series map[string]struct {
		Open   string `json:"1. open"`
		High   string `json:"2. high"`
		Low    string `json:"3. low"`
		Close  string `json:"4. close"`
		Volume string `json:"5. volume"`
	} `json:"Time Series (Daily)"`
	Note string `json:"Note"`
}

// Fetch dispatches on the data type. Alpha Vantage signals throttling with a
// 200 response carrying a "Note" body, which is translated to RateLimitError.
func (p *AlphaVantage) Fetch(ctx context.Context, dt models.DataType, symbol string) (*Payload, error) {
	if !p.Supports(dt) {
		return nil, ErrUnsupported
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	switch dt {
	case models.DataTypeQuote:
		return p.fetchQuote(ctx, symbol)
	case models.DataTypeCompanyInfo:
		return p.fetchOverview(ctx, symbol, false)
	case models.DataTypeFundamentals:
		return p.fetchOverview(ctx, symbol, true)
	case models.DataTypeEarnings:
		return p.fetchEarnings(ctx, symbol)
	case models.DataTypeHistoricalPrices:
		return p.fetchDaily(ctx, symbol)
	}
	return nil, ErrUnsupported
}

func (p *AlphaVantage) endpoint(function, symbol string) string {
	q := url.Values{}
	q.Set("function", function)
	q.Set("symbol", symbol)
	q.Set("apikey", p.APIKey)
	return p.BaseURL + "?" + q.Encode()
}

func (p *AlphaVantage) throttled(note string) error {
	if note == "" {
		return nil
	}
	return &RateLimitError{Provider: p.Name()}
}

func (p *AlphaVantage) fetchQuote(ctx context.Context, symbol string) (*Payload, error) {
	var resp avGlobalQuote
	if err := getJSON(ctx, p.client, p.Name(), p.endpoint("GLOBAL_QUOTE", symbol), &resp); err != nil {
		return nil, err
	}
	if err := p.throttled(resp.Note); err != nil {
		return nil, err
	}
	if resp.Quote.Symbol == "" {
		return nil, ErrNoData
	}

	fields := models.FieldMap{}
	putIfSet(fields, "price", parseFloat(resp.Quote.Price))
	putIfSet(fields, "open", parseFloat(resp.Quote.Open))
	putIfSet(fields, "high", parseFloat(resp.Quote.High))
	putIfSet(fields, "low", parseFloat(resp.Quote.Low))
	putIfSet(fields, "previous_close", parseFloat(resp.Quote.PreviousClose))
	putIfSet(fields, "volume", parseInt(resp.Quote.Volume))
	putIfSet(fields, "change", parseFloat(resp.Quote.Change))
	putIfSet(fields, "change_percent", parsePercent(resp.Quote.ChangePercent))
	putIfSet(fields, "timestamp", time.Now().UTC().Format(time.RFC3339))
	return &Payload{Fields: fields}, nil
}

func (p *AlphaVantage) fetchOverview(ctx context.Context, symbol string, fundamentals bool) (*Payload, error) {
	var resp avOverview
	if err := getJSON(ctx, p.client, p.Name(), p.endpoint("OVERVIEW", symbol), &resp); err != nil {
		return nil, err
	}
	if err := p.throttled(resp.Note); err != nil {
		return nil, err
	}
	if resp.Symbol == "" {
		return nil, ErrNoData
	}

	fields := models.FieldMap{}
	if fundamentals {
		putIfSet(fields, "pe_ratio", parseFloat(resp.PERatio))
		putIfSet(fields, "forward_pe", parseFloat(resp.ForwardPE))
		putIfSet(fields, "peg_ratio", parseFloat(resp.PEGRatio))
		putIfSet(fields, "price_to_book", parseFloat(resp.PriceToBook))
		putIfSet(fields, "price_to_sales", parseFloat(resp.PriceToSales))
		putIfSet(fields, "eps", parseFloat(resp.EPS))
		putIfSet(fields, "dividend_yield", parseFloat(resp.DividendYield))
		putIfSet(fields, "beta", parseFloat(resp.Beta))
		putIfSet(fields, "profit_margin", parseFloat(resp.ProfitMargin))
		putIfSet(fields, "operating_margin", parseFloat(resp.OperatingMargin))
		putIfSet(fields, "roe", parseFloat(resp.ROE))
		putIfSet(fields, "roa", parseFloat(resp.ROA))
		putIfSet(fields, "revenue", parseFloat(resp.Revenue))
		putIfSet(fields, "gross_profit", parseFloat(resp.GrossProfit))
		putIfSet(fields, "ebitda", parseFloat(resp.EBITDA))
		putIfSet(fields, "shares_outstanding", parseFloat(resp.SharesOutstanding))
		putIfSet(fields, "week52_high", parseFloat(resp.Week52High))
		putIfSet(fields, "week52_low", parseFloat(resp.Week52Low))
		putIfSet(fields, "sector", resp.Sector)
	} else {
		putIfSet(fields, "name", resp.Name)
		putIfSet(fields, "description", resp.Description)
		putIfSet(fields, "sector", resp.Sector)
		putIfSet(fields, "industry", resp.Industry)
		putIfSet(fields, "exchange", resp.Exchange)
		putIfSet(fields, "currency", resp.Currency)
		putIfSet(fields, "country", resp.Country)
	}
	return &Payload{Fields: fields}, nil
}

func (p *AlphaVantage) fetchEarnings(ctx context.Context, symbol string) (*Payload, error) {
	var resp avEarnings
	if err := getJSON(ctx, p.client, p.Name(), p.endpoint("EARNINGS", symbol), &resp); err != nil {
		return nil, err
	}
	if err := p.throttled(resp.Note); err != nil {
		return nil, err
	}
	if len(resp.QuarterlyEarnings) == 0 {
		return nil, ErrNoData
	}

	records := make([]models.FieldMap, 0, len(resp.QuarterlyEarnings))
	for _, q := range resp.QuarterlyEarnings {
		rec := models.FieldMap{}
		putIfSet(rec, "date", q.FiscalDateEnding)
		putIfSet(rec, "period", quarterLabel(q.FiscalDateEnding))
		putIfSet(rec, "eps_actual", parseFloat(q.ReportedEPS))
		putIfSet(rec, "eps_estimate", parseFloat(q.EstimatedEPS))
		putIfSet(rec, "surprise_percent", parseFloat(q.SurprisePercentage))
		if rec.Populated("date") {
			records = append(records, rec)
		}
	}
	return &Payload{Records: records}, nil
}

func (p *AlphaVantage) fetchDaily(ctx context.Context, symbol string) (*Payload, error) {
	var resp avDaily
	if err := getJSON(ctx, p.client, p.Name(), p.endpoint("TIME_SERIES_DAILY", symbol), &resp); err != nil {
		return nil, err
	}
	if err := p.throttled(resp.Note); err != nil {
		return nil, err
	}
	if len(resp.Series) == 0 {
		return nil, ErrNoData
	}

	dates := make([]string, 0, len(resp.Series))
	for d := range resp.Series {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	records := make([]models.FieldMap, 0, len(dates))
	for _, d := range dates {
		bar := resp.Series[d]
		rec := models.FieldMap{}
		putIfSet(rec, "date", d)
		putIfSet(rec, "open", parseFloat(bar.Open))
		putIfSet(rec, "high", parseFloat(bar.High))
		putIfSet(rec, "low", parseFloat(bar.Low))
		putIfSet(rec, "close", parseFloat(bar.Close))
		putIfSet(rec, "volume", parseInt(bar.Volume))
		records = append(records, rec)
	}
	return &Payload{Records: records}, nil
}

// quarterLabel renders a fiscal date ending as "Q<n> <year>".
func quarterLabel(fiscalDate string) string {
	t, err := time.Parse("2006-01-02", fiscalDate)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("Q%d %d", (int(t.Month())-1)/3+1, t.Year())
}
