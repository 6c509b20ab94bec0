package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"marketdata_hub/models"
)

// FinnhubBaseURL is the default Finnhub REST endpoint.
const FinnhubBaseURL = "https://finnhub.io/api/v1"

// Finnhub serves quotes, company profiles, company news, earnings and the
// economic calendar from the Finnhub REST API.
type Finnhub struct {
	APIKey  string
	BaseURL string

	client    *http.Client
	limiter   *rate.Limiter
	supported typeSet
	now       func() time.Time
}

// NewFinnhub creates a Finnhub adapter.
func NewFinnhub(apiKey string, ratePerSec float64) *Finnhub {
	return &Finnhub{
		APIKey:  apiKey,
		BaseURL: FinnhubBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 2),
		supported: newTypeSet(
			models.DataTypeQuote,
			models.DataTypeCompanyInfo,
			models.DataTypeNews,
			models.DataTypeEarnings,
			models.DataTypeEconomicEvents,
		),
		now: time.Now,
	}
}

func (p *Finnhub) Name() string { return "finnhub" }

func (p *Finnhub) Supports(dt models.DataType) bool { return p.supported.has(dt) }

// fhQuote is the /quote response.
type fhQuote struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

// fhProfile is the /stock/profile2 response.
type fhProfile struct {
	Name           string  `json:"name"`
	Exchange       string  `json:"exchange"`
	Industry       string  `json:"finnhubIndustry"`
	Country        string  `json:"country"`
	Currency       string  `json:"currency"`
	WebURL         string  `json:"weburl"`
	Logo           string  `json:"logo"`
	IPO            string  `json:"ipo"`
	MarketCapM     float64 `json:"marketCapitalization"`
	SharesOutstand float64 `json:"shareOutstanding"`
}

// fhNewsItem is one entry of /company-news.
type fhNewsItem struct {
	Datetime int64  `json:"datetime"`
	Headline string `json:"headline"`
	Source   string `json:"source"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
	Image    string `json:"image"`
}

// fhEarnings is one entry of /stock/earnings.
type fhEarnings struct {
	Period            string  `json:"period"`
	Quarter           int     `json:"quarter"`
	Year              int     `json:"year"`
	Actual            float64 `json:"actual"`
	Estimate          float64 `json:"estimate"`
	SurprisePercent   float64 `json:"surprisePercent"`
}

// fhEconomicCalendar is the /calendar/economic response.
type fhEconomicCalendar struct {
	EconomicCalendar []struct {
		Time     string  `json:"time"`
		Event    string  `json:"event"`
		Country  string  `json:"country"`
		Actual   float64 `json:"actual"`
		Estimate float64 `json:"estimate"`
		Prev     float64 `json:"prev"`
		Impact   string  `json:"impact"`
		Unit     string  `json:"unit"`
	} `json:"economicCalendar"`
}

func (p *Finnhub) Fetch(ctx context.Context, dt models.DataType, symbol string) (*Payload, error) {
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
		return p.fetchProfile(ctx, symbol)
	case models.DataTypeNews:
		return p.fetchNews(ctx, symbol)
	case models.DataTypeEarnings:
		return p.fetchEarnings(ctx, symbol)
	case models.DataTypeEconomicEvents:
		return p.fetchEconomicCalendar(ctx)
	}
	return nil, ErrUnsupported
}

func (p *Finnhub) endpoint(path string, params url.Values) string {
	params.Set("token", p.APIKey)
	return p.BaseURL + path + "?" + params.Encode()
}

func (p *Finnhub) fetchQuote(ctx context.Context, symbol string) (*Payload, error) {
	var resp fhQuote
	if err := getJSON(ctx, p.client, p.Name(), p.endpoint("/quote", url.Values{"symbol": {symbol}}), &resp); err != nil {
		return nil, err
	}
	// Finnhub returns an all-zero quote body for unknown symbols.
	if resp.Current == 0 && resp.PreviousClose == 0 && resp.Timestamp == 0 {
		return nil, ErrNoData
	}

	fields := models.FieldMap{}
	putIfSet(fields, "price", resp.Current)
	putIfSet(fields, "open", resp.Open)
	putIfSet(fields, "high", resp.High)
	putIfSet(fields, "low", resp.Low)
	putIfSet(fields, "previous_close", resp.PreviousClose)
	putIfSet(fields, "change", resp.Change)
	putIfSet(fields, "change_percent", resp.ChangePercent)
	if resp.Timestamp > 0 {
		putIfSet(fields, "timestamp", time.Unix(resp.Timestamp, 0).UTC().Format(time.RFC3339))
	}
	return &Payload{Fields: fields}, nil
}

func (p *Finnhub) fetchProfile(ctx context.Context, symbol string) (*Payload, error) {
	var resp fhProfile
	if err := getJSON(ctx, p.client, p.Name(), p.endpoint("/stock/profile2", url.Values{"symbol": {symbol}}), &resp); err != nil {
		return nil, err
	}
	if resp.Name == "" {
		return nil, ErrNoData
	}

	fields := models.FieldMap{}
	putIfSet(fields, "name", resp.Name)
	putIfSet(fields, "exchange", resp.Exchange)
	putIfSet(fields, "industry", resp.Industry)
	putIfSet(fields, "country", resp.Country)
	putIfSet(fields, "currency", resp.Currency)
	putIfSet(fields, "website", resp.WebURL)
	putIfSet(fields, "logo_url", resp.Logo)
	putIfSet(fields, "ipo_date", resp.IPO)
	return &Payload{Fields: fields}, nil
}

func (p *Finnhub) fetchNews(ctx context.Context, symbol string) (*Payload, error) {
	to := p.now().UTC()
	from := to.AddDate(0, 0, -7)
	params := url.Values{
		"symbol": {symbol},
		"from":   {from.Format("2006-01-02")},
		"to":     {to.Format("2006-01-02")},
	}

	var resp []fhNewsItem
	if err := getJSON(ctx, p.client, p.Name(), p.endpoint("/company-news", params), &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, ErrNoData
	}

	records := make([]models.FieldMap, 0, len(resp))
	for _, n := range resp {
		rec := models.FieldMap{}
		putIfSet(rec, "url", n.URL)
		putIfSet(rec, "title", n.Headline)
		putIfSet(rec, "summary", n.Summary)
		putIfSet(rec, "source", n.Source)
		putIfSet(rec, "image_url", n.Image)
		if n.Datetime > 0 {
			putIfSet(rec, "published_at", time.Unix(n.Datetime, 0).UTC().Format(time.RFC3339))
		}
		if rec.Populated("url") || rec.Populated("title") {
			records = append(records, rec)
		}
	}
	return &Payload{Records: records}, nil
}

func (p *Finnhub) fetchEarnings(ctx context.Context, symbol string) (*Payload, error) {
	var resp []fhEarnings
	if err := getJSON(ctx, p.client, p.Name(), p.endpoint("/stock/earnings", url.Values{"symbol": {symbol}}), &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, ErrNoData
	}

	records := make([]models.FieldMap, 0, len(resp))
	for _, e := range resp {
		rec := models.FieldMap{}
		putIfSet(rec, "date", e.Period)
		if e.Quarter > 0 && e.Year > 0 {
			putIfSet(rec, "period", fmt.Sprintf("Q%d %d", e.Quarter, e.Year))
		}
		putIfSet(rec, "eps_actual", e.Actual)
		putIfSet(rec, "eps_estimate", e.Estimate)
		putIfSet(rec, "surprise_percent", e.SurprisePercent)
		if rec.Populated("date") {
			records = append(records, rec)
		}
	}
	return &Payload{Records: records}, nil
}

func (p *Finnhub) fetchEconomicCalendar(ctx context.Context) (*Payload, error) {
	var resp fhEconomicCalendar
	if err := getJSON(ctx, p.client, p.Name(), p.endpoint("/calendar/economic", url.Values{}), &resp); err != nil {
		return nil, err
	}
	if len(resp.EconomicCalendar) == 0 {
		return nil, ErrNoData
	}

	records := make([]models.FieldMap, 0, len(resp.EconomicCalendar))
	for _, e := range resp.EconomicCalendar {
		rec := models.FieldMap{}
		putIfSet(rec, "date", e.Time)
		putIfSet(rec, "event", e.Event)
		putIfSet(rec, "country", e.Country)
		putIfSet(rec, "actual", floatString(e.Actual))
		putIfSet(rec, "estimate", floatString(e.Estimate))
		putIfSet(rec, "previous", floatString(e.Prev))
		putIfSet(rec, "impact", e.Impact)
		putIfSet(rec, "unit", e.Unit)
		if rec.Populated("date") && rec.Populated("event") {
			records = append(records, rec)
		}
	}
	return &Payload{Records: records}, nil
}
