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

// Yahoo Finance endpoints.
const (
	YahooChartBaseURL   = "https://query1.finance.yahoo.com/v8/finance/chart/"
	YahooSummaryBaseURL = "https://query1.finance.yahoo.com/v10/finance/quoteSummary/"
	YahooSearchBaseURL  = "https://query1.finance.yahoo.com/v1/finance/search"
	YahooOptionsBaseURL = "https://query1.finance.yahoo.com/v7/finance/options/"
)

// Yahoo serves quotes, company profiles, daily history, dividends and news
// from the public Yahoo Finance endpoints. No API key is required.
type Yahoo struct {
	ChartBaseURL   string
	SummaryBaseURL string
	SearchBaseURL  string
	OptionsBaseURL string

	client    *http.Client
	limiter   *rate.Limiter
	supported typeSet
}

// NewYahoo creates a Yahoo Finance adapter.
func NewYahoo(ratePerSec float64) *Yahoo {
	return &Yahoo{
		ChartBaseURL:   YahooChartBaseURL,
		SummaryBaseURL: YahooSummaryBaseURL,
		SearchBaseURL:  YahooSearchBaseURL,
		OptionsBaseURL: YahooOptionsBaseURL,
		client:         &http.Client{Timeout: 30 * time.Second},
		limiter:        rate.NewLimiter(rate.Limit(ratePerSec), 2),
		supported: newTypeSet(
			models.DataTypeQuote,
			models.DataTypeCompanyInfo,
			models.DataTypeHistoricalPrices,
			models.DataTypeDividends,
			models.DataTypeNews,
			models.DataTypeOptionsChain,
		),
	}
}

func (p *Yahoo) Name() string { return "yahoo" }

func (p *Yahoo) Supports(dt models.DataType) bool { return p.supported.has(dt) }

// yNum is Yahoo's {raw, fmt} number envelope; only raw is used.
type yNum struct {
	Raw float64 `json:"raw"`
}

// ySummary is the quoteSummary response restricted to the modules requested.
type ySummary struct {
	QuoteSummary struct {
		Result []struct {
			Price struct {
				Symbol             string `json:"symbol"`
				RegularMarketPrice yNum   `json:"regularMarketPrice"`
				RegularMarketOpen  yNum   `json:"regularMarketOpen"`
				RegularMarketHigh  yNum   `json:"regularMarketDayHigh"`
				RegularMarketLow   yNum   `json:"regularMarketDayLow"`
				PreviousClose      yNum   `json:"regularMarketPreviousClose"`
				Volume             yNum   `json:"regularMarketVolume"`
				Change             yNum   `json:"regularMarketChange"`
				ChangePercent      yNum   `json:"regularMarketChangePercent"`
				MarketCap          yNum   `json:"marketCap"`
				Currency           string `json:"currency"`
				ExchangeName       string `json:"exchangeName"`
				LongName           string `json:"longName"`
			} `json:"price"`
			SummaryProfile struct {
				Sector              string `json:"sector"`
				Industry            string `json:"industry"`
				Country             string `json:"country"`
				Website             string `json:"website"`
				LongBusinessSummary string `json:"longBusinessSummary"`
				FullTimeEmployees   int64  `json:"fullTimeEmployees"`
			} `json:"summaryProfile"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteSummary"`
}

// yChart is the chart API response with optional dividend events.
type yChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol   string `json:"symbol"`
				Currency string `json:"currency"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []int64   `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
			Events struct {
				Dividends map[string]struct {
					Amount float64 `json:"amount"`
					Date   int64   `json:"date"`
				} `json:"dividends"`
			} `json:"events"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// ySearch is the search response; only the news block is used.
type ySearch struct {
	News []struct {
		Title               string `json:"title"`
		Publisher           string `json:"publisher"`
		Link                string `json:"link"`
		ProviderPublishTime int64  `json:"providerPublishTime"`
		Thumbnail           struct {
			Resolutions []struct {
				URL string `json:"url"`
			} `json:"resolutions"`
		} `json:"thumbnail"`
	} `json:"news"`
}

func (p *Yahoo) Fetch(ctx context.Context, dt models.DataType, symbol string) (*Payload, error) {
	if !p.Supports(dt) {
		return nil, ErrUnsupported
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	switch dt {
	case models.DataTypeQuote:
		return p.fetchSummary(ctx, symbol, true)
	case models.DataTypeCompanyInfo:
		return p.fetchSummary(ctx, symbol, false)
	case models.DataTypeHistoricalPrices:
		return p.fetchChart(ctx, symbol, false)
	case models.DataTypeDividends:
		return p.fetchChart(ctx, symbol, true)
	case models.DataTypeNews:
		return p.fetchNews(ctx, symbol)
	case models.DataTypeOptionsChain:
		return p.fetchOptions(ctx, symbol)
	}
	return nil, ErrUnsupported
}

func (p *Yahoo) fetchSummary(ctx context.Context, symbol string, quote bool) (*Payload, error) {
	modules := "summaryProfile,price"
	u := p.SummaryBaseURL + url.PathEscape(symbol) + "?modules=" + url.QueryEscape(modules)

	var resp ySummary
	if err := getJSON(ctx, p.client, p.Name(), u, &resp); err != nil {
		return nil, err
	}
	if resp.QuoteSummary.Error != nil && resp.QuoteSummary.Error.Code == "Not Found" {
		return nil, ErrNoData
	}
	if len(resp.QuoteSummary.Result) == 0 {
		return nil, ErrNoData
	}
	r := resp.QuoteSummary.Result[0]

	fields := models.FieldMap{}
	if quote {
		putIfSet(fields, "price", r.Price.RegularMarketPrice.Raw)
		putIfSet(fields, "open", r.Price.RegularMarketOpen.Raw)
		putIfSet(fields, "high", r.Price.RegularMarketHigh.Raw)
		putIfSet(fields, "low", r.Price.RegularMarketLow.Raw)
		putIfSet(fields, "previous_close", r.Price.PreviousClose.Raw)
		putIfSet(fields, "volume", int64(r.Price.Volume.Raw))
		putIfSet(fields, "change", r.Price.Change.Raw)
		putIfSet(fields, "change_percent", r.Price.ChangePercent.Raw*100)
		putIfSet(fields, "market_cap", r.Price.MarketCap.Raw)
		putIfSet(fields, "currency", r.Price.Currency)
		putIfSet(fields, "exchange", r.Price.ExchangeName)
		putIfSet(fields, "timestamp", time.Now().UTC().Format(time.RFC3339))
	} else {
		putIfSet(fields, "name", r.Price.LongName)
		putIfSet(fields, "description", r.SummaryProfile.LongBusinessSummary)
		putIfSet(fields, "sector", r.SummaryProfile.Sector)
		putIfSet(fields, "industry", r.SummaryProfile.Industry)
		putIfSet(fields, "country", r.SummaryProfile.Country)
		putIfSet(fields, "website", r.SummaryProfile.Website)
		putIfSet(fields, "employees", r.SummaryProfile.FullTimeEmployees)
		putIfSet(fields, "exchange", r.Price.ExchangeName)
		putIfSet(fields, "currency", r.Price.Currency)
	}
	return &Payload{Fields: fields}, nil
}

func (p *Yahoo) fetchChart(ctx context.Context, symbol string, dividends bool) (*Payload, error) {
	u := fmt.Sprintf("%s%s?range=1y&interval=1d&events=div", p.ChartBaseURL, url.PathEscape(symbol))

	var resp yChart
	if err := getJSON(ctx, p.client, p.Name(), u, &resp); err != nil {
		return nil, err
	}
	if resp.Chart.Error != nil || len(resp.Chart.Result) == 0 {
		return nil, ErrNoData
	}
	r := resp.Chart.Result[0]

	if dividends {
		if len(r.Events.Dividends) == 0 {
			return nil, ErrNoData
		}
		records := make([]models.FieldMap, 0, len(r.Events.Dividends))
		for _, d := range r.Events.Dividends {
			rec := models.FieldMap{}
			putIfSet(rec, "ex_date", time.Unix(d.Date, 0).UTC().Format("2006-01-02"))
			putIfSet(rec, "amount", d.Amount)
			putIfSet(rec, "currency", r.Meta.Currency)
			if rec.Populated("ex_date") {
				records = append(records, rec)
			}
		}
		return &Payload{Records: records}, nil
	}

	if len(r.Timestamp) == 0 || len(r.Indicators.Quote) == 0 {
		return nil, ErrNoData
	}
	q := r.Indicators.Quote[0]
	var adj []float64
	if len(r.Indicators.AdjClose) > 0 {
		adj = r.Indicators.AdjClose[0].AdjClose
	}

	records := make([]models.FieldMap, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		rec := models.FieldMap{}
		putIfSet(rec, "date", time.Unix(ts, 0).UTC().Format("2006-01-02"))
		if i < len(q.Open) {
			putIfSet(rec, "open", q.Open[i])
		}
		if i < len(q.High) {
			putIfSet(rec, "high", q.High[i])
		}
		if i < len(q.Low) {
			putIfSet(rec, "low", q.Low[i])
		}
		if i < len(q.Close) {
			putIfSet(rec, "close", q.Close[i])
		}
		if i < len(q.Volume) {
			putIfSet(rec, "volume", q.Volume[i])
		}
		if i < len(adj) {
			putIfSet(rec, "adj_close", adj[i])
		}
		records = append(records, rec)
	}
	return &Payload{Records: records}, nil
}

// yOptions is the v7 options chain response.
type yOptions struct {
	OptionChain struct {
		Result []struct {
			Options []struct {
				ExpirationDate int64         `json:"expirationDate"`
				Calls          []yOptionLeaf `json:"calls"`
				Puts           []yOptionLeaf `json:"puts"`
			} `json:"options"`
		} `json:"result"`
	} `json:"optionChain"`
}

type yOptionLeaf struct {
	Strike            float64 `json:"strike"`
	LastPrice         float64 `json:"lastPrice"`
	Bid               float64 `json:"bid"`
	Ask               float64 `json:"ask"`
	Volume            int64   `json:"volume"`
	OpenInterest      int64   `json:"openInterest"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
}

func (p *Yahoo) fetchOptions(ctx context.Context, symbol string) (*Payload, error) {
	var resp yOptions
	if err := getJSON(ctx, p.client, p.Name(), p.OptionsBaseURL+url.PathEscape(symbol), &resp); err != nil {
		return nil, err
	}
	if len(resp.OptionChain.Result) == 0 || len(resp.OptionChain.Result[0].Options) == 0 {
		return nil, ErrNoData
	}

	var records []models.FieldMap
	for _, chain := range resp.OptionChain.Result[0].Options {
		expiry := time.Unix(chain.ExpirationDate, 0).UTC().Format("2006-01-02")
		for _, side := range []struct {
			name string
			legs []yOptionLeaf
		}{{"call", chain.Calls}, {"put", chain.Puts}} {
			for _, leg := range side.legs {
				rec := models.FieldMap{}
				putIfSet(rec, "expiry", expiry)
				putIfSet(rec, "strike", leg.Strike)
				putIfSet(rec, "side", side.name)
				putIfSet(rec, "last_price", leg.LastPrice)
				putIfSet(rec, "bid", leg.Bid)
				putIfSet(rec, "ask", leg.Ask)
				putIfSet(rec, "volume", leg.Volume)
				putIfSet(rec, "open_interest", leg.OpenInterest)
				putIfSet(rec, "implied_volatility", leg.ImpliedVolatility)
				if rec.Populated("strike") {
					records = append(records, rec)
				}
			}
		}
	}
	if len(records) == 0 {
		return nil, ErrNoData
	}
	return &Payload{Records: records}, nil
}

func (p *Yahoo) fetchNews(ctx context.Context, symbol string) (*Payload, error) {
	u := fmt.Sprintf("%s?q=%s&newsCount=20", p.SearchBaseURL, url.QueryEscape(symbol))

	var resp ySearch
	if err := getJSON(ctx, p.client, p.Name(), u, &resp); err != nil {
		return nil, err
	}
	if len(resp.News) == 0 {
		return nil, ErrNoData
	}

	records := make([]models.FieldMap, 0, len(resp.News))
	for _, n := range resp.News {
		rec := models.FieldMap{}
		putIfSet(rec, "url", n.Link)
		putIfSet(rec, "title", n.Title)
		putIfSet(rec, "source", n.Publisher)
		if n.ProviderPublishTime > 0 {
			putIfSet(rec, "published_at", time.Unix(n.ProviderPublishTime, 0).UTC().Format(time.RFC3339))
		}
		if len(n.Thumbnail.Resolutions) > 0 {
			putIfSet(rec, "image_url", n.Thumbnail.Resolutions[0].URL)
		}
		if rec.Populated("url") || rec.Populated("title") {
			records = append(records, rec)
		}
	}
	return &Payload{Records: records}, nil
}
