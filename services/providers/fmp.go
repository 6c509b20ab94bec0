package providers

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"marketdata_hub/models"
)

// FMPBaseURL is the default Financial Modeling Prep endpoint.
const FMPBaseURL = "https://financialmodelingprep.com/api/v3"

// FMP serves fundamentals, dividends and daily history from the Financial
// Modeling Prep REST API.
type FMP struct {
	APIKey  string
	BaseURL string

	client    *http.Client
	limiter   *rate.Limiter
	supported typeSet
}

// NewFMP creates a Financial Modeling Prep adapter.
func NewFMP(apiKey string, ratePerSec float64) *FMP {
	return &FMP{
		APIKey:  apiKey,
		BaseURL: FMPBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
		supported: newTypeSet(
			models.DataTypeFundamentals,
			models.DataTypeDividends,
			models.DataTypeHistoricalPrices,
		),
	}
}

func (p *FMP) Name() string { return "fmp" }

func (p *FMP) Supports(dt models.DataType) bool { return p.supported.has(dt) }

// fmpRatios is one entry of /ratios-ttm/{symbol}.
type fmpRatios struct {
	PERatioTTM              float64 `json:"peRatioTTM"`
	PEGRatioTTM             float64 `json:"pegRatioTTM"`
	PriceToBookTTM          float64 `json:"priceToBookRatioTTM"`
	PriceToSalesTTM         float64 `json:"priceToSalesRatioTTM"`
	DividendYieldTTM        float64 `json:"dividendYielTTM"`
	NetProfitMarginTTM      float64 `json:"netProfitMarginTTM"`
	OperatingMarginTTM      float64 `json:"operatingProfitMarginTTM"`
	ReturnOnEquityTTM       float64 `json:"returnOnEquityTTM"`
	ReturnOnAssetsTTM       float64 `json:"returnOnAssetsTTM"`
	DebtEquityRatioTTM      float64 `json:"debtEquityRatioTTM"`
	CurrentRatioTTM         float64 `json:"currentRatioTTM"`
	FreeCashFlowPerShareTTM float64 `json:"freeCashFlowPerShareTTM"`
}

// fmpProfile is one entry of /profile/{symbol}.
type fmpProfile struct {
	Symbol   string  `json:"symbol"`
	Beta     float64 `json:"beta"`
	Sector   string  `json:"sector"`
	MktCap   float64 `json:"mktCap"`
	Range52W string  `json:"range"`
}

// fmpDividends is the /historical-price-full/stock_dividend response.
type fmpDividends struct {
	Symbol     string `json:"symbol"`
	Historical []struct {
		Date            string  `json:"date"`
		Dividend        float64 `json:"dividend"`
		AdjDividend     float64 `json:"adjDividend"`
		RecordDate      string  `json:"recordDate"`
		PaymentDate     string  `json:"paymentDate"`
		DeclarationDate string  `json:"declarationDate"`
	} `json:"historical"`
}

// fmpHistorical is the /historical-price-full response.
type fmpHistorical struct {
	Symbol     string `json:"symbol"`
	Historical []struct {
		Date     string  `json:"date"`
		Open     float64 `json:"open"`
		High     float64 `json:"high"`
		Low      float64 `json:"low"`
		Close    float64 `json:"close"`
		AdjClose float64 `json:"adjClose"`
		Volume   int64   `json:"volume"`
	} `json:"historical"`
}

func (p *FMP) Fetch(ctx context.Context, dt models.DataType, symbol string) (*Payload, error) {
	if !p.Supports(dt) {
		return nil, ErrUnsupported
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	switch dt {
	case models.DataTypeFundamentals:
		return p.fetchFundamentals(ctx, symbol)
	case models.DataTypeDividends:
		return p.fetchDividends(ctx, symbol)
	case models.DataTypeHistoricalPrices:
		return p.fetchHistorical(ctx, symbol)
	}
	return nil, ErrUnsupported
}

func (p *FMP) endpoint(path, symbol string) string {
	return p.BaseURL + path + "/" + url.PathEscape(symbol) + "?apikey=" + url.QueryEscape(p.APIKey)
}

func (p *FMP) fetchFundamentals(ctx context.Context, symbol string) (*Payload, error) {
	var ratios []fmpRatios
	if err := getJSON(ctx, p.client, p.Name(), p.endpoint("/ratios-ttm", symbol), &ratios); err != nil {
		return nil, err
	}
	if len(ratios) == 0 {
		return nil, ErrNoData
	}
	r := ratios[0]

	fields := models.FieldMap{}
	putIfSet(fields, "pe_ratio", r.PERatioTTM)
	putIfSet(fields, "peg_ratio", r.PEGRatioTTM)
	putIfSet(fields, "price_to_book", r.PriceToBookTTM)
	putIfSet(fields, "price_to_sales", r.PriceToSalesTTM)
	putIfSet(fields, "dividend_yield", r.DividendYieldTTM)
	putIfSet(fields, "profit_margin", r.NetProfitMarginTTM)
	putIfSet(fields, "operating_margin", r.OperatingMarginTTM)
	putIfSet(fields, "roe", r.ReturnOnEquityTTM)
	putIfSet(fields, "roa", r.ReturnOnAssetsTTM)
	putIfSet(fields, "debt_to_equity", r.DebtEquityRatioTTM)
	putIfSet(fields, "current_ratio", r.CurrentRatioTTM)
	putIfSet(fields, "free_cash_flow", r.FreeCashFlowPerShareTTM)

	// Beta and sector come from the profile endpoint; best effort only.
	var profiles []fmpProfile
	if err := getJSON(ctx, p.client, p.Name(), p.endpoint("/profile", symbol), &profiles); err == nil && len(profiles) > 0 {
		putIfSet(fields, "beta", profiles[0].Beta)
		putIfSet(fields, "sector", profiles[0].Sector)
	}
	return &Payload{Fields: fields}, nil
}

func (p *FMP) fetchDividends(ctx context.Context, symbol string) (*Payload, error) {
	var resp fmpDividends
	if err := getJSON(ctx, p.client, p.Name(), p.endpoint("/historical-price-full/stock_dividend", symbol), &resp); err != nil {
		return nil, err
	}
	if len(resp.Historical) == 0 {
		return nil, ErrNoData
	}

	records := make([]models.FieldMap, 0, len(resp.Historical))
	for _, d := range resp.Historical {
		rec := models.FieldMap{}
		putIfSet(rec, "ex_date", d.Date)
		putIfSet(rec, "amount", d.Dividend)
		putIfSet(rec, "record_date", d.RecordDate)
		putIfSet(rec, "payment_date", d.PaymentDate)
		putIfSet(rec, "declaration_date", d.DeclarationDate)
		if rec.Populated("ex_date") {
			records = append(records, rec)
		}
	}
	return &Payload{Records: records}, nil
}

func (p *FMP) fetchHistorical(ctx context.Context, symbol string) (*Payload, error) {
	var resp fmpHistorical
	if err := getJSON(ctx, p.client, p.Name(), p.endpoint("/historical-price-full", symbol), &resp); err != nil {
		return nil, err
	}
	if len(resp.Historical) == 0 {
		return nil, ErrNoData
	}

	records := make([]models.FieldMap, 0, len(resp.Historical))
	for _, b := range resp.Historical {
		rec := models.FieldMap{}
		putIfSet(rec, "date", b.Date)
		putIfSet(rec, "open", b.Open)
		putIfSet(rec, "high", b.High)
		putIfSet(rec, "low", b.Low)
		putIfSet(rec, "close", b.Close)
		putIfSet(rec, "adj_close", b.AdjClose)
		putIfSet(rec, "volume", b.Volume)
		if rec.Populated("date") {
			records = append(records, rec)
		}
	}
	return &Payload{Records: records}, nil
}
