package models

import (
	"fmt"
	"strings"
)

// DataType enumerates the kinds of market data the hub ingests. The set is
// closed; every component dispatches on these constants.
type DataType string

const (
	DataTypeQuote            DataType = "quote"
	DataTypeCompanyInfo      DataType = "company_info"
	DataTypeHistoricalPrices DataType = "historical_prices"
	DataTypeOptionsChain     DataType = "options_chain"
	DataTypeEarnings         DataType = "earnings"
	DataTypeDividends        DataType = "dividends"
	DataTypeFundamentals     DataType = "fundamentals"
	DataTypeNews             DataType = "news"
	DataTypeEconomicEvents   DataType = "economic_events"
)

// AllDataTypes returns every known data type in a stable order.
func AllDataTypes() []DataType {
	return []DataType{
		DataTypeQuote,
		DataTypeCompanyInfo,
		DataTypeHistoricalPrices,
		DataTypeOptionsChain,
		DataTypeEarnings,
		DataTypeDividends,
		DataTypeFundamentals,
		DataTypeNews,
		DataTypeEconomicEvents,
	}
}

// ParseDataType converts a string to a DataType
func ParseDataType(s string) (DataType, error) {
	dt := DataType(strings.ToLower(strings.TrimSpace(s)))
	if !dt.Valid() {
		return "", fmt.Errorf("unknown data type: %q", s)
	}
	return dt, nil
}

// Valid reports whether dt is one of the known data types.
func (dt DataType) Valid() bool {
	switch dt {
	case DataTypeQuote, DataTypeCompanyInfo, DataTypeHistoricalPrices,
		DataTypeOptionsChain, DataTypeEarnings, DataTypeDividends,
		DataTypeFundamentals, DataTypeNews, DataTypeEconomicEvents:
		return true
	}
	return false
}

func (dt DataType) String() string {
	return string(dt)
}

// IsListValued reports whether providers return a list of records for this
// data type instead of a single field map.
func (dt DataType) IsListValued() bool {
	switch dt {
	case DataTypeHistoricalPrices, DataTypeOptionsChain, DataTypeEarnings,
		DataTypeDividends, DataTypeNews, DataTypeEconomicEvents:
		return true
	}
	return false
}

// FieldNames returns the declared sparse field list for the data type. The
// merge loop iterates this list rather than probing arbitrary payloads, so a
// field a provider invents on its own never reaches a merged record.
func (dt DataType) FieldNames() []string {
	switch dt {
	case DataTypeQuote:
		return []string{
			"price", "open", "high", "low", "previous_close", "volume",
			"change", "change_percent", "market_cap", "bid", "ask",
			"currency", "exchange", "timestamp",
		}
	case DataTypeCompanyInfo:
		return []string{
			"name", "description", "sector", "industry", "exchange",
			"currency", "country", "website", "employees", "ceo",
			"ipo_date", "logo_url",
		}
	case DataTypeFundamentals:
		return []string{
			"pe_ratio", "forward_pe", "peg_ratio", "price_to_book",
			"price_to_sales", "eps", "dividend_yield", "beta",
			"profit_margin", "operating_margin", "roe", "roa", "revenue",
			"gross_profit", "ebitda", "debt_to_equity", "current_ratio",
			"free_cash_flow", "shares_outstanding", "week52_high",
			"week52_low", "sector",
		}
	case DataTypeHistoricalPrices:
		return []string{"date", "open", "high", "low", "close", "adj_close", "volume"}
	case DataTypeDividends:
		return []string{
			"ex_date", "amount", "payment_date", "record_date",
			"declaration_date", "currency", "frequency",
		}
	case DataTypeEarnings:
		return []string{
			"date", "period", "eps_actual", "eps_estimate",
			"revenue_actual", "revenue_estimate", "surprise_percent",
		}
	case DataTypeNews:
		return []string{
			"url", "title", "summary", "source", "published_at",
			"image_url", "sentiment",
		}
	case DataTypeEconomicEvents:
		return []string{"date", "event", "country", "actual", "estimate", "previous", "impact", "unit"}
	case DataTypeOptionsChain:
		return []string{
			"expiry", "strike", "side", "last_price", "bid", "ask",
			"volume", "open_interest", "implied_volatility",
		}
	}
	return nil
}

// TemporalField names the field used to order list-valued records, most
// recent first. Dates are normalized to ISO-8601 strings by the provider
// adapters, so lexicographic order is chronological order.
func (dt DataType) TemporalField() string {
	switch dt {
	case DataTypeHistoricalPrices, DataTypeEarnings, DataTypeEconomicEvents:
		return "date"
	case DataTypeDividends:
		return "ex_date"
	case DataTypeNews:
		return "published_at"
	case DataTypeOptionsChain:
		return "expiry"
	}
	return ""
}

// NaturalKey derives the cross-provider deduplication key for one record of
// a list-valued data type. Records from different providers with the same
// natural key describe the same real-world fact.
func (dt DataType) NaturalKey(rec FieldMap) string {
	switch dt {
	case DataTypeHistoricalPrices:
		return rec.StringField("date")
	case DataTypeDividends:
		return rec.StringField("ex_date") + "|" + rec.StringField("amount")
	case DataTypeEarnings:
		return rec.StringField("date") + "|" + rec.StringField("period")
	case DataTypeNews:
		if url := rec.StringField("url"); url != "" {
			return url
		}
		return strings.ToLower(strings.TrimSpace(rec.StringField("title")))
	case DataTypeEconomicEvents:
		return rec.StringField("date") + "|" + rec.StringField("event") + "|" + rec.StringField("country")
	case DataTypeOptionsChain:
		return rec.StringField("expiry") + "|" + rec.StringField("strike") + "|" + rec.StringField("side")
	}
	return ""
}
