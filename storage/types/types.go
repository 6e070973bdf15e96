package types

import "time"

// Currency is an ISO-4217-style currency code (plus crypto tickers like USDT)
type Currency string

func (c Currency) String() string {
	return string(c)
}

type RateType string

const (
	RateTypeMID  RateType = "MID"
	RateTypeBUY  RateType = "BUY"
	RateTypeSELL RateType = "SELL"
)

func (r RateType) String() string {
	return string(r)
}

// Source identifies where a rate data point came from
type Source string

const (
	SourceStatic   Source = "static"   // hard-coded fallback table
	SourceFallback Source = "fallback" // synthesized when scraping fails entirely
)

func (s Source) String() string {
	return string(s)
}

// ExchangeRate is a single observed rate data point.
// Rate is expressed as: 1 Base = Rate units of Target
type ExchangeRate struct {
	AsOf      time.Time `json:"as_of"`
	FetchedAt time.Time `json:"fetched_at"`
	Base      Currency  `json:"base"`
	Target    Currency  `json:"target"`
	RateType  RateType  `json:"rate_type"`
	Source    Source    `json:"source"`
	Rate      float64   `json:"rate"`
}

// RateQuery filters stored exchange rate data points
type RateQuery struct {
	Target   *Currency `json:"target"`
	RateType *RateType `json:"rate_type"`
	Source   *Source   `json:"source"`
	Base     Currency  `json:"base"`
	Offset   int64     `json:"offset"`
	Limit    int32     `json:"limit"`
}

// Page wraps the results for pagination
type Page[T any] struct {
	Results []T   `json:"results"`
	Total   int64 `json:"total"`
}
