package server

import (
	"github.com/fintra/fxengine/market"
	"github.com/fintra/fxengine/storage/types"
)

type SourcesResponse struct {
	Results []types.Source `json:"results"`
}

type CurrenciesResponse struct {
	Results []types.Currency `json:"results"`
}

// MarketRatesResponse wraps the cached P2P market snapshot with its
// provenance flags
type MarketRatesResponse struct {
	Data                *market.Snapshot `json:"data"`
	Success             bool             `json:"success"`
	Cached              bool             `json:"cached"`
	CacheAgeSeconds     int64            `json:"cache_age_seconds"`
	RateLimited         bool             `json:"rate_limited"`
	Fallback            bool             `json:"fallback"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
}

type ConvertResponse struct {
	From        types.Currency `json:"from"`
	To          types.Currency `json:"to"`
	Formatted   string         `json:"formatted"`
	Amount      float64        `json:"amount"`
	Result      float64        `json:"result"`
	Rate        float64        `json:"rate"`
	Success     bool           `json:"success"`
	Approximate bool           `json:"approximate"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
