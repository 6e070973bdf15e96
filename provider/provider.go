package provider

import (
	"context"
	"errors"

	"github.com/fintra/fxengine/storage/types"
)

var (
	// ErrUnsupportedPair signals the provider carries no rate for the pair
	ErrUnsupportedPair = errors.New("unsupported currency pair")

	// ErrUnavailable signals the provider cannot serve right now
	ErrUnavailable = errors.New("provider unavailable")
)

// Provider is a single interchangeable exchange rate source
type Provider interface {
	// Name returns the human-readable name of the provider
	Name() string

	// IsAvailable reports whether the provider can currently serve lookups.
	// Implementations must honor the context deadline
	IsAvailable(ctx context.Context) bool

	// GetRate returns the rate for the pair: 1 base = rate units of quote
	GetRate(ctx context.Context, base, quote types.Currency) (float64, error)

	// GetRates performs a batched lookup against a single base
	GetRates(ctx context.Context, base types.Currency, quotes []types.Currency) (map[types.Currency]float64, error)

	// SupportedCurrencies lists the currencies the provider can quote
	SupportedCurrencies() []types.Currency
}
