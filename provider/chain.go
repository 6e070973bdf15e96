package provider

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/fintra/fxengine/storage/types"
)

var noopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// NeutralRate is returned when every provider fails. Conversion becomes a
// no-op. Callers who need to distinguish it from a legitimately equal pair
// must use GetRateInfo and check the Approximate flag
const NeutralRate = 1.0

// RateInfo carries a resolved rate together with its provenance
type RateInfo struct {
	Source      string  `json:"source"`
	Rate        float64 `json:"rate"`
	Approximate bool    `json:"approximate"`
}

// Chain tries an ordered list of rate providers, skipping unavailable ones
// and degrading to the neutral rate when everything fails
type Chain struct {
	logger              *slog.Logger
	providers           []Provider
	availabilityTimeout time.Duration
}

type ChainOption func(c *Chain)

// WithChainLogger specifies the logger for the chain
func WithChainLogger(l *slog.Logger) ChainOption {
	return func(c *Chain) {
		c.logger = l
	}
}

// WithAvailabilityTimeout bounds each provider's availability check
func WithAvailabilityTimeout(d time.Duration) ChainOption {
	return func(c *Chain) {
		c.availabilityTimeout = d
	}
}

// NewChain creates a provider chain. Order is priority order
func NewChain(providers []Provider, opts ...ChainOption) *Chain {
	c := &Chain{
		logger:              noopLogger,
		providers:           providers,
		availabilityTimeout: time.Second * 5,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetRateInfo resolves the pair through the chain, never failing.
// An Approximate result means no provider could serve the pair
func (c *Chain) GetRateInfo(ctx context.Context, base, quote types.Currency) *RateInfo {
	for _, p := range c.providers {
		if !c.available(ctx, p) {
			continue
		}

		rate, err := p.GetRate(ctx, base, quote)
		if err != nil {
			c.logger.Warn(
				"provider rate lookup failed",
				"provider", p.Name(),
				"base", base,
				"quote", quote,
				"err", err,
			)

			continue
		}

		return &RateInfo{
			Rate:   rate,
			Source: p.Name(),
		}
	}

	c.logger.Error(
		"all rate providers exhausted",
		"base", base,
		"quote", quote,
	)

	return &RateInfo{
		Rate:        NeutralRate,
		Source:      types.SourceFallback.String(),
		Approximate: true,
	}
}

// GetRate resolves the pair to a plain rate, degrading to NeutralRate
func (c *Chain) GetRate(ctx context.Context, base, quote types.Currency) float64 {
	return c.GetRateInfo(ctx, base, quote).Rate
}

// GetRates performs a batched lookup. The whole batch is served by a single
// provider, sources are never interleaved within one batch
func (c *Chain) GetRates(ctx context.Context, base types.Currency, quotes []types.Currency) map[types.Currency]float64 {
	for _, p := range c.providers {
		if !c.available(ctx, p) {
			continue
		}

		rates, err := p.GetRates(ctx, base, quotes)
		if err != nil {
			c.logger.Warn(
				"provider batched lookup failed",
				"provider", p.Name(),
				"base", base,
				"err", err,
			)

			continue
		}

		return rates
	}

	out := make(map[types.Currency]float64, len(quotes))
	for _, quote := range quotes {
		out[quote] = NeutralRate
	}

	return out
}

// Providers exposes the configured priority order
func (c *Chain) Providers() []Provider {
	return c.providers
}

func (c *Chain) available(ctx context.Context, p Provider) bool {
	checkCtx, cancelFn := context.WithTimeout(ctx, c.availabilityTimeout)
	defer cancelFn()

	if !p.IsAvailable(checkCtx) {
		c.logger.Debug(
			"provider unavailable, skipping",
			"provider", p.Name(),
		)

		return false
	}

	return true
}
