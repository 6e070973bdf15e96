package provider

import (
	"context"
	"time"

	"github.com/fintra/fxengine/market"
	"github.com/fintra/fxengine/provider/currencies"
	"github.com/fintra/fxengine/storage/types"
)

// Market adapts the P2P market cache service into a chain provider.
// The scraped base rate is VES per USDT, USD is treated as par with USDT
// for the informal-market quote
type Market struct {
	service *market.Service
}

// NewMarket creates a new market-backed rate provider
func NewMarket(service *market.Service) *Market {
	return &Market{
		service: service,
	}
}

func (m *Market) Name() string {
	return market.SourceP2P.String()
}

// Interval is the refresh period when registered for ingestion
func (m *Market) Interval() time.Duration {
	return time.Minute * 10
}

// IsAvailable reports whether a non-synthesized snapshot can be served
func (m *Market) IsAvailable(ctx context.Context) bool {
	return !m.service.Rates(ctx).Fallback
}

func (m *Market) GetRate(ctx context.Context, base, quote types.Currency) (float64, error) {
	baseRate := m.service.Rates(ctx).Snapshot.BaseRate
	if baseRate <= 0 {
		return 0, ErrUnavailable
	}

	switch {
	case isDollar(base) && quote == currencies.VES:
		return baseRate, nil
	case base == currencies.VES && isDollar(quote):
		return 1 / baseRate, nil
	case isDollar(base) && isDollar(quote):
		return 1, nil
	default:
		return 0, ErrUnsupportedPair
	}
}

func (m *Market) GetRates(ctx context.Context, base types.Currency, quotes []types.Currency) (map[types.Currency]float64, error) {
	out := make(map[types.Currency]float64, len(quotes))

	for _, quote := range quotes {
		rate, err := m.GetRate(ctx, base, quote)
		if err != nil {
			return nil, err
		}

		out[quote] = rate
	}

	return out, nil
}

func (m *Market) SupportedCurrencies() []types.Currency {
	return []types.Currency{currencies.USD, currencies.USDT, currencies.VES}
}

// Fetch yields the current BUY / SELL market quotes as storable data points
func (m *Market) Fetch(ctx context.Context) ([]*types.ExchangeRate, error) {
	result := m.service.Rates(ctx)

	var (
		snapshot  = result.Snapshot
		fetchTime = time.Now().UTC()
	)

	return []*types.ExchangeRate{
		{
			AsOf:      snapshot.CapturedAt,
			FetchedAt: fetchTime,
			Base:      currencies.USDT,
			Target:    currencies.VES,
			RateType:  types.RateTypeSELL,
			Source:    snapshot.Source,
			Rate:      snapshot.Sell.Avg,
		},
		{
			AsOf:      snapshot.CapturedAt,
			FetchedAt: fetchTime,
			Base:      currencies.USDT,
			Target:    currencies.VES,
			RateType:  types.RateTypeBUY,
			Source:    snapshot.Source,
			Rate:      snapshot.Buy.Avg,
		},
	}, nil
}

func isDollar(c types.Currency) bool {
	return c == currencies.USD || c == currencies.USDT
}
