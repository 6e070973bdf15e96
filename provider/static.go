package provider

import (
	"context"
	"sort"

	"github.com/fintra/fxengine/provider/currencies"
	"github.com/fintra/fxengine/storage/types"
)

// Static is the hard-coded rate table, the last resort of the chain.
// Rates are expressed relative to the USD pivot:
// 1 USD = rate units of the currency
type Static struct {
	rates map[types.Currency]float64
}

// defaultStaticRates are approximate figures, refreshed manually with releases
func defaultStaticRates() map[types.Currency]float64 {
	return map[types.Currency]float64{
		currencies.USD:  1,
		currencies.USDT: 1,
		currencies.EUR:  0.92,
		currencies.CNY:  7.2,
		currencies.TRY:  34.5,
		currencies.RUB:  95,
		currencies.VES:  36.5,
	}
}

// NewStatic creates the static table provider
func NewStatic() *Static {
	return &Static{
		rates: defaultStaticRates(),
	}
}

func (s *Static) Name() string {
	return types.SourceStatic.String()
}

// IsAvailable always holds, the table is in memory
func (s *Static) IsAvailable(_ context.Context) bool {
	return true
}

func (s *Static) GetRate(_ context.Context, base, quote types.Currency) (float64, error) {
	baseRate, ok := s.rates[base]
	if !ok {
		return 0, ErrUnsupportedPair
	}

	quoteRate, ok := s.rates[quote]
	if !ok {
		return 0, ErrUnsupportedPair
	}

	// Pivot-based cross rate, covers inverse lookups for free
	return quoteRate / baseRate, nil
}

func (s *Static) GetRates(ctx context.Context, base types.Currency, quotes []types.Currency) (map[types.Currency]float64, error) {
	out := make(map[types.Currency]float64, len(quotes))

	for _, quote := range quotes {
		rate, err := s.GetRate(ctx, base, quote)
		if err != nil {
			return nil, err
		}

		out[quote] = rate
	}

	return out, nil
}

func (s *Static) SupportedCurrencies() []types.Currency {
	out := make([]types.Currency, 0, len(s.rates))

	for c := range s.rates {
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})

	return out
}
