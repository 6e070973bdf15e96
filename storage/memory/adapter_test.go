package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintra/fxengine/provider/currencies"
	"github.com/fintra/fxengine/storage/types"
)

func saveRate(t *testing.T, s *Storage, rate *types.ExchangeRate) {
	t.Helper()

	require.NoError(t, s.SaveExchangeRate(context.Background(), rate))
}

func TestMemory_RateAsOf(t *testing.T) {
	t.Parallel()

	t.Run("latest point per bucket wins", func(t *testing.T) {
		t.Parallel()

		var (
			s = NewStorage()

			day1 = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
			day2 = time.Date(2026, time.January, 2, 0, 0, 0, 0, time.UTC)
		)

		saveRate(t, s, &types.ExchangeRate{
			Base:     currencies.USD,
			Target:   currencies.VES,
			Rate:     36.1,
			RateType: types.RateTypeMID,
			Source:   "BCV",
			AsOf:     day1,
		})

		saveRate(t, s, &types.ExchangeRate{
			Base:     currencies.USD,
			Target:   currencies.VES,
			Rate:     36.4,
			RateType: types.RateTypeMID,
			Source:   "BCV",
			AsOf:     day2,
		})

		page, err := s.RateAsOf(
			context.Background(),
			&types.RateQuery{Base: currencies.USD},
			day2.Add(time.Hour),
		)

		require.NoError(t, err)
		require.Len(t, page.Results, 1)

		assert.Equal(t, int64(1), page.Total)
		assert.InDelta(t, 36.4, page.Results[0].Rate, 0.001)
	})

	t.Run("cutoff excludes future points", func(t *testing.T) {
		t.Parallel()

		var (
			s = NewStorage()

			day1 = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
			day2 = time.Date(2026, time.January, 2, 0, 0, 0, 0, time.UTC)
		)

		saveRate(t, s, &types.ExchangeRate{
			Base:     currencies.USD,
			Target:   currencies.VES,
			Rate:     36.1,
			RateType: types.RateTypeMID,
			Source:   "BCV",
			AsOf:     day1,
		})

		saveRate(t, s, &types.ExchangeRate{
			Base:     currencies.USD,
			Target:   currencies.VES,
			Rate:     36.4,
			RateType: types.RateTypeMID,
			Source:   "BCV",
			AsOf:     day2,
		})

		page, err := s.RateAsOf(
			context.Background(),
			&types.RateQuery{Base: currencies.USD},
			day1.Add(time.Hour),
		)

		require.NoError(t, err)
		require.Len(t, page.Results, 1)
		assert.InDelta(t, 36.1, page.Results[0].Rate, 0.001)
	})

	t.Run("buckets split by source and type", func(t *testing.T) {
		t.Parallel()

		var (
			s = NewStorage()

			asOf = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
		)

		saveRate(t, s, &types.ExchangeRate{
			Base:     currencies.USDT,
			Target:   currencies.VES,
			Rate:     37.0,
			RateType: types.RateTypeSELL,
			Source:   "binance-p2p",
			AsOf:     asOf,
		})

		saveRate(t, s, &types.ExchangeRate{
			Base:     currencies.USDT,
			Target:   currencies.VES,
			Rate:     35.2,
			RateType: types.RateTypeBUY,
			Source:   "binance-p2p",
			AsOf:     asOf,
		})

		page, err := s.RateAsOf(
			context.Background(),
			&types.RateQuery{Base: currencies.USDT},
			asOf.Add(time.Hour),
		)

		require.NoError(t, err)
		assert.Len(t, page.Results, 2)
	})

	t.Run("type filter applied", func(t *testing.T) {
		t.Parallel()

		var (
			s = NewStorage()

			asOf     = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
			sellType = types.RateTypeSELL
		)

		saveRate(t, s, &types.ExchangeRate{
			Base:     currencies.USDT,
			Target:   currencies.VES,
			Rate:     37.0,
			RateType: types.RateTypeSELL,
			Source:   "binance-p2p",
			AsOf:     asOf,
		})

		saveRate(t, s, &types.ExchangeRate{
			Base:     currencies.USDT,
			Target:   currencies.VES,
			Rate:     35.2,
			RateType: types.RateTypeBUY,
			Source:   "binance-p2p",
			AsOf:     asOf,
		})

		page, err := s.RateAsOf(
			context.Background(),
			&types.RateQuery{
				Base:     currencies.USDT,
				RateType: &sellType,
			},
			asOf.Add(time.Hour),
		)

		require.NoError(t, err)
		require.Len(t, page.Results, 1)
		assert.Equal(t, types.RateTypeSELL, page.Results[0].RateType)
	})

	t.Run("pagination window", func(t *testing.T) {
		t.Parallel()

		var (
			s = NewStorage()

			asOf    = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
			targets = []types.Currency{currencies.EUR, currencies.TRY, currencies.VES}
		)

		for _, target := range targets {
			saveRate(t, s, &types.ExchangeRate{
				Base:     currencies.USD,
				Target:   target,
				Rate:     1,
				RateType: types.RateTypeMID,
				Source:   "fx-api",
				AsOf:     asOf,
			})
		}

		page, err := s.RateAsOf(
			context.Background(),
			&types.RateQuery{
				Base:   currencies.USD,
				Limit:  2,
				Offset: 1,
			},
			asOf.Add(time.Hour),
		)

		require.NoError(t, err)
		require.Len(t, page.Results, 2)

		assert.Equal(t, int64(3), page.Total)
		assert.Equal(t, currencies.TRY, page.Results[0].Target)
		assert.Equal(t, currencies.VES, page.Results[1].Target)
	})
}

func TestMemory_Listings(t *testing.T) {
	t.Parallel()

	var (
		s = NewStorage()

		asOf = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	)

	saveRate(t, s, &types.ExchangeRate{
		Base:     currencies.USD,
		Target:   currencies.VES,
		Rate:     36.4,
		RateType: types.RateTypeMID,
		Source:   "BCV",
		AsOf:     asOf,
	})

	saveRate(t, s, &types.ExchangeRate{
		Base:     currencies.USDT,
		Target:   currencies.VES,
		Rate:     37.0,
		RateType: types.RateTypeSELL,
		Source:   "binance-p2p",
		AsOf:     asOf,
	})

	sources, err := s.ListSources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.Source{"BCV", "binance-p2p"}, sources)

	listed, err := s.ListCurrencies(context.Background())
	require.NoError(t, err)
	assert.Equal(
		t,
		[]types.Currency{currencies.USD, currencies.USDT, currencies.VES},
		listed,
	)
}
