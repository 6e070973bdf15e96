package market

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sellQuotes builds a same-side batch with unique advertisement IDs
func sellQuotes(t *testing.T, prices []float64) []Quote {
	t.Helper()

	quotes := make([]Quote, 0, len(prices))

	for i, price := range prices {
		quotes = append(quotes, Quote{
			ID:    fmt.Sprintf("adv-%d", i),
			Side:  SideSell,
			Price: price,
		})
	}

	return quotes
}

func TestFilter_SmallBatchUnchanged(t *testing.T) {
	t.Parallel()

	quotes := sellQuotes(t, []float64{100, 5000, 99, 1})

	filtered := FilterOutliers(quotes, DefaultFilterConfig())

	assert.Equal(t, quotes, filtered)
}

func TestFilter_PreservesExtremes(t *testing.T) {
	t.Parallel()

	// Two deliberate extremes: 1000 and 5
	prices := []float64{100, 101, 99, 102, 98, 1000, 103, 97, 104, 96, 5, 105}
	quotes := sellQuotes(t, prices)

	filtered := FilterOutliers(quotes, DefaultFilterConfig())

	require.NotEmpty(t, filtered)

	var (
		minPrice = filtered[0].Price
		maxPrice = filtered[0].Price
		sum      float64
		middle   int
	)

	for _, q := range filtered {
		if q.Price < minPrice {
			minPrice = q.Price
		}

		if q.Price > maxPrice {
			maxPrice = q.Price
		}

		if q.Price >= 96 && q.Price <= 105 {
			sum += q.Price
			middle++
		}
	}

	// The extremes sit in the reserved bands and must survive
	assert.LessOrEqual(t, minPrice, 5.0)
	assert.GreaterOrEqual(t, maxPrice, 1000.0)

	// The middle cluster averages around 100
	require.Positive(t, middle)
	assert.InDelta(t, 100.5, sum/float64(middle), 1)
}

func TestFilter_DiscardsMiddleOutliers(t *testing.T) {
	t.Parallel()

	// 20 tight quotes plus a wild one that lands in the middle 80%
	prices := make([]float64, 0, 21)

	for i := 0; i < 10; i++ {
		prices = append(prices, 100+float64(i))
	}

	prices = append(prices, 500) // adversarial, inside the middle band

	for i := 0; i < 10; i++ {
		prices = append(prices, 110+float64(i))
	}

	// Widen the tails so 500 is not a reserved extreme
	prices = append(prices, 1, 2, 900, 950)

	quotes := sellQuotes(t, prices)

	filtered := FilterOutliers(quotes, DefaultFilterConfig())

	for _, q := range filtered {
		assert.NotEqual(t, 500.0, q.Price)
	}
}

func TestFilter_DeduplicatesByID(t *testing.T) {
	t.Parallel()

	quotes := sellQuotes(t, []float64{100, 101, 102, 103, 104, 105})
	quotes = append(quotes, quotes[0], quotes[1]) // page overlap

	filtered := FilterOutliers(quotes, DefaultFilterConfig())

	seen := make(map[string]int)
	for _, q := range filtered {
		seen[q.ID]++
	}

	for id, count := range seen {
		assert.Equalf(t, 1, count, "duplicate advertisement %s", id)
	}
}

func TestFilter_ConfigurableMinimum(t *testing.T) {
	t.Parallel()

	cfg := DefaultFilterConfig()
	cfg.MinSamples = 10

	quotes := sellQuotes(t, []float64{100, 101, 99, 102, 98, 1000, 103})

	// Below the configured minimum, the batch passes through untouched
	assert.Equal(t, quotes, FilterOutliers(quotes, cfg))
}
