package market

import "sort"

// FilterConfig bounds the statistical outlier filter
type FilterConfig struct {
	// MinSamples is the batch size below which filtering is skipped entirely
	MinSamples int

	// ExtremeShare is the fraction of the sorted batch reserved on each end
	ExtremeShare float64

	// MinExtremes is the minimum number of reserved quotes per end
	MinExtremes int

	// IQRMultiplier widens the [Q1, Q3] band for the middle of the batch
	IQRMultiplier float64
}

// DefaultFilterConfig returns the standard outlier filter configuration
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MinSamples:    5,
		ExtremeShare:  0.10,
		MinExtremes:   2,
		IQRMultiplier: 2.5,
	}
}

// FilterOutliers removes statistically anomalous prices from a same-side batch.
//
// The lowest and highest ExtremeShare of the sorted batch are preserved
// unconditionally. Thin P2P markets regularly carry legitimate edge offers,
// and a naive IQR pass over the full set would clip them. The IQR bound is
// only applied to the middle of the batch, which keeps adversarial quotes
// out of the bulk without over-filtering the tails
func FilterOutliers(quotes []Quote, cfg FilterConfig) []Quote {
	if len(quotes) < cfg.MinSamples {
		// Insufficient sample for statistics
		return quotes
	}

	sorted := make([]Quote, len(quotes))
	copy(sorted, quotes)

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Price < sorted[j].Price
	})

	reserve := int(float64(len(sorted)) * cfg.ExtremeShare)
	if reserve < cfg.MinExtremes {
		reserve = cfg.MinExtremes
	}

	if reserve*2 >= len(sorted) {
		// Nothing left in the middle to filter
		return sorted
	}

	var (
		low    = sorted[:reserve]
		high   = sorted[len(sorted)-reserve:]
		middle = sorted[reserve : len(sorted)-reserve]
	)

	if len(middle) < 4 {
		// Too few middle quotes for meaningful quartiles
		return dedupeByID(sorted)
	}

	prices := make([]float64, len(middle))
	for i, q := range middle {
		prices[i] = q.Price
	}

	q1, q3 := quartiles(prices)

	var (
		iqr        = q3 - q1
		lowerBound = q1 - cfg.IQRMultiplier*iqr
		upperBound = q3 + cfg.IQRMultiplier*iqr
	)

	kept := make([]Quote, 0, len(sorted))
	kept = append(kept, low...)

	for _, q := range middle {
		if q.Price < lowerBound || q.Price > upperBound {
			continue
		}

		kept = append(kept, q)
	}

	kept = append(kept, high...)

	return dedupeByID(kept)
}

// quartiles computes Q1 / Q3 as medians of the lower and upper halves
func quartiles(sorted []float64) (float64, float64) {
	n := len(sorted)

	half := n / 2

	q1 := median(sorted[:half])

	if n%2 == 0 {
		return q1, median(sorted[half:])
	}

	return q1, median(sorted[half+1:])
}

// median returns the median of a sorted slice
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}

	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return sorted[n/2]
}

// dedupeByID drops duplicate advertisement IDs, keeping first occurrence
func dedupeByID(quotes []Quote) []Quote {
	seen := make(map[string]struct{}, len(quotes))
	out := make([]Quote, 0, len(quotes))

	for _, q := range quotes {
		if _, ok := seen[q.ID]; ok {
			continue
		}

		seen[q.ID] = struct{}{}

		out = append(out, q)
	}

	return out
}
