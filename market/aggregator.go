package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fintra/fxengine/storage/types"
)

// ErrNoData signals that both sides came back empty after filtering
var ErrNoData = errors.New("no usable quotes on either side")

// SourceP2P marks snapshots built from live P2P quotes
var SourceP2P types.Source = "binance-p2p"

// Last-known good USDT/VES figures, used to synthesize a snapshot
// when the scrape fails entirely so conversion stays operable
const (
	fallbackSellRate = 36.8
	fallbackBuyRate  = 36.2
)

var noopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// QuoteFetcher fetches a single page of same-side quotes
type QuoteFetcher interface {
	FetchQuotes(ctx context.Context, side Side, page int) ([]Quote, error)
}

// AggregatorConfig bounds a single aggregation cycle
type AggregatorConfig struct {
	// Pages is the per-side page budget. Together with the client timeout
	// it is the effective deadline of an aggregation cycle
	Pages int

	// PageDelay is the deliberate pause between page fetches,
	// to respect upstream pacing
	PageDelay time.Duration

	Filter FilterConfig
}

// DefaultAggregatorConfig returns the standard aggregation configuration
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Pages:     3,
		PageDelay: time.Millisecond * 500,
		Filter:    DefaultFilterConfig(),
	}
}

// Aggregator merges filtered quote batches from both trade
// directions into a single snapshot
type Aggregator struct {
	fetcher QuoteFetcher
	logger  *slog.Logger
	cfg     AggregatorConfig
}

type AggregatorOption func(a *Aggregator)

// WithAggregatorLogger specifies the logger for the aggregator
func WithAggregatorLogger(l *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = l
	}
}

// NewAggregator creates a new rate aggregator on top of the given quote source
func NewAggregator(fetcher QuoteFetcher, cfg AggregatorConfig, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		fetcher: fetcher,
		logger:  noopLogger,
		cfg:     cfg,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Aggregate runs both side loops concurrently and joins them before
// computing statistics. Returns ErrNoData if both sides end up empty,
// and ErrRateLimited if the upstream throttled either side
func (a *Aggregator) Aggregate(ctx context.Context) (*Snapshot, error) {
	start := time.Now()

	var (
		sellQuotes []Quote
		buyQuotes  []Quote
	)

	group, gCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		quotes, err := a.fetchSide(gCtx, SideSell)
		if err != nil {
			return err
		}

		sellQuotes = quotes

		return nil
	})

	group.Go(func() error {
		quotes, err := a.fetchSide(gCtx, SideBuy)
		if err != nil {
			return err
		}

		buyQuotes = quotes

		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, err
	}

	var (
		sell = FilterOutliers(sellQuotes, a.cfg.Filter)
		buy  = FilterOutliers(buyQuotes, a.cfg.Filter)
	)

	if len(sell) == 0 && len(buy) == 0 {
		return nil, ErrNoData
	}

	snapshot := buildSnapshot(sell, buy)
	snapshot.ExecutionTimeMs = time.Since(start).Milliseconds()

	a.logger.Info(
		"aggregated market snapshot",
		"base_rate", snapshot.BaseRate,
		"spread", snapshot.Spread,
		"sell_samples", snapshot.SampleCountSell,
		"buy_samples", snapshot.SampleCountBuy,
		"took_ms", snapshot.ExecutionTimeMs,
	)

	return snapshot, nil
}

// fetchSide pages through one trade direction up to the page budget.
// Transport errors end the retry budget for that page only, a rate limit
// aborts the whole side
func (a *Aggregator) fetchSide(ctx context.Context, side Side) ([]Quote, error) {
	quotes := make([]Quote, 0, a.cfg.Pages*20)

	for page := 1; page <= a.cfg.Pages; page++ {
		if page > 1 && a.cfg.PageDelay > 0 {
			select {
			case <-ctx.Done():
				return quotes, ctx.Err()
			case <-time.After(a.cfg.PageDelay):
			}
		}

		pageQuotes, err := a.fetcher.FetchQuotes(ctx, side, page)
		if err != nil {
			if errors.Is(err, ErrRateLimited) || errors.Is(err, context.Canceled) {
				return nil, err
			}

			// Transport or timeout trouble. The page budget is the retry
			// bound, keep whatever pages already succeeded
			a.logger.Warn(
				"quote page fetch failed",
				"side", side,
				"page", page,
				"err", err,
			)

			continue
		}

		if len(pageQuotes) == 0 {
			break
		}

		quotes = append(quotes, pageQuotes...)
	}

	return dedupeByID(quotes), nil
}

// buildSnapshot computes summary statistics over already-filtered batches
func buildSnapshot(sell, buy []Quote) *Snapshot {
	var (
		sellSample, sellAvg = sampleOf(sell)
		buySample, buyAvg   = sampleOf(buy)
	)

	snapshot := &Snapshot{
		CapturedAt:      time.Now().UTC(),
		Source:          SourceP2P,
		Sell:            sellSample,
		Buy:             buySample,
		SampleCountSell: len(sell),
		SampleCountBuy:  len(buy),
	}

	switch {
	case len(sell) > 0 && len(buy) > 0:
		snapshot.BaseRate = round2((sellAvg + buyAvg) / 2)
		snapshot.Spread = round2(math.Abs(sellAvg - buyAvg))
		snapshot.OverallMin = math.Min(sellSample.Min, buySample.Min)
		snapshot.OverallMax = math.Max(sellSample.Max, buySample.Max)
	case len(sell) > 0:
		snapshot.BaseRate = round2(sellAvg)
		snapshot.OverallMin = sellSample.Min
		snapshot.OverallMax = sellSample.Max
	default:
		snapshot.BaseRate = round2(buyAvg)
		snapshot.OverallMin = buySample.Min
		snapshot.OverallMax = buySample.Max
	}

	return snapshot
}

// sampleOf computes min / avg / max for one side. The unrounded average is
// returned separately, accumulation stays at full precision internally
func sampleOf(quotes []Quote) (Sample, float64) {
	if len(quotes) == 0 {
		return Sample{}, 0
	}

	var (
		minPrice = quotes[0].Price
		maxPrice = quotes[0].Price
		sum      float64
	)

	for _, q := range quotes {
		if q.Price < minPrice {
			minPrice = q.Price
		}

		if q.Price > maxPrice {
			maxPrice = q.Price
		}

		sum += q.Price
	}

	avg := sum / float64(len(quotes))

	return Sample{
		Min: round2(minPrice),
		Avg: round2(avg),
		Max: round2(maxPrice),
	}, avg
}

// FallbackSnapshot synthesizes a snapshot from the last-known constants.
// It keeps the conversion engine operable under total scrape failure
func FallbackSnapshot() *Snapshot {
	var (
		sell = Sample{Min: fallbackSellRate, Avg: fallbackSellRate, Max: fallbackSellRate}
		buy  = Sample{Min: fallbackBuyRate, Avg: fallbackBuyRate, Max: fallbackBuyRate}
	)

	return &Snapshot{
		CapturedAt: time.Now().UTC(),
		Source:     types.SourceFallback,
		Sell:       sell,
		Buy:        buy,
		BaseRate:   round2((fallbackSellRate + fallbackBuyRate) / 2),
		OverallMin: fallbackBuyRate,
		OverallMax: fallbackSellRate,
		Spread:     round2(fallbackSellRate - fallbackBuyRate),
	}
}
