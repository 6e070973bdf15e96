package serve

import (
	"context"
	"log/slog"
	"time"

	"github.com/fintra/fxengine/convert"
	"github.com/fintra/fxengine/ingest"
	"github.com/fintra/fxengine/market"
	"github.com/fintra/fxengine/provider"
	"github.com/fintra/fxengine/provider/currencies"
	"github.com/fintra/fxengine/storage/types"
)

// refreshInterval is how often the conversion table is rebuilt
// from the provider chain
const refreshInterval = time.Minute * 5

// engine bundles the rate aggregation pipeline shared by the
// serve variants
type engine struct {
	market    *market.Service
	chain     *provider.Chain
	converter *convert.Converter

	ingestProviders []ingest.Provider
}

// buildEngine wires the P2P market pipeline, the provider chain
// and the conversion engine
func buildEngine(logger *slog.Logger) *engine {
	client := market.NewClient(market.DefaultClientConfig())

	aggregator := market.NewAggregator(
		client,
		market.DefaultAggregatorConfig(),
		market.WithAggregatorLogger(logger),
	)

	service := market.NewService(
		aggregator,
		market.DefaultServiceConfig(),
		market.WithServiceLogger(logger),
	)

	var (
		// Live P2P market rates (primary)
		marketProvider = provider.NewMarket(service)

		// Official central bank rates
		bcvProvider = provider.NewBCV(
			provider.DefaultBCVURL,
			time.Second*30,
			provider.WithBCVLogger(logger),
		)

		// Pivot cross rates for non-VES fiat
		fxAPIProvider = provider.NewFXAPI(
			provider.DefaultFXAPIConfig(),
			provider.WithFXAPILogger(logger),
		)

		// Hard-coded last resort
		staticProvider = provider.NewStatic()
	)

	chain := provider.NewChain(
		[]provider.Provider{
			marketProvider,
			bcvProvider,
			fxAPIProvider,
			staticProvider,
		},
		provider.WithChainLogger(logger),
	)

	converter := convert.New(
		seedEntries(),
		convert.WithLogger(logger),
	)

	return &engine{
		market:    service,
		chain:     chain,
		converter: converter,
		ingestProviders: []ingest.Provider{
			marketProvider,
			bcvProvider,
			fxAPIProvider,
		},
	}
}

// runRefresher periodically rebuilds the conversion table from the
// provider chain [BLOCKING]
func (e *engine) runRefresher(ctx context.Context) error {
	// Prime the table on boot
	e.converter.Refresh(ctx, e.chain)

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.converter.Refresh(ctx, e.chain)
		}
	}
}

// seedEntries returns the boot-time conversion table, so conversions
// work before the first provider refresh completes
func seedEntries() []convert.Entry {
	var (
		now = time.Now().UTC()

		seed = map[types.Currency]float64{
			currencies.USDT: 1,
			currencies.EUR:  0.92,
			currencies.CNY:  7.2,
			currencies.TRY:  34.5,
			currencies.RUB:  95,
			currencies.VES:  36.5,
		}
	)

	entries := make([]convert.Entry, 0, len(seed))

	for currency, rate := range seed {
		entries = append(entries, convert.Entry{
			Currency:    currency,
			Rate:        rate,
			LastUpdated: now,
			Source:      types.SourceStatic,
		})
	}

	return entries
}
