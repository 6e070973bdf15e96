package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"encoding/json"

	"github.com/fintra/fxengine/provider/currencies"
	"github.com/fintra/fxengine/storage/types"
)

var FXAPISource types.Source = "fx-api"

// FXAPIConfig configures the official-currency FX HTTP API client
type FXAPIConfig struct {
	// URL is the API root, the client calls {URL}/latest?base=X&symbols=Y,Z
	URL string

	// Base is the pivot currency all cached rates are expressed against
	Base types.Currency

	// Symbols is the set of quote currencies requested per refresh
	Symbols []types.Currency

	// CacheTTL is the client-side cache lifetime. Official rates move
	// slowly, hours-long TTLs are expected here
	CacheTTL time.Duration

	Timeout time.Duration
}

// DefaultFXAPIConfig returns the standard FX API configuration
func DefaultFXAPIConfig() FXAPIConfig {
	return FXAPIConfig{
		URL:      "https://api.frankfurter.app",
		Base:     currencies.USD,
		Symbols:  []types.Currency{currencies.EUR, currencies.CNY, currencies.TRY, currencies.RUB},
		CacheTTL: time.Hour * 6,
		Timeout:  time.Second * 10,
	}
}

// latestResponse is the /latest response shape
type latestResponse struct {
	Rates map[types.Currency]float64 `json:"rates"`
	Base  types.Currency             `json:"base"`
}

// FXAPI serves official-currency rates from an HTTP FX API,
// cached client-side independently of the market scraper cache
type FXAPI struct {
	client *http.Client
	logger *slog.Logger

	mu        sync.RWMutex
	rates     map[types.Currency]float64
	fetchedAt time.Time

	cfg FXAPIConfig
}

type FXAPIOption func(p *FXAPI)

// WithFXAPILogger specifies the logger for the FX API client
func WithFXAPILogger(l *slog.Logger) FXAPIOption {
	return func(p *FXAPI) {
		p.logger = l
	}
}

// NewFXAPI creates a new FX HTTP API provider
func NewFXAPI(cfg FXAPIConfig, opts ...FXAPIOption) *FXAPI {
	p := &FXAPI{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: noopLogger,
		cfg:    cfg,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *FXAPI) Name() string {
	return FXAPISource.String()
}

// Interval is the refresh period when registered for ingestion
func (p *FXAPI) Interval() time.Duration {
	return p.cfg.CacheTTL
}

// IsAvailable reports a fresh cache, or probes the API within the context deadline
func (p *FXAPI) IsAvailable(ctx context.Context) bool {
	if p.cachedRates() != nil {
		return true
	}

	_, err := p.refresh(ctx)

	return err == nil
}

func (p *FXAPI) GetRate(ctx context.Context, base, quote types.Currency) (float64, error) {
	rates, err := p.pivotRates(ctx)
	if err != nil {
		return 0, err
	}

	baseRate, ok := rates[base]
	if !ok {
		return 0, ErrUnsupportedPair
	}

	quoteRate, ok := rates[quote]
	if !ok {
		return 0, ErrUnsupportedPair
	}

	return quoteRate / baseRate, nil
}

func (p *FXAPI) GetRates(ctx context.Context, base types.Currency, quotes []types.Currency) (map[types.Currency]float64, error) {
	out := make(map[types.Currency]float64, len(quotes))

	for _, quote := range quotes {
		rate, err := p.GetRate(ctx, base, quote)
		if err != nil {
			return nil, err
		}

		out[quote] = rate
	}

	return out, nil
}

func (p *FXAPI) SupportedCurrencies() []types.Currency {
	out := make([]types.Currency, 0, len(p.cfg.Symbols)+1)
	out = append(out, p.cfg.Base)
	out = append(out, p.cfg.Symbols...)

	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})

	return out
}

// Fetch yields the official rates as storable data points
func (p *FXAPI) Fetch(ctx context.Context) ([]*types.ExchangeRate, error) {
	rates, err := p.refresh(ctx)
	if err != nil {
		return nil, err
	}

	fetchTime := time.Now().UTC()

	out := make([]*types.ExchangeRate, 0, len(rates))

	for currency, rate := range rates {
		if currency == p.cfg.Base {
			continue
		}

		out = append(out, &types.ExchangeRate{
			AsOf:      fetchTime,
			FetchedAt: fetchTime,
			Base:      p.cfg.Base,
			Target:    currency,
			RateType:  types.RateTypeMID,
			Source:    FXAPISource,
			Rate:      rate,
		})
	}

	return out, nil
}

// pivotRates returns cached rates, refreshing when the TTL lapsed
func (p *FXAPI) pivotRates(ctx context.Context) (map[types.Currency]float64, error) {
	if rates := p.cachedRates(); rates != nil {
		return rates, nil
	}

	return p.refresh(ctx)
}

func (p *FXAPI) cachedRates() map[types.Currency]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.rates == nil || time.Since(p.fetchedAt) >= p.cfg.CacheTTL {
		return nil
	}

	return p.rates
}

func (p *FXAPI) refresh(ctx context.Context) (map[types.Currency]float64, error) {
	symbols := make([]string, 0, len(p.cfg.Symbols))
	for _, s := range p.cfg.Symbols {
		symbols = append(symbols, s.String())
	}

	query := url.Values{
		"base":    []string{p.cfg.Base.String()},
		"symbols": []string{strings.Join(symbols, ",")},
	}

	reqURL := fmt.Sprintf("%s/latest?%s", p.cfg.URL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("unable to create GET request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to execute GET request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil, fmt.Errorf("invalid status code received: %d", resp.StatusCode)
	}

	var apiResp latestResponse
	if err = json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("unable to decode response: %w", err)
	}

	if len(apiResp.Rates) == 0 {
		return nil, fmt.Errorf("empty rates response")
	}

	rates := make(map[types.Currency]float64, len(apiResp.Rates)+1)
	rates[p.cfg.Base] = 1

	for currency, rate := range apiResp.Rates {
		if rate <= 0 {
			continue
		}

		rates[currency] = rate
	}

	p.mu.Lock()
	p.rates = rates
	p.fetchedAt = time.Now()
	p.mu.Unlock()

	p.logger.Info(
		"refreshed FX API rates",
		"base", p.cfg.Base,
		"count", len(rates),
	)

	return rates, nil
}
