// Package convert is the cross-currency conversion engine. It owns a
// read-mostly table of per-pivot rates, refreshed as a whole-map swap so
// conversions never observe a partially-updated table.
package convert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/fintra/fxengine/provider"
	"github.com/fintra/fxengine/provider/currencies"
	"github.com/fintra/fxengine/storage/types"
)

var (
	// ErrInvalidAmount signals a NaN or infinite conversion amount
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrUnknownCurrency signals a currency with no rate entry
	ErrUnknownCurrency = errors.New("unknown currency")
)

var noopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Entry is one currency's rate relative to the pivot:
// 1 pivot unit = Rate units of Currency
type Entry struct {
	LastUpdated time.Time      `json:"last_updated"`
	Currency    types.Currency `json:"currency"`
	Source      types.Source   `json:"source"`
	Rate        float64        `json:"rate"`
}

// Converter converts amounts between currency codes through the pivot
type Converter struct {
	table  atomic.Pointer[map[types.Currency]Entry]
	logger *slog.Logger
	pivot  types.Currency
}

type Option func(c *Converter)

// WithLogger specifies the logger for the converter
func WithLogger(l *slog.Logger) Option {
	return func(c *Converter) {
		c.logger = l
	}
}

// New creates a converter seeded with the given entries.
// The pivot currency is USD
func New(entries []Entry, opts ...Option) *Converter {
	c := &Converter{
		logger: noopLogger,
		pivot:  currencies.USD,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Load(entries)

	return c
}

// Load atomically replaces the whole rate table
func (c *Converter) Load(entries []Entry) {
	table := make(map[types.Currency]Entry, len(entries)+1)

	// The pivot always converts to itself
	table[c.pivot] = Entry{
		Currency:    c.pivot,
		Rate:        1,
		LastUpdated: time.Now().UTC(),
		Source:      types.SourceStatic,
	}

	for _, entry := range entries {
		if entry.Rate <= 0 || math.IsNaN(entry.Rate) || math.IsInf(entry.Rate, 0) {
			c.logger.Warn(
				"dropping invalid rate entry",
				"currency", entry.Currency,
				"rate", entry.Rate,
			)

			continue
		}

		table[entry.Currency] = entry
	}

	c.table.Store(&table)
}

// Refresh pulls fresh per-pivot rates through the provider chain and swaps
// the table. Only currencies already known to the table are refreshed
func (c *Converter) Refresh(ctx context.Context, chain *provider.Chain) {
	current := *c.table.Load()

	quotes := make([]types.Currency, 0, len(current))

	for currency := range current {
		if currency == c.pivot {
			continue
		}

		quotes = append(quotes, currency)
	}

	var (
		rates = chain.GetRates(ctx, c.pivot, quotes)
		now   = time.Now().UTC()
	)

	entries := make([]Entry, 0, len(rates))

	for currency, rate := range rates {
		source := current[currency].Source
		if info := chain.GetRateInfo(ctx, c.pivot, currency); !info.Approximate {
			source = types.Source(info.Source)
		}

		entries = append(entries, Entry{
			Currency:    currency,
			Rate:        rate,
			LastUpdated: now,
			Source:      source,
		})
	}

	c.Load(entries)

	c.logger.Info(
		"refreshed conversion table",
		"currencies", len(entries),
	)
}

// Convert converts an amount between two currency codes.
// The resolution is algebraically symmetric through the pivot, so
// convert(convert(x, A, B), B, A) round-trips within float tolerance
func (c *Converter) Convert(amount float64, from, to types.Currency) (float64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, ErrInvalidAmount
	}

	if from == to {
		return amount, nil
	}

	rate, err := c.Rate(from, to)
	if err != nil {
		return 0, err
	}

	return amount * rate, nil
}

// Rate resolves the pair rate: 1 from = rate units of to
func (c *Converter) Rate(from, to types.Currency) (float64, error) {
	table := *c.table.Load()

	fromEntry, ok := table[from]
	if !ok {
		return 0, ErrUnknownCurrency
	}

	toEntry, ok := table[to]
	if !ok {
		return 0, ErrUnknownCurrency
	}

	// Both sides are relative to the same pivot: hop into the pivot,
	// then out to the target
	return toEntry.Rate / fromEntry.Rate, nil
}

// Entry returns the rate entry for the given currency, if present
func (c *Converter) Entry(currency types.Currency) (Entry, bool) {
	table := *c.table.Load()

	entry, ok := table[currency]

	return entry, ok
}

// Currencies lists all currency codes with rate entries
func (c *Converter) Currencies() []types.Currency {
	table := *c.table.Load()

	out := make([]types.Currency, 0, len(table))

	for currency := range table {
		out = append(out, currency)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})

	return out
}
