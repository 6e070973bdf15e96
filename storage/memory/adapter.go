package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fintra/fxengine/storage/types"
)

const (
	defaultLimit = int32(100)
	maxLimit     = int32(500)
)

// recordKey uniquely identifies a stored data point
type recordKey struct {
	base     string
	target   string
	source   string
	rateType string
	asOf     int64 // unix nanos
}

// bucket groups data points that compete for "latest as of"
type bucket struct {
	target   string
	source   string
	rateType string
}

// Storage is the in-memory exchange rate history store
type Storage struct {
	mu   sync.RWMutex
	data map[recordKey]types.ExchangeRate
}

// NewStorage creates an empty in-memory store
func NewStorage() *Storage {
	return &Storage{
		data: make(map[recordKey]types.ExchangeRate),
	}
}

func (s *Storage) SaveExchangeRate(_ context.Context, r *types.ExchangeRate) error {
	k := recordKey{
		base:     r.Base.String(),
		target:   r.Target.String(),
		source:   r.Source.String(),
		rateType: r.RateType.String(),
		asOf:     r.AsOf.UTC().UnixNano(),
	}

	record := *r
	record.AsOf = record.AsOf.UTC()
	record.FetchedAt = record.FetchedAt.UTC()

	s.mu.Lock()
	s.data[k] = record // key is unique, same-instant points overwrite
	s.mu.Unlock()

	return nil
}

func (s *Storage) RateAsOf(
	_ context.Context,
	query *types.RateQuery,
	asOf time.Time,
) (*types.Page[*types.ExchangeRate], error) {
	var (
		cutoff = asOf.UTC()
		latest = make(map[bucket]types.ExchangeRate)
	)

	s.mu.RLock()

	for _, record := range s.data {
		if !matchesQuery(&record, query, cutoff) {
			continue
		}

		b := bucket{
			target:   record.Target.String(),
			source:   record.Source.String(),
			rateType: record.RateType.String(),
		}

		current, ok := latest[b]
		if !ok ||
			record.AsOf.After(current.AsOf) ||
			(record.AsOf.Equal(current.AsOf) && record.FetchedAt.After(current.FetchedAt)) {
			latest[b] = record
		}
	}

	s.mu.RUnlock()

	results := make([]*types.ExchangeRate, 0, len(latest))

	for _, record := range latest {
		cp := record
		results = append(results, &cp)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Target != results[j].Target {
			return results[i].Target.String() < results[j].Target.String()
		}

		if results[i].Source != results[j].Source {
			return results[i].Source.String() < results[j].Source.String()
		}

		return results[i].RateType.String() < results[j].RateType.String()
	})

	return paginate(results, query.Limit, query.Offset), nil
}

func (s *Storage) ListSources(_ context.Context) ([]types.Source, error) {
	s.mu.RLock()

	seen := make(map[string]struct{})

	for k := range s.data {
		seen[k.source] = struct{}{}
	}

	s.mu.RUnlock()

	return sortedValues[types.Source](seen), nil
}

func (s *Storage) ListCurrencies(_ context.Context) ([]types.Currency, error) {
	s.mu.RLock()

	seen := make(map[string]struct{})

	for k := range s.data {
		seen[k.base] = struct{}{}
		seen[k.target] = struct{}{}
	}

	s.mu.RUnlock()

	return sortedValues[types.Currency](seen), nil
}

// matchesQuery checks the record against the query filters and cutoff
func matchesQuery(record *types.ExchangeRate, query *types.RateQuery, cutoff time.Time) bool {
	if record.Base != query.Base {
		return false
	}

	if query.Target != nil && record.Target != *query.Target {
		return false
	}

	if query.Source != nil && record.Source != *query.Source {
		return false
	}

	if query.RateType != nil && record.RateType != *query.RateType {
		return false
	}

	return !record.AsOf.After(cutoff)
}

// paginate clamps limit / offset and slices the result window
func paginate(results []*types.ExchangeRate, limit int32, offset int64) *types.Page[*types.ExchangeRate] {
	total := int64(len(results))

	if total == 0 || offset > total {
		return &types.Page[*types.ExchangeRate]{
			Results: nil,
			Total:   total,
		}
	}

	if limit == 0 {
		limit = defaultLimit
	}

	if limit > maxLimit {
		limit = maxLimit
	}

	var (
		start = int(offset)
		end   = start + int(limit)
	)

	if end > len(results) {
		end = len(results)
	}

	return &types.Page[*types.ExchangeRate]{
		Results: results[start:end],
		Total:   total,
	}
}

func sortedValues[T ~string](seen map[string]struct{}) []T {
	out := make([]T, 0, len(seen))

	for v := range seen {
		out = append(out, T(v))
	}

	sort.Slice(out, func(i, j int) bool {
		return string(out[i]) < string(out[j])
	})

	return out
}
