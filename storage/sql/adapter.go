package sql

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fintra/fxengine/storage/types"
)

const (
	defaultLimit = int32(100)
	maxLimit     = int32(500)
)

// Storage is the Postgres-backed exchange rate history store
type Storage struct {
	pool *pgxpool.Pool
}

// NewStorage creates a new SQL storage adapter on top of the given pool
func NewStorage(pool *pgxpool.Pool) *Storage {
	return &Storage{
		pool: pool,
	}
}

const saveExchangeRateSQL = `
INSERT INTO exchange_rates (base, target, rate, rate_type, source, as_of, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (base, target, rate_type, source, as_of)
DO UPDATE SET rate = EXCLUDED.rate, fetched_at = EXCLUDED.fetched_at
`

func (s *Storage) SaveExchangeRate(
	ctx context.Context,
	rate *types.ExchangeRate,
) error {
	_, err := s.pool.Exec(
		ctx,
		saveExchangeRateSQL,
		rate.Base.String(),
		rate.Target.String(),
		floatToNumeric(rate.Rate),
		rate.RateType.String(),
		rate.Source.String(),
		timeToTimestamptz(rate.AsOf),
		timeToTimestamptz(rate.FetchedAt),
	)
	if err != nil {
		return fmt.Errorf("unable to save exchange rate: %w", err)
	}

	return nil
}

const rateAsOfSQL = `
WITH latest AS (
    SELECT DISTINCT ON (target, source, rate_type)
        base, target, rate, rate_type, source, as_of, fetched_at
    FROM exchange_rates
    WHERE base = $1
      AND as_of <= $2
      AND ($3::text IS NULL OR target = $3)
      AND ($4::text IS NULL OR source = $4)
      AND ($5::text IS NULL OR rate_type = $5)
    ORDER BY target, source, rate_type, as_of DESC, fetched_at DESC
)
SELECT base, target, rate, rate_type, source, as_of, fetched_at,
       COUNT(*) OVER () AS total
FROM latest
ORDER BY target, source, rate_type
LIMIT $6 OFFSET $7
`

func (s *Storage) RateAsOf(
	ctx context.Context,
	query *types.RateQuery,
	asOf time.Time,
) (*types.Page[*types.ExchangeRate], error) {
	limit := query.Limit
	if limit == 0 {
		limit = defaultLimit
	}

	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := s.pool.Query(
		ctx,
		rateAsOfSQL,
		query.Base.String(),
		timeToTimestamptz(asOf),
		optionalText(query.Target),
		optionalText(query.Source),
		optionalText(query.RateType),
		limit,
		query.Offset,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &types.Page[*types.ExchangeRate]{}, nil // valid case
		}

		return nil, fmt.Errorf("unable to fetch rates: %w", err)
	}
	defer rows.Close()

	var (
		results []*types.ExchangeRate
		total   int64
	)

	for rows.Next() {
		var (
			base, target, rateType, source string
			rate                           pgtype.Numeric
			asOfTS, fetchedAtTS            pgtype.Timestamptz
		)

		if err := rows.Scan(
			&base,
			&target,
			&rate,
			&rateType,
			&source,
			&asOfTS,
			&fetchedAtTS,
			&total,
		); err != nil {
			return nil, fmt.Errorf("unable to scan rate row: %w", err)
		}

		results = append(results, &types.ExchangeRate{
			Base:      types.Currency(base),
			Target:    types.Currency(target),
			Rate:      numericToFloat(rate),
			RateType:  types.RateType(rateType),
			Source:    types.Source(source),
			AsOf:      timestamptzToTime(asOfTS),
			FetchedAt: timestamptzToTime(fetchedAtTS),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unable to iterate rate rows: %w", err)
	}

	return &types.Page[*types.ExchangeRate]{
		Results: results,
		Total:   total,
	}, nil
}

func (s *Storage) ListSources(ctx context.Context) ([]types.Source, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT source FROM exchange_rates ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch sources: %w", err)
	}
	defer rows.Close()

	var out []types.Source

	for rows.Next() {
		var source string

		if err := rows.Scan(&source); err != nil {
			return nil, fmt.Errorf("unable to scan source row: %w", err)
		}

		out = append(out, types.Source(source))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unable to iterate source rows: %w", err)
	}

	return out, nil
}

func (s *Storage) ListCurrencies(ctx context.Context) ([]types.Currency, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT DISTINCT code FROM (
			SELECT base AS code FROM exchange_rates
			UNION
			SELECT target AS code FROM exchange_rates
		) codes ORDER BY code`,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch currencies: %w", err)
	}
	defer rows.Close()

	var out []types.Currency

	for rows.Next() {
		var code string

		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("unable to scan currency row: %w", err)
		}

		out = append(out, types.Currency(code))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unable to iterate currency rows: %w", err)
	}

	return out, nil
}

// optionalText maps a nil filter to SQL NULL
func optionalText[T ~string](v *T) any {
	if v == nil {
		return nil
	}

	return string(*v)
}

// floatToNumeric converts the float value to postgres numeric
func floatToNumeric(value float64) pgtype.Numeric {
	// round to 4dp and store as integer with exponent -4
	i := int64(math.Round(value * 1e4))

	return pgtype.Numeric{
		Int:   big.NewInt(i),
		Exp:   -4,
		Valid: true,
	}
}

// numericToFloat converts the postgres value to float
func numericToFloat(value pgtype.Numeric) float64 {
	if !value.Valid || value.Int == nil {
		return 0
	}

	f, _ := new(big.Rat).SetInt(value.Int).Float64()

	if value.Exp > 0 {
		f *= math.Pow10(int(value.Exp))
	} else if value.Exp < 0 {
		f /= math.Pow10(int(-value.Exp))
	}

	return f
}

// timeToTimestamptz converts the time value to postgres timestamp
func timeToTimestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{
		Time:  t.UTC(),
		Valid: true,
	}
}

// timestamptzToTime converts the postgres timestamp value to time
func timestamptzToTime(ts pgtype.Timestamptz) time.Time {
	if !ts.Valid {
		return time.Time{}
	}

	return ts.Time
}
