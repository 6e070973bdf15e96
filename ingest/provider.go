package ingest

import (
	"context"
	"time"

	"github.com/fintra/fxengine/storage/types"
)

// Provider is a single polled exchange rate source
type Provider interface {
	// Name returns the human-readable name of the source
	Name() string

	// Interval returns how often the source should be polled
	Interval() time.Duration

	// Fetch runs the source's poll cycle, yielding exchange rate data points
	Fetch(context.Context) ([]*types.ExchangeRate, error)
}
