package ingest

import (
	"log/slog"
	"time"
)

type Option func(o *Orchestrator)

// WithLogger specifies the logger for the orchestrator
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithQueryInterval specifies how often the orchestrator checks for due polls.
// Defaults to 1s.
// This should only be raised if the registered sources have sparse
// runs (once every hour / 24hrs)
func WithQueryInterval(q time.Duration) Option {
	return func(o *Orchestrator) {
		o.queryInterval = q
	}
}

// WithRetryBackoff specifies the base and cap for the exponential
// retry delay applied after consecutive failed polls.
// Defaults to 10s base, 10m cap
func WithRetryBackoff(base, maxDelay time.Duration) Option {
	return func(o *Orchestrator) {
		o.retryBase = base
		o.retryMax = maxDelay
	}
}

// WithBufferSize specifies the poll result collector buffer size.
// Defaults to 100
func WithBufferSize(size int) Option {
	return func(o *Orchestrator) {
		o.bufferSize = size
	}
}
