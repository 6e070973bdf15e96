package market

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Snapshotter runs one aggregation cycle
type Snapshotter interface {
	Aggregate(ctx context.Context) (*Snapshot, error)
}

// ServiceConfig tunes the cache and backoff behavior
type ServiceConfig struct {
	// CacheTTL is how long a snapshot is served without refetching
	CacheTTL time.Duration

	// MinInterval is the minimum spacing between upstream calls,
	// regardless of cache state
	MinInterval time.Duration

	// BackoffBase is the delay after the first consecutive failure
	BackoffBase time.Duration

	// BackoffMax caps the escalated delay
	BackoffMax time.Duration

	// BackoffFactor is the escalation multiplier per consecutive failure
	BackoffFactor float64
}

// DefaultServiceConfig returns the standard cache service configuration
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		CacheTTL:      time.Minute,
		MinInterval:   time.Second * 30,
		BackoffBase:   time.Second * 30,
		BackoffMax:    time.Minute * 10,
		BackoffFactor: 2,
	}
}

// backoffState tracks consecutive upstream failures.
// Owned exclusively by the Service, guarded by its mutex
type backoffState struct {
	lastAttemptAt       time.Time
	lastSuccessAt       time.Time
	currentDelay        time.Duration
	consecutiveFailures int
}

// Result is what callers of the cache service receive. A usable snapshot
// is always present, the flags carry provenance and staleness
type Result struct {
	Snapshot            *Snapshot     `json:"data"`
	CacheAge            time.Duration `json:"-"`
	Cached              bool          `json:"cached"`
	RateLimited         bool          `json:"rate_limited"`
	Fallback            bool          `json:"fallback"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// Service makes the flaky, rate-limited upstream behave like a dependable
// internal source. It owns the cached snapshot and the backoff state,
// and serializes the refetch decision so concurrent callers cannot
// double-trigger an upstream fetch
type Service struct {
	snapshotter Snapshotter
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	snapshot *Snapshot
	backoff  backoffState

	cfg ServiceConfig
}

type ServiceOption func(s *Service)

// WithServiceLogger specifies the logger for the cache service
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new cache service wrapping the given aggregator
func NewService(snapshotter Snapshotter, cfg ServiceConfig, opts ...ServiceOption) *Service {
	s := &Service{
		snapshotter: snapshotter,
		logger:      noopLogger,
		now:         time.Now,
		cfg:         cfg,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Rates returns the best available snapshot. The whole decide-and-fetch
// cycle runs under the mutex, so the interval guard is checked-and-set
// atomically across concurrent callers
func (s *Service) Rates(ctx context.Context) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	// Fresh cache wins outright
	if s.snapshot != nil && now.Sub(s.snapshot.CapturedAt) < s.cfg.CacheTTL {
		return s.cachedResult(now, false)
	}

	// Too soon since the last upstream attempt, serve stale
	if !s.backoff.lastAttemptAt.IsZero() && now.Sub(s.backoff.lastAttemptAt) < s.waitInterval() {
		if s.snapshot != nil {
			return s.cachedResult(now, true)
		}

		return s.fallbackResult(true)
	}

	s.backoff.lastAttemptAt = now

	snapshot, err := s.snapshotter.Aggregate(ctx)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			// Not an upstream failure, both sides were just empty.
			// Keep the engine operable with the synthesized snapshot
			s.logger.Warn("aggregation yielded no data, synthesizing fallback")

			return s.fallbackResult(false)
		}

		s.registerFailure(err)

		if s.snapshot != nil {
			return s.cachedResult(s.now(), true)
		}

		return s.fallbackResult(errors.Is(err, ErrRateLimited))
	}

	// Publishing is a single reference swap, readers never observe
	// a partially-updated snapshot
	s.snapshot = snapshot
	s.backoff.lastSuccessAt = s.now()
	s.backoff.consecutiveFailures = 0
	s.backoff.currentDelay = 0

	return &Result{
		Snapshot: snapshot,
	}
}

// Snapshot returns the currently cached snapshot, if any
func (s *Service) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshot
}

// ConsecutiveFailures returns the current failure streak
func (s *Service) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.backoff.consecutiveFailures
}

// waitInterval is the required spacing before the next upstream attempt
func (s *Service) waitInterval() time.Duration {
	if s.backoff.currentDelay > s.cfg.MinInterval {
		return s.backoff.currentDelay
	}

	return s.cfg.MinInterval
}

// registerFailure escalates the backoff delay exponentially, up to the cap
func (s *Service) registerFailure(err error) {
	s.backoff.consecutiveFailures++

	delay := s.cfg.BackoffBase

	for i := 1; i < s.backoff.consecutiveFailures; i++ {
		delay = time.Duration(float64(delay) * s.cfg.BackoffFactor)

		if delay >= s.cfg.BackoffMax {
			delay = s.cfg.BackoffMax

			break
		}
	}

	s.backoff.currentDelay = delay

	s.logger.Error(
		"upstream fetch failed",
		"consecutive_failures", s.backoff.consecutiveFailures,
		"next_delay", delay.String(),
		"rate_limited", errors.Is(err, ErrRateLimited),
		"err", err,
	)
}

func (s *Service) cachedResult(now time.Time, rateLimited bool) *Result {
	return &Result{
		Snapshot:            s.snapshot,
		Cached:              true,
		CacheAge:            now.Sub(s.snapshot.CapturedAt),
		RateLimited:         rateLimited,
		Fallback:            false,
		ConsecutiveFailures: s.backoff.consecutiveFailures,
	}
}

func (s *Service) fallbackResult(rateLimited bool) *Result {
	return &Result{
		Snapshot:            FallbackSnapshot(),
		RateLimited:         rateLimited,
		Fallback:            true,
		ConsecutiveFailures: s.backoff.consecutiveFailures,
	}
}
