package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sig-0/iq"

	"github.com/fintra/fxengine/storage"
)

var (
	errInvalidProvider = errors.New("invalid provider")
	errInvalidInterval = errors.New("invalid interval")
)

// registration tracks a polled source and its consecutive failure count.
// The failure count is only touched by the orchestration loop
type registration struct {
	provider Provider
	failures int
}

// Orchestrator is the main poll scheduler for registered rate sources
type Orchestrator struct {
	storage storage.Storage
	logger  *slog.Logger

	registered sync.Map // xid.ID -> *registration

	q             iq.Queue[scheduledPoll]
	queryInterval time.Duration
	retryBase     time.Duration
	retryMax      time.Duration
	bufferSize    int
	qMux          sync.Mutex
}

// New creates a new Orchestrator instance
func New(storage storage.Storage, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		storage:       storage,
		q:             iq.NewQueue[scheduledPoll](),
		queryInterval: time.Second, // every second
		retryBase:     time.Second * 10,
		retryMax:      time.Minute * 10,
		bufferSize:    100,
	}

	// Apply the options
	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Register registers a new source with the orchestrator.
// The source is immediately queued up for an initial poll
func (o *Orchestrator) Register(p Provider) error {
	if p == nil || p.Name() == "" {
		return errInvalidProvider
	}

	if p.Interval() <= 0 {
		return errInvalidInterval
	}

	// Register the source
	id := xid.New()
	o.registered.Store(id, &registration{provider: p})

	o.logger.Info(
		"registered new source",
		"name", p.Name(),
	)

	// Schedule the initial poll
	o.schedulePoll(
		time.Now().UTC(),
		id,
		p,
	)

	return nil
}

// Start starts the source orchestration service loop [BLOCKING]
func (o *Orchestrator) Start(ctx context.Context) error {
	collectorCh := make(chan *workerResponse, o.bufferSize)

	// Start a listener for monitoring due polls
	ticker := time.NewTicker(o.queryInterval)
	defer ticker.Stop()

	// dispatchDue spawns workers for all polls that are due
	dispatchDue := func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				nextSP := o.nextPoll()
				if nextSP == nil {
					return // nothing left that is due
				}

				o.logger.Info(
					"dispatching poll",
					"name", nextSP.provider.Name(),
				)

				// Spawn worker
				info := &workerInfo{
					provider:   nextSP.provider,
					providerID: nextSP.providerID,
					resCh:      collectorCh,
				}

				go runPoll(ctx, info)
			}
		}
	}

	// Dispatch the first set of due polls (on boot)
	dispatchDue()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator service shut down")
			close(collectorCh)

			return nil
		case <-ticker.C:
			dispatchDue()
		case response := <-collectorCh:
			now := time.Now().UTC()

			regRaw, ok := o.registered.Load(response.providerID)
			if !ok {
				o.logger.Error(
					"unable to load registered source",
					"id", response.providerID.String(),
				)

				continue
			}

			reg, _ := regRaw.(*registration)

			if response.error != nil {
				reg.failures++

				o.logger.Error(
					"error encountered during rate poll",
					"name", reg.provider.Name(),
					"failures", reg.failures,
					"err", response.error.Error(),
				)

				// Re-queue the poll with exponential backoff
				o.schedulePoll(
					now.Add(o.retryDelay(reg.failures)),
					response.providerID,
					reg.provider,
				)

				continue
			}

			reg.failures = 0

			// Save the fetched rates
			for _, rate := range response.rates {
				saveCtx, cancelFn := context.WithTimeout(ctx, time.Second*10)

				if err := o.storage.SaveExchangeRate(saveCtx, rate); err != nil {
					o.logger.Error(
						"unable to save exchange rate",
						"base", rate.Base,
						"target", rate.Target,
						"source", rate.Source,
						"err", err,
					)

					cancelFn()

					continue
				}

				o.logger.Info(
					"saved exchange rate",
					"base", rate.Base,
					"target", rate.Target,
					"source", rate.Source,
					"rate", rate.Rate,
					"rate_type", rate.RateType,
					"effective_date", rate.AsOf.String(),
				)

				cancelFn()
			}

			// Schedule the next regular poll for this source
			o.schedulePoll(
				now.Add(reg.provider.Interval()),
				response.providerID,
				reg.provider,
			)
		}
	}
}

// retryDelay computes the backoff delay after the given number
// of consecutive failures, capped at retryMax
func (o *Orchestrator) retryDelay(failures int) time.Duration {
	delay := o.retryBase

	for i := 1; i < failures; i++ {
		delay *= 2

		if delay >= o.retryMax {
			return o.retryMax
		}
	}

	if delay > o.retryMax {
		return o.retryMax
	}

	return delay
}

// schedulePoll queues up a future source poll
func (o *Orchestrator) schedulePoll(
	at time.Time,
	providerID xid.ID,
	provider Provider,
) {
	o.qMux.Lock()
	defer o.qMux.Unlock()

	futureSP := scheduledPoll{
		at:         at,
		providerID: providerID,
		provider:   provider,
	}

	o.q.Push(futureSP)
}

// nextPoll fetches the next due poll, as of the moment of calling
func (o *Orchestrator) nextPoll() *scheduledPoll {
	o.qMux.Lock()
	defer o.qMux.Unlock()

	now := time.Now().UTC()

	// Check if anything is queued at all
	if o.q.Len() == 0 {
		return nil // all polls are in flight
	}

	// Check if the top element is due
	if o.q.Index(0).at.After(now) {
		return nil // earliest poll is in the future
	}

	// Grab the next poll
	nextSP := o.q.PopFront()

	return nextSP
}
