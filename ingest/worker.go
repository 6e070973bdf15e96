package ingest

import (
	"context"
	"time"

	"github.com/rs/xid"

	"github.com/fintra/fxengine/storage/types"
)

// scheduledPoll is a single queued source poll
type scheduledPoll struct {
	at         time.Time
	provider   Provider
	providerID xid.ID
}

// Less is utilized to sort scheduled polls by their due-time (earliest == first)
func (a scheduledPoll) Less(b scheduledPoll) bool {
	return a.at.Before(b.at)
}

// workerInfo is the work context for the poll routine
type workerInfo struct {
	provider   Provider
	resCh      chan<- *workerResponse
	providerID xid.ID
}

// workerResponse is the poll routine response
type workerResponse struct {
	error      error                 // encountered error, if any
	rates      []*types.ExchangeRate // the fetched exchange rates
	providerID xid.ID                // the source ID
}

// runPoll fetches rates from the source
func runPoll(
	ctx context.Context,
	info *workerInfo,
) {
	rates, err := info.provider.Fetch(ctx)

	response := &workerResponse{
		error:      err,
		rates:      rates,
		providerID: info.providerID,
	}

	select {
	case <-ctx.Done():
	case info.resCh <- response:
	}
}
