package fetcher

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Refresher re-runs the fetcher on an interval so the config store
// tracks the server. Failed attempts retry on a shorter jittered
// backoff; a stale snapshot keeps serving in the meantime.
type Refresher struct {
	fetcher  *Fetcher
	interval time.Duration
	backoff  time.Duration
	logger   *zap.Logger
}

// NewRefresher constructs a refresher around the given fetcher.
func NewRefresher(fetcher *Fetcher, interval, backoff time.Duration, logger *zap.Logger) *Refresher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if backoff <= 0 {
		backoff = 15 * time.Second
	}
	return &Refresher{
		fetcher:  fetcher,
		interval: interval,
		backoff:  backoff,
		logger:   logger,
	}
}

// Run fetches immediately, then loops until the context is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	err := r.fetcher.FetchOnce(ctx)

	for {
		next := r.interval
		if err != nil {
			// Jitter the retry so restarting fleets don't align.
			next = r.backoff + time.Duration(rand.Int63n(int64(r.backoff)/2+1))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(next):
		}

		err = r.fetcher.FetchOnce(ctx)
	}
}
