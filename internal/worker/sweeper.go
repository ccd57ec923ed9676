package worker

import (
	"context"
	"time"

	"herald/pkg/logging"
)

// ClaimStore is the slice of the post store the sweeper needs.
type ClaimStore interface {
	ReleaseExpiredClaims(ctx context.Context, lease time.Duration) (int64, error)
}

// ClaimSweeper frees claims whose lease ran out, so posts claimed by a
// crashed process return to the unpublished pool without operator action.
type ClaimSweeper struct {
	store    ClaimStore
	logger   logging.Logger
	lease    time.Duration
	interval time.Duration
}

// NewClaimSweeper creates a sweeper that checks at half the lease duration,
// keeping worst-case recovery under 1.5 leases.
func NewClaimSweeper(s ClaimStore, l logging.Logger, lease time.Duration) *ClaimSweeper {
	interval := lease / 2
	if interval < time.Second {
		interval = time.Second
	}
	return &ClaimSweeper{
		store:    s,
		logger:   l,
		lease:    lease,
		interval: interval,
	}
}

// Start starts the sweep loop and blocks until the context is canceled.
func (w *ClaimSweeper) Start(ctx context.Context) {
	w.logger.WithField("lease", w.lease.String()).Info("Starting claim sweeper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping claim sweeper")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ClaimSweeper) sweep(ctx context.Context) {
	freed, err := w.store.ReleaseExpiredClaims(ctx, w.lease)
	if err != nil {
		w.logger.WithError(err).Error("Failed to release expired claims")
		return
	}
	if freed > 0 {
		w.logger.WithField("count", freed).Warn("Released abandoned claims")
	}
}
