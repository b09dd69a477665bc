// Package worker runs the periodic group refresh: a polling loop that
// re-reads the group collection from the backend so the local mirror stays
// warm and picks up writes made by other instances.
package worker

import (
	"context"
	"log/slog"
	"time"

	"expensecf/internal/core"
)

// Refresher is the slice of the storage adapter the poller needs.
type Refresher interface {
	RefreshGroups(ctx context.Context) ([]core.Group, error)
}

type Poller struct {
	store    Refresher
	interval time.Duration
	logger   *slog.Logger
}

func NewPoller(store Refresher, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		store:    store,
		interval: interval,
		logger:   logger.With("component", "worker"),
	}
}

// Run refreshes the mirror on every tick until ctx is cancelled. Refresh
// failures are logged and the loop keeps going; the mirror just stays stale
// until the backend recovers.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Group refresh worker started", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "Group refresh worker stopped")
			return ctx.Err()
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	groups, err := p.store.RefreshGroups(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "Group refresh failed", "error", err)
		return
	}
	p.logger.DebugContext(ctx, "Groups refreshed", "count", len(groups))
}
