package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// History is the best-effort view of a SnapshotStore used by the bot: store
// failures are logged and never propagate to callers.
type History struct {
	store  SnapshotStore
	loc    *time.Location
	now    func() time.Time
	logger zerolog.Logger
}

// NewHistory wraps store. Snapshot days are computed in loc.
func NewHistory(store SnapshotStore, loc *time.Location, logger zerolog.Logger) *History {
	if loc == nil {
		loc = time.UTC
	}
	return &History{
		store:  store,
		loc:    loc,
		now:    time.Now,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

// SaveSnapshot records today's totals rounded to 2 decimals. A second save on
// the same day overwrites the first.
func (h *History) SaveSnapshot(ctx context.Context, usd, rub decimal.Decimal) {
	if h == nil || h.store == nil {
		return
	}
	snap := Snapshot{
		Date: h.now().In(h.loc),
		USD:  usd.Round(2),
		RUB:  rub.Round(2),
	}
	if err := h.store.SaveSnapshot(ctx, snap); err != nil {
		h.logger.Error().Err(err).Str("day", snap.Key()).Msg("failed to save snapshot")
		return
	}
	h.logger.Debug().
		Str("day", snap.Key()).
		Str("usd", snap.USD.StringFixed(2)).
		Str("rub", snap.RUB.StringFixed(2)).
		Msg("snapshot saved")
}

// Recent returns up to n snapshots, newest first. It returns an empty slice
// when the store is unavailable.
func (h *History) Recent(ctx context.Context, n int) []Snapshot {
	if h == nil || h.store == nil || n <= 0 {
		return []Snapshot{}
	}
	snaps, err := h.store.ListRecentSnapshots(ctx, n)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load history")
		return []Snapshot{}
	}
	if len(snaps) > n {
		snaps = snaps[:n]
	}
	return snaps
}
