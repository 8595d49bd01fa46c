package dashboard

import (
	"context"
	"log/slog"
	"time"
)

// Watchdog detects a silently dead realtime feed and triggers reconciliation.
// Two conditions count as stale: no event delivered within the threshold, or
// the channel not being in the SUBSCRIBED state. Transport-agnostic; it only
// reads board health and calls back.
type Watchdog struct {
	board     *Board
	threshold time.Duration
	reconcile func(ctx context.Context) error

	log *slog.Logger
	now func() time.Time
}

func NewWatchdog(board *Board, threshold time.Duration, reconcile func(ctx context.Context) error, log *slog.Logger) *Watchdog {
	if log == nil {
		log = slog.Default()
	}
	return &Watchdog{
		board:     board,
		threshold: threshold,
		reconcile: reconcile,
		log:       log,
		now:       time.Now,
	}
}

func (w *Watchdog) WithClock(now func() time.Time) *Watchdog {
	w.now = now
	return w
}

// Stale reports whether the feed should be distrusted right now.
func (w *Watchdog) Stale() bool {
	h := w.board.ChannelHealth()
	if h.State != ChannelSubscribed {
		return true
	}
	if h.LastEventAt.IsZero() {
		// Subscribed but nothing delivered yet; give the feed a full
		// threshold from now rather than flagging immediately.
		return false
	}
	return w.now().Sub(h.LastEventAt) > w.threshold
}

// Check runs one staleness evaluation; fires the reconcile callback when
// stale. Reconcile failures are logged and retried on the next check.
func (w *Watchdog) Check(ctx context.Context) {
	if !w.Stale() {
		return
	}
	h := w.board.ChannelHealth()
	w.log.Warn("realtime feed stale, reconciling",
		"org_id", w.board.OrgID(), "state", string(h.State), "last_event_at", h.LastEventAt)
	if err := w.reconcile(ctx); err != nil {
		w.log.Error("stale reconcile failed", "org_id", w.board.OrgID(), "err", err)
	}
}

// Run evaluates on an interval until the context ends.
func (w *Watchdog) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// RunTicker drives the board's displayed-duration recompute. Kept here with
// the other background loops.
func RunTicker(ctx context.Context, board *Board, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			board.Tick(now.UTC())
		}
	}
}
