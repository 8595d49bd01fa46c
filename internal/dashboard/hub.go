package dashboard

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Options carries the loop cadences for one org's board.
type Options struct {
	PollInterval   time.Duration
	StaleThreshold time.Duration
	TickInterval   time.Duration
}

// Hub lazily materializes one board per org and owns its background loops:
// realtime notifier, listener, fallback poller, staleness watchdog, and the
// duration ticker. Boards live until the hub's context ends.
type Hub struct {
	mu     sync.Mutex
	boards map[string]*boardRuntime

	source          Source
	notifierFactory func(orgID string) Notifier
	opts            Options
	log             *slog.Logger

	ctx context.Context
}

type boardRuntime struct {
	board  *Board
	poller *Poller
}

func NewHub(ctx context.Context, source Source, notifierFactory func(orgID string) Notifier, opts Options, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = 30 * time.Second
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	return &Hub{
		boards:          map[string]*boardRuntime{},
		source:          source,
		notifierFactory: notifierFactory,
		opts:            opts,
		log:             log,
		ctx:             ctx,
	}
}

// Board returns the org's board, starting its loops on first use. The first
// call performs a synchronous reconcile so readers never see an empty board
// for an org with live calls.
func (h *Hub) Board(ctx context.Context, orgID string) (*Board, error) {
	h.mu.Lock()
	rt, ok := h.boards[orgID]
	if ok {
		h.mu.Unlock()
		return rt.board, nil
	}

	board := NewBoard(orgID)
	poller := NewPoller(h.source, board, h.log)
	rt = &boardRuntime{board: board, poller: poller}
	h.boards[orgID] = rt
	h.mu.Unlock()

	if err := poller.Reconcile(ctx); err != nil {
		h.log.Warn("initial board load failed", "org_id", orgID, "err", err)
	}

	go poller.Run(h.ctx, h.opts.PollInterval)
	go RunTicker(h.ctx, board, h.opts.TickInterval)

	watchdog := NewWatchdog(board, h.opts.StaleThreshold, poller.Reconcile, h.log)
	go watchdog.Run(h.ctx, h.opts.StaleThreshold/2)

	if h.notifierFactory != nil {
		notifier := h.notifierFactory(orgID)
		if runner, ok := notifier.(interface{ Run(context.Context) }); ok {
			go runner.Run(h.ctx)
		}
		listener := NewListener(notifier, board, h.log)
		go listener.Run(h.ctx)
	}

	return board, nil
}

// Reconcile forces a full reload for one org (manual refresh endpoint).
func (h *Hub) Reconcile(ctx context.Context, orgID string) error {
	if _, err := h.Board(ctx, orgID); err != nil {
		return err
	}
	h.mu.Lock()
	rt := h.boards[orgID]
	h.mu.Unlock()
	return rt.poller.Reconcile(ctx)
}
