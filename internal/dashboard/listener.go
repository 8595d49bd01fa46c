package dashboard

import (
	"context"
	"log/slog"
	"time"
)

// Notifier is the realtime transport: it delivers row changes for one org and
// reports its own connection transitions. The Postgres LISTEN/NOTIFY
// implementation lives in notify_pg.go; tests drive a plain channel.
type Notifier interface {
	// Events yields row changes until the context ends. The transport owns
	// reconnection; consumers just read.
	Events() <-chan ChangeEvent
	// States yields connection state transitions.
	States() <-chan ChannelState
}

// Listener consumes the realtime feed and folds it into the board. It only
// interprets events; reconnecting is the transport's job and staleness
// detection is the watchdog's.
type Listener struct {
	notifier Notifier
	board    *Board
	log      *slog.Logger
	now      func() time.Time
}

func NewListener(notifier Notifier, board *Board, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{notifier: notifier, board: board, log: log, now: time.Now}
}

func (l *Listener) WithClock(now func() time.Time) *Listener {
	l.now = now
	return l
}

// Run pumps events until the context ends. Every delivered event bumps
// LastEventAt whether or not it changes the board; liveness and relevance are
// separate questions.
func (l *Listener) Run(ctx context.Context) {
	events := l.notifier.Events()
	states := l.notifier.States()

	for {
		select {
		case <-ctx.Done():
			l.board.SetChannelState(ChannelClosed)
			return

		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			l.board.SetChannelState(st)
			if st == ChannelError || st == ChannelTimedOut {
				l.log.Warn("realtime channel degraded", "org_id", l.board.OrgID(), "state", string(st))
			}

		case ev, ok := <-events:
			if !ok {
				l.board.SetChannelState(ChannelClosed)
				return
			}
			l.board.MarkEvent(l.now().UTC())
			if be, relevant := Classify(ev); relevant {
				l.board.Apply(be)
			}
		}
	}
}
