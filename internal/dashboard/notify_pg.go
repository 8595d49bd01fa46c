package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PGNotifier delivers call row changes over Postgres LISTEN/NOTIFY. One
// dedicated connection per org channel; the calls-table trigger publishes
// {event_type, new, old} JSON on "calls_changed_<org_id>" (see migrations/).
//
// NOTIFY payloads are capped at ~8000 bytes by Postgres. Call rows stay well
// under that; if metadata ever grows past it the trigger sends ids only and
// the watchdog-driven reconcile picks up the slack.
type PGNotifier struct {
	dsn   string
	orgID string

	events chan ChangeEvent
	states chan ChannelState

	log *slog.Logger
}

func NewPGNotifier(dsn, orgID string, log *slog.Logger) *PGNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &PGNotifier{
		dsn:    dsn,
		orgID:  orgID,
		events: make(chan ChangeEvent, 64),
		states: make(chan ChannelState, 8),
		log:    log,
	}
}

func (n *PGNotifier) Events() <-chan ChangeEvent  { return n.events }
func (n *PGNotifier) States() <-chan ChannelState { return n.states }

func (n *PGNotifier) channelName() string {
	return "calls_changed_" + n.orgID
}

// Run owns the connection lifecycle: connect, LISTEN, pump notifications,
// and reconnect with exponential backoff on any failure. Blocks until the
// context ends, then closes both output channels.
func (n *PGNotifier) Run(ctx context.Context) {
	defer close(n.events)
	defer close(n.states)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry forever; the watchdog covers the gap

	for {
		if ctx.Err() != nil {
			return
		}
		n.setState(ctx, ChannelConnecting)

		err := n.listenOnce(ctx, bo)
		if ctx.Err() != nil {
			return
		}
		n.setState(ctx, ChannelError)

		wait := bo.NextBackOff()
		n.log.Warn("notify connection lost, reconnecting",
			"org_id", n.orgID, "retry_in", wait, "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// listenOnce runs one connection to failure. The backoff resets on the first
// delivered notification rather than on subscription, so a link that
// subscribes and immediately dies keeps backing off.
func (n *PGNotifier) listenOnce(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	conn, err := pgx.Connect(ctx, n.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{n.channelName()}.Sanitize()); err != nil {
		return err
	}
	n.setState(ctx, ChannelSubscribed)

	return n.pump(ctx, conn, bo.Reset)
}

// notificationWaiter is the slice of *pgx.Conn the pump needs; tests feed
// notifications through a fake.
type notificationWaiter interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
}

func (n *PGNotifier) pump(ctx context.Context, conn notificationWaiter, reset func()) error {
	delivered := false
	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if !delivered {
			reset()
			delivered = true
		}

		var ev ChangeEvent
		if err := json.Unmarshal([]byte(notification.Payload), &ev); err != nil {
			// A malformed payload is a bug in the trigger, not a reason to
			// drop the connection.
			n.log.Error("bad notify payload", "org_id", n.orgID, "err", err)
			continue
		}

		select {
		case n.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Consumer is wedged; drop and let reconciliation repair the
			// board rather than block the connection.
			n.log.Warn("notify event dropped, consumer backlogged", "org_id", n.orgID)
		}
	}
}

func (n *PGNotifier) setState(ctx context.Context, s ChannelState) {
	select {
	case n.states <- s:
	case <-ctx.Done():
	default:
	}
}
