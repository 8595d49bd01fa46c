package dashboard

import (
	"time"

	"callhelm/internal/calls"
)

// ChangeEvent is a raw row-change notification from the transport (Postgres
// LISTEN/NOTIFY in production, a channel fake in tests). New/Old mirror the
// trigger's row images; either may be nil depending on Type.
type ChangeEvent struct {
	Type ChangeType  `json:"event_type"`
	New  *calls.Call `json:"new,omitempty"`
	Old  *calls.Call `json:"old,omitempty"`
}

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// BoardEvent is the interpreted event the board reducer consumes. Exactly one
// of the variants below.
type BoardEvent interface{ isBoardEvent() }

// NewCall is a freshly opened call entering the board.
type NewCall struct{ Call calls.Call }

// CallUpdated patches an active call in place.
type CallUpdated struct{ Call calls.Call }

// CallEnded removes a call from the active set and folds it into the stats.
type CallEnded struct{ Call calls.Call }

// SnapshotReplaced swaps the whole board state wholesale (reconciliation).
type SnapshotReplaced struct{ Snapshot Snapshot }

func (NewCall) isBoardEvent()          {}
func (CallUpdated) isBoardEvent()      {}
func (CallEnded) isBoardEvent()        {}
func (SnapshotReplaced) isBoardEvent() {}

// Classify interprets a raw row change. Returns false for changes the board
// does not care about.
//
// Rules:
//   - INSERT of an open row is a new call; an insert that arrives already
//     ended (backfill, replays) is ignored.
//   - UPDATE that closes the row (ended_at nil -> non-nil) ends the call.
//     An update to a row that was already closed is ignored.
//   - UPDATE of a still-open row is an in-place patch.
//   - DELETE of an open row ends the call defensively; hard deletes should
//     not happen in normal operation but must not strand a board entry.
//     Deleting a row that already ended is ignored, the closing UPDATE
//     already accounted for it.
func Classify(ev ChangeEvent) (BoardEvent, bool) {
	switch ev.Type {
	case ChangeInsert:
		if ev.New == nil {
			return nil, false
		}
		if ev.New.EndedAt != nil {
			return nil, false
		}
		return NewCall{Call: *ev.New}, true

	case ChangeUpdate:
		if ev.New == nil {
			return nil, false
		}
		if ev.New.EndedAt != nil {
			if ev.Old != nil && ev.Old.EndedAt != nil {
				// Post-close touch-up (metadata backfill); the entry is
				// already off the board.
				return nil, false
			}
			return CallEnded{Call: *ev.New}, true
		}
		return CallUpdated{Call: *ev.New}, true

	case ChangeDelete:
		if ev.Old == nil {
			return nil, false
		}
		if ev.Old.EndedAt != nil {
			// The row already ended and was folded into the stats by the
			// closing UPDATE; purging it must not count it twice.
			return nil, false
		}
		return CallEnded{Call: *ev.Old}, true

	default:
		return nil, false
	}
}

// ChannelState tracks the realtime subscription lifecycle.
type ChannelState string

const (
	ChannelConnecting ChannelState = "CONNECTING"
	ChannelSubscribed ChannelState = "SUBSCRIBED"
	ChannelError      ChannelState = "CHANNEL_ERROR"
	ChannelTimedOut   ChannelState = "TIMED_OUT"
	ChannelClosed     ChannelState = "CLOSED"
)

// ChannelHealth is the board-visible view of the realtime link, used by the
// staleness watchdog and surfaced on the board endpoint.
type ChannelHealth struct {
	State       ChannelState `json:"state"`
	LastEventAt time.Time    `json:"last_event_at"`
}
