package dashboard

import (
	"context"
	"log/slog"
	"time"

	"callhelm/internal/calls"
)

// Source is the read surface the poller needs. Satisfied by the calls
// Postgres store/directory pair and by the memory store in tests.
type Source interface {
	ListOpen(ctx context.Context, orgID string) ([]calls.Call, error)
	ListStartedSince(ctx context.Context, orgID string, since time.Time) ([]calls.Call, error)
	ListActiveMembers(ctx context.Context, orgID string) ([]calls.Member, error)
	GetContact(ctx context.Context, orgID, contactID string) (calls.Contact, bool, error)
}

// Poller is the reconciliation fallback: a full read-only reload of the board
// from the database, applied wholesale. It runs on an interval and on demand
// when the staleness watchdog fires. Reloading twice in a row must yield the
// same board.
type Poller struct {
	source Source
	board  *Board
	log    *slog.Logger
	now    func() time.Time
}

func NewPoller(source Source, board *Board, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{source: source, board: board, log: log, now: time.Now}
}

// WithClock makes day-boundary math deterministic in tests.
func (p *Poller) WithClock(now func() time.Time) *Poller {
	p.now = now
	return p
}

// Reconcile rebuilds the snapshot and applies it. Safe to call concurrently
// with the realtime listener; the reducer serializes them.
func (p *Poller) Reconcile(ctx context.Context) error {
	snap, err := p.BuildSnapshot(ctx)
	if err != nil {
		return err
	}
	p.board.Apply(SnapshotReplaced{Snapshot: snap})
	return nil
}

// BuildSnapshot reads everything the board shows: open calls, today's calls
// for the rollup, and the active roster. Read-only; no writes anywhere.
func (p *Poller) BuildSnapshot(ctx context.Context) (Snapshot, error) {
	orgID := p.board.OrgID()
	now := p.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	open, err := p.source.ListOpen(ctx, orgID)
	if err != nil {
		return Snapshot{}, err
	}
	today, err := p.source.ListStartedSince(ctx, orgID, dayStart)
	if err != nil {
		return Snapshot{}, err
	}
	members, err := p.source.ListActiveMembers(ctx, orgID)
	if err != nil {
		return Snapshot{}, err
	}

	stats := ComputeStats(today)

	memberNames := make(map[string]string, len(members))
	for _, m := range members {
		memberNames[m.ID] = m.DisplayName
	}

	// Per-agent rollup over today's ended calls; active ownership comes from
	// the open set below.
	agents := make(map[string]*AgentStatus, len(members))
	for _, m := range members {
		agents[m.ID] = &AgentStatus{
			MemberID:     m.ID,
			DisplayName:  m.DisplayName,
			Availability: AvailabilityAvailable,
		}
	}
	for _, c := range today {
		if c.MemberID == "" || c.EndedAt == nil {
			continue
		}
		ag, ok := agents[c.MemberID]
		if !ok {
			ag = &AgentStatus{MemberID: c.MemberID, Availability: AvailabilityOffline}
			agents[c.MemberID] = ag
		}
		dur := c.DurationSeconds
		if dur == 0 {
			dur = int(c.EndedAt.Sub(c.StartedAt).Seconds())
		}
		ag.AvgDurationSeconds = (ag.AvgDurationSeconds*float64(ag.CallsHandled) + float64(dur)) / float64(ag.CallsHandled+1)
		ag.CallsHandled++
		if c.EndedAt.After(ag.LastActivityAt) {
			ag.LastActivityAt = *c.EndedAt
		}
	}

	active := make([]ActiveCall, 0, len(open))
	for _, c := range open {
		ac := ActiveCall{
			ID:         c.ID,
			MemberID:   c.MemberID,
			ContactID:  c.ContactID,
			FromNumber: c.FromNumber,
			ToNumber:   c.ToNumber,
			Direction:  c.Direction,
			Status:     c.Status,
			StartedAt:  c.StartedAt,
			AgentName:  memberNames[c.MemberID],
		}
		if d := int(now.Sub(c.StartedAt).Seconds()); d > 0 {
			ac.DurationSeconds = d
		}
		if c.ContactID != "" {
			if contact, ok, err := p.source.GetContact(ctx, orgID, c.ContactID); err == nil && ok {
				ac.ContactName = contact.DisplayName
			}
		}
		active = append(active, ac)

		if c.MemberID != "" {
			ag, ok := agents[c.MemberID]
			if !ok {
				ag = &AgentStatus{MemberID: c.MemberID}
				agents[c.MemberID] = ag
			}
			ag.Availability = AvailabilityBusy
			ag.ActiveCallID = c.ID
			if c.StartedAt.After(ag.LastActivityAt) {
				ag.LastActivityAt = c.StartedAt
			}
		}
	}

	snap := Snapshot{
		OrgID:       orgID,
		ActiveCalls: active,
		Stats:       stats,
		GeneratedAt: now,
	}
	for _, ag := range agents {
		snap.Agents = append(snap.Agents, *ag)
	}
	return snap, nil
}

// Run reconciles on an interval until the context ends. Errors are logged and
// retried on the next tick; the previous board state keeps serving reads.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Reconcile(ctx); err != nil {
				p.log.Warn("board reconcile failed", "org_id", p.board.OrgID(), "err", err)
			}
		}
	}
}
