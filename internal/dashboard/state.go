package dashboard

import (
	"sort"
	"sync"
	"time"

	"callhelm/internal/calls"
)

// ActiveCall is the board's display projection of an open call.
type ActiveCall struct {
	ID         string              `json:"id"`
	MemberID   string              `json:"member_id,omitempty"`
	ContactID  string              `json:"contact_id,omitempty"`
	FromNumber string              `json:"from_number"`
	ToNumber   string              `json:"to_number"`
	Direction  calls.CallDirection `json:"direction"`
	Status     calls.CallStatus    `json:"status"`
	StartedAt  time.Time           `json:"started_at"`

	// Denormalized display names; empty when the roster/contact cache has no
	// entry yet (filled on the next snapshot).
	ContactName string `json:"contact_name,omitempty"`
	AgentName   string `json:"agent_name,omitempty"`

	// DurationSeconds is the displayed running duration, recomputed from the
	// wall clock by the board ticker rather than trusted from the row.
	DurationSeconds int `json:"duration_seconds"`
}

type Availability string

const (
	AvailabilityAvailable Availability = "available"
	AvailabilityBusy      Availability = "busy"
	AvailabilityAfterCall Availability = "after_call"
	AvailabilityOffline   Availability = "offline"
)

// AgentStatus is the per-member rollup.
type AgentStatus struct {
	MemberID     string       `json:"member_id"`
	DisplayName  string       `json:"display_name"`
	Availability Availability `json:"availability"`

	ActiveCallID string `json:"active_call_id,omitempty"`

	CallsHandled int `json:"calls_handled"`
	// AvgDurationSeconds is a running mean over handled calls, updated
	// incrementally as calls end.
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`

	LastActivityAt time.Time `json:"last_activity_at"`
}

// CallStats is the today rollup.
type CallStats struct {
	TotalToday int `json:"total_today"`
	Active     int `json:"active"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`

	TotalDurationSeconds int     `json:"total_duration_seconds"`
	AvgDurationSeconds   float64 `json:"avg_duration_seconds"`

	// SuccessRate is completed / (completed + failed), zero when no call has
	// finished yet.
	SuccessRate float64 `json:"success_rate"`
}

// Snapshot is a full, self-consistent board image. Produced by the poller and
// by Board.Snapshot(); always deep-copied, callers may mutate freely.
type Snapshot struct {
	OrgID       string        `json:"org_id"`
	ActiveCalls []ActiveCall  `json:"active_calls"`
	Agents      []AgentStatus `json:"agents"`
	Stats       CallStats     `json:"stats"`
	Channel     ChannelHealth `json:"channel"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// Board is the mutable reconciliation state for one org. A single mutex
// guards it; the realtime listener, the poller, the ticker, and HTTP readers
// all contend on it, so every method takes the lock and does bounded work.
type Board struct {
	mu sync.Mutex

	orgID string

	active map[string]ActiveCall   // call id -> projection
	agents map[string]*AgentStatus // member id -> rollup
	stats  CallStats

	// endedCount backs the incremental running mean in stats.
	endedCount int

	contactNames map[string]string // contact id -> display name cache
	channel      ChannelHealth

	now func() time.Time
}

type BoardOption func(*Board)

func BoardWithClock(now func() time.Time) BoardOption {
	return func(b *Board) { b.now = now }
}

func NewBoard(orgID string, opts ...BoardOption) *Board {
	b := &Board{
		orgID:        orgID,
		active:       map[string]ActiveCall{},
		agents:       map[string]*AgentStatus{},
		contactNames: map[string]string{},
		channel:      ChannelHealth{State: ChannelConnecting},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Board) OrgID() string { return b.orgID }

// Apply is the single reducer. All board mutations flow through here so the
// invariants (one entry per call id, stats consistent with the active set)
// hold no matter which producer fired.
func (b *Board) Apply(ev BoardEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch e := ev.(type) {
	case NewCall:
		b.applyNew(e.Call)
	case CallUpdated:
		b.applyUpdate(e.Call)
	case CallEnded:
		b.applyEnded(e.Call)
	case SnapshotReplaced:
		b.applySnapshot(e.Snapshot)
	}
}

func (b *Board) applyNew(c calls.Call) {
	if _, dup := b.active[c.ID]; dup {
		// Duplicate INSERT delivery (replays after reconnect). Patch in place
		// rather than double-count.
		b.patch(c)
		return
	}
	b.active[c.ID] = b.project(c)
	b.stats.Active = len(b.active)
	b.stats.TotalToday++
	b.touchAgent(c, AvailabilityBusy, c.ID)
}

func (b *Board) applyUpdate(c calls.Call) {
	if _, ok := b.active[c.ID]; !ok {
		// Missed the insert (subscription gap); self-heal by admitting the
		// row without bumping the today counter twice is impossible to know,
		// so count it and let the next reconcile settle the totals.
		b.active[c.ID] = b.project(c)
		b.stats.Active = len(b.active)
		b.stats.TotalToday++
		b.touchAgent(c, AvailabilityBusy, c.ID)
		return
	}
	b.patch(c)
	b.touchAgent(c, AvailabilityBusy, c.ID)
}

func (b *Board) applyEnded(c calls.Call) {
	if _, ok := b.active[c.ID]; ok {
		delete(b.active, c.ID)
	}
	b.stats.Active = len(b.active)

	dur := c.DurationSeconds
	if dur == 0 && c.EndedAt != nil {
		dur = int(c.EndedAt.Sub(c.StartedAt).Seconds())
	}
	if isFailedOutcome(c.Status) {
		b.stats.Failed++
	} else {
		b.stats.Completed++
	}
	b.stats.TotalDurationSeconds += dur
	// Weighted running mean; seeds at the first ended call.
	b.stats.AvgDurationSeconds = (b.stats.AvgDurationSeconds*float64(b.endedCount) + float64(dur)) / float64(b.endedCount+1)
	b.endedCount++
	if finished := b.stats.Completed + b.stats.Failed; finished > 0 {
		b.stats.SuccessRate = float64(b.stats.Completed) / float64(finished)
	}

	if c.MemberID != "" {
		ag := b.agent(c.MemberID)
		ag.AvgDurationSeconds = (ag.AvgDurationSeconds*float64(ag.CallsHandled) + float64(dur)) / float64(ag.CallsHandled+1)
		ag.CallsHandled++
		if ag.ActiveCallID == c.ID {
			ag.ActiveCallID = ""
		}
		ag.Availability = AvailabilityAfterCall
		ag.LastActivityAt = b.now().UTC()
	}
}

func (b *Board) applySnapshot(s Snapshot) {
	b.active = make(map[string]ActiveCall, len(s.ActiveCalls))
	for _, ac := range s.ActiveCalls {
		b.active[ac.ID] = ac
		if ac.ContactID != "" && ac.ContactName != "" {
			b.contactNames[ac.ContactID] = ac.ContactName
		}
	}
	b.agents = make(map[string]*AgentStatus, len(s.Agents))
	for i := range s.Agents {
		ag := s.Agents[i]
		b.agents[ag.MemberID] = &ag
	}
	b.stats = s.Stats
	b.endedCount = s.Stats.Completed + s.Stats.Failed
	b.stats.Active = len(b.active)
}

// Tick recomputes displayed durations from the wall clock. Driven by a 1s
// ticker; cheap enough to run under the lock.
func (b *Board) Tick(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ac := range b.active {
		d := int(now.Sub(ac.StartedAt).Seconds())
		if d < 0 {
			d = 0
		}
		ac.DurationSeconds = d
		b.active[id] = ac
	}
}

// SetChannelState transitions the realtime health state.
func (b *Board) SetChannelState(s ChannelState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channel.State = s
}

// MarkEvent records a delivered realtime event for staleness tracking.
func (b *Board) MarkEvent(at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channel.LastEventAt = at
}

func (b *Board) ChannelHealth() ChannelHealth {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channel
}

// Snapshot returns a deep copy of the board; callers may mutate the result.
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := Snapshot{
		OrgID:       b.orgID,
		ActiveCalls: make([]ActiveCall, 0, len(b.active)),
		Agents:      make([]AgentStatus, 0, len(b.agents)),
		Stats:       b.stats,
		Channel:     b.channel,
		GeneratedAt: b.now().UTC(),
	}
	for _, ac := range b.active {
		out.ActiveCalls = append(out.ActiveCalls, ac)
	}
	sort.Slice(out.ActiveCalls, func(i, j int) bool {
		return out.ActiveCalls[i].StartedAt.Before(out.ActiveCalls[j].StartedAt)
	})
	for _, ag := range b.agents {
		out.Agents = append(out.Agents, *ag)
	}
	sort.Slice(out.Agents, func(i, j int) bool {
		return out.Agents[i].DisplayName < out.Agents[j].DisplayName
	})
	return out
}

// Stats returns the current rollup.
func (b *Board) Stats() CallStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

/* ===================== internals (lock held) ===================== */

func (b *Board) project(c calls.Call) ActiveCall {
	ac := ActiveCall{
		ID:         c.ID,
		MemberID:   c.MemberID,
		ContactID:  c.ContactID,
		FromNumber: c.FromNumber,
		ToNumber:   c.ToNumber,
		Direction:  c.Direction,
		Status:     c.Status,
		StartedAt:  c.StartedAt,
	}
	if c.ContactID != "" {
		ac.ContactName = b.contactNames[c.ContactID]
	}
	if c.MemberID != "" {
		if ag, ok := b.agents[c.MemberID]; ok {
			ac.AgentName = ag.DisplayName
		}
	}
	d := int(b.now().UTC().Sub(c.StartedAt).Seconds())
	if d < 0 {
		d = 0
	}
	ac.DurationSeconds = d
	return ac
}

func (b *Board) patch(c calls.Call) {
	ac := b.active[c.ID]
	next := b.project(c)
	// Preserve resolved names a prior projection already had.
	if next.ContactName == "" {
		next.ContactName = ac.ContactName
	}
	if next.AgentName == "" {
		next.AgentName = ac.AgentName
	}
	b.active[c.ID] = next
}

func (b *Board) agent(memberID string) *AgentStatus {
	ag, ok := b.agents[memberID]
	if !ok {
		ag = &AgentStatus{MemberID: memberID, Availability: AvailabilityOffline}
		b.agents[memberID] = ag
	}
	return ag
}

func (b *Board) touchAgent(c calls.Call, avail Availability, activeCallID string) {
	if c.MemberID == "" {
		return
	}
	ag := b.agent(c.MemberID)
	ag.Availability = avail
	ag.ActiveCallID = activeCallID
	ag.LastActivityAt = b.now().UTC()
}
