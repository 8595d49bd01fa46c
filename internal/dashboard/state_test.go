package dashboard

import (
	"testing"
	"time"

	"callhelm/internal/calls"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func openCall(id, memberID string, startedAt time.Time) calls.Call {
	return calls.Call{
		ID:         id,
		OrgID:      "org-1",
		MemberID:   memberID,
		FromNumber: "+14150000000",
		ToNumber:   "+14155551234",
		Direction:  calls.DirectionOutbound,
		Status:     calls.CallStatusAnswered,
		StartedAt:  startedAt,
	}
}

func endedCall(id, memberID string, startedAt time.Time, dur int, status calls.CallStatus) calls.Call {
	c := openCall(id, memberID, startedAt)
	end := startedAt.Add(time.Duration(dur) * time.Second)
	c.Status = status
	c.EndedAt = &end
	c.DurationSeconds = dur
	return c
}

func TestClassify(t *testing.T) {
	base := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	open := openCall("c1", "m1", base)
	done := endedCall("c1", "m1", base, 30, calls.CallStatusCompleted)

	cases := []struct {
		name     string
		ev       ChangeEvent
		want     any
		relevant bool
	}{
		{"insert open is new call", ChangeEvent{Type: ChangeInsert, New: &open}, NewCall{}, true},
		{"insert already ended ignored", ChangeEvent{Type: ChangeInsert, New: &done}, nil, false},
		{"insert without row ignored", ChangeEvent{Type: ChangeInsert}, nil, false},
		{"update closing ends call", ChangeEvent{Type: ChangeUpdate, New: &done, Old: &open}, CallEnded{}, true},
		{"update still open patches", ChangeEvent{Type: ChangeUpdate, New: &open, Old: &open}, CallUpdated{}, true},
		{"update of closed row ignored", ChangeEvent{Type: ChangeUpdate, New: &done, Old: &done}, nil, false},
		{"delete of open row ends defensively", ChangeEvent{Type: ChangeDelete, Old: &open}, CallEnded{}, true},
		{"delete of ended row ignored", ChangeEvent{Type: ChangeDelete, Old: &done}, nil, false},
		{"delete without old ignored", ChangeEvent{Type: ChangeDelete}, nil, false},
		{"unknown type ignored", ChangeEvent{Type: "TRUNCATE", New: &open}, nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, relevant := Classify(tc.ev)
			if relevant != tc.relevant {
				t.Fatalf("relevant = %v, want %v", relevant, tc.relevant)
			}
			if !relevant {
				return
			}
			switch tc.want.(type) {
			case NewCall:
				if _, ok := got.(NewCall); !ok {
					t.Fatalf("got %T, want NewCall", got)
				}
			case CallUpdated:
				if _, ok := got.(CallUpdated); !ok {
					t.Fatalf("got %T, want CallUpdated", got)
				}
			case CallEnded:
				if _, ok := got.(CallEnded); !ok {
					t.Fatalf("got %T, want CallEnded", got)
				}
			}
		})
	}
}

// A row that ends and is later purged must be counted once: the closing
// UPDATE folds it into the stats, the trailing DELETE is a no-op.
func TestEndThenDeleteCountsOnce(t *testing.T) {
	base := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	b := NewBoard("org-1", BoardWithClock(fixedClock(base.Add(time.Minute))))

	open := openCall("c1", "m1", base)
	done := endedCall("c1", "m1", base, 30, calls.CallStatusCompleted)

	stream := []ChangeEvent{
		{Type: ChangeInsert, New: &open},
		{Type: ChangeUpdate, New: &done, Old: &open},
		{Type: ChangeDelete, Old: &done},
	}
	for _, ev := range stream {
		if be, ok := Classify(ev); ok {
			b.Apply(be)
		}
	}

	s := b.Stats()
	if s.Completed != 1 {
		t.Fatalf("completed = %d, want 1", s.Completed)
	}
	if s.TotalDurationSeconds != 30 {
		t.Fatalf("total duration = %d, want 30", s.TotalDurationSeconds)
	}
	if s.Active != 0 {
		t.Fatalf("active = %d, want 0", s.Active)
	}
}

func TestBoardDuplicateInsertKeepsOneEntry(t *testing.T) {
	base := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	b := NewBoard("org-1", BoardWithClock(fixedClock(base.Add(time.Minute))))

	c := openCall("c1", "m1", base)
	b.Apply(NewCall{Call: c})
	b.Apply(NewCall{Call: c}) // replayed delivery after reconnect

	snap := b.Snapshot()
	if len(snap.ActiveCalls) != 1 {
		t.Fatalf("active = %d, want 1", len(snap.ActiveCalls))
	}
	if snap.Stats.TotalToday != 1 {
		t.Fatalf("total today = %d, want 1 (duplicate must not double-count)", snap.Stats.TotalToday)
	}
	if snap.Stats.Active != 1 {
		t.Fatalf("active stat = %d, want 1", snap.Stats.Active)
	}
}

func TestBoardEndRemovesExactlyOne(t *testing.T) {
	base := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	b := NewBoard("org-1", BoardWithClock(fixedClock(base.Add(time.Minute))))

	b.Apply(NewCall{Call: openCall("c1", "m1", base)})
	b.Apply(NewCall{Call: openCall("c2", "m2", base.Add(time.Second))})

	b.Apply(CallEnded{Call: endedCall("c1", "m1", base, 40, calls.CallStatusCompleted)})

	snap := b.Snapshot()
	if len(snap.ActiveCalls) != 1 {
		t.Fatalf("active = %d, want 1", len(snap.ActiveCalls))
	}
	if snap.ActiveCalls[0].ID != "c2" {
		t.Fatalf("wrong call removed: remaining %s", snap.ActiveCalls[0].ID)
	}
	if snap.Stats.Completed != 1 || snap.Stats.Active != 1 {
		t.Fatalf("stats = %+v", snap.Stats)
	}

	// Ending the same call again must not decrement anything below zero or
	// touch the survivor.
	b.Apply(CallEnded{Call: endedCall("c1", "m1", base, 40, calls.CallStatusCompleted)})
	snap = b.Snapshot()
	if len(snap.ActiveCalls) != 1 || snap.Stats.Active != 1 {
		t.Fatalf("repeat end disturbed the board: %+v", snap.Stats)
	}
}

func TestBoardUpdateSelfHealsMissedInsert(t *testing.T) {
	base := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	b := NewBoard("org-1", BoardWithClock(fixedClock(base.Add(time.Minute))))

	// Update arrives for a call the board never saw (subscription gap).
	c := openCall("c1", "m1", base)
	c.Status = calls.CallStatusRinging
	b.Apply(CallUpdated{Call: c})

	snap := b.Snapshot()
	if len(snap.ActiveCalls) != 1 {
		t.Fatalf("active = %d, want 1 (self-heal)", len(snap.ActiveCalls))
	}
	if snap.ActiveCalls[0].Status != calls.CallStatusRinging {
		t.Fatalf("status = %q", snap.ActiveCalls[0].Status)
	}
}

func TestBoardAgentRollup(t *testing.T) {
	base := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	now := base.Add(time.Minute)
	b := NewBoard("org-1", BoardWithClock(fixedClock(now)))

	b.Apply(NewCall{Call: openCall("c1", "m1", base)})
	snap := b.Snapshot()
	if len(snap.Agents) != 1 {
		t.Fatalf("agents = %d, want 1", len(snap.Agents))
	}
	if snap.Agents[0].Availability != AvailabilityBusy || snap.Agents[0].ActiveCallID != "c1" {
		t.Fatalf("agent on call: %+v", snap.Agents[0])
	}

	b.Apply(CallEnded{Call: endedCall("c1", "m1", base, 60, calls.CallStatusCompleted)})
	snap = b.Snapshot()
	ag := snap.Agents[0]
	if ag.Availability != AvailabilityAfterCall {
		t.Fatalf("availability = %q, want after_call", ag.Availability)
	}
	if ag.ActiveCallID != "" {
		t.Fatalf("active call id not cleared: %q", ag.ActiveCallID)
	}
	if ag.CallsHandled != 1 || ag.AvgDurationSeconds != 60 {
		t.Fatalf("rollup = %+v", ag)
	}

	// Second call seeds the running mean correctly.
	b.Apply(NewCall{Call: openCall("c2", "m1", base.Add(2*time.Minute))})
	b.Apply(CallEnded{Call: endedCall("c2", "m1", base.Add(2*time.Minute), 30, calls.CallStatusCompleted)})
	ag = b.Snapshot().Agents[0]
	if ag.CallsHandled != 2 || ag.AvgDurationSeconds != 45 {
		t.Fatalf("running mean = %+v, want avg 45 over 2", ag)
	}
}

func TestBoardTickRecomputesDurations(t *testing.T) {
	base := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	b := NewBoard("org-1", BoardWithClock(fixedClock(base)))

	b.Apply(NewCall{Call: openCall("c1", "m1", base)})
	b.Tick(base.Add(42 * time.Second))

	snap := b.Snapshot()
	if snap.ActiveCalls[0].DurationSeconds != 42 {
		t.Fatalf("displayed duration = %d, want 42", snap.ActiveCalls[0].DurationSeconds)
	}
}

func TestBoardSnapshotIsDeepCopy(t *testing.T) {
	base := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	b := NewBoard("org-1", BoardWithClock(fixedClock(base)))
	b.Apply(NewCall{Call: openCall("c1", "m1", base)})

	snap := b.Snapshot()
	snap.ActiveCalls[0].Status = "mangled"
	snap.Agents[0].CallsHandled = 999

	fresh := b.Snapshot()
	if fresh.ActiveCalls[0].Status == "mangled" {
		t.Fatalf("snapshot shares active call memory with the board")
	}
	if fresh.Agents[0].CallsHandled == 999 {
		t.Fatalf("snapshot shares agent memory with the board")
	}
}

func TestBoardSuccessRateZeroGuard(t *testing.T) {
	b := NewBoard("org-1")
	if s := b.Stats(); s.SuccessRate != 0 || s.AvgDurationSeconds != 0 {
		t.Fatalf("empty board stats = %+v", s)
	}

	base := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	b.Apply(NewCall{Call: openCall("c1", "m1", base)})
	b.Apply(CallEnded{Call: endedCall("c1", "m1", base, 10, calls.CallStatusFailed)})
	s := b.Stats()
	if s.SuccessRate != 0 {
		t.Fatalf("all-failed success rate = %v, want 0", s.SuccessRate)
	}
	if s.Failed != 1 {
		t.Fatalf("failed = %d", s.Failed)
	}
}
