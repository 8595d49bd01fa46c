package usage

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repo for tests and early development.
type MemoryRepo struct {
	mu sync.Mutex

	Plans  map[string]Plan // org_id -> plan
	Events []UsageEvent

	AppendErr error // injectable failure for best-effort paths
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{Plans: map[string]Plan{}}
}

func (r *MemoryRepo) GetPlan(ctx context.Context, orgID string) (Plan, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.Plans[orgID]
	return p, ok, nil
}

func (r *MemoryRepo) AppendEvent(ctx context.Context, ev UsageEvent) (UsageEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.AppendErr != nil {
		return UsageEvent{}, r.AppendErr
	}
	for _, e := range r.Events {
		if e.OrgID == ev.OrgID && e.IdempotencyKey == ev.IdempotencyKey {
			return e, nil
		}
	}
	r.Events = append(r.Events, ev)
	return ev, nil
}

func (r *MemoryRepo) SumMinutesSince(ctx context.Context, orgID string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := 0
	for _, e := range r.Events {
		if e.OrgID == orgID && !e.CreatedAt.Before(since) {
			sum += e.Minutes
		}
	}
	return sum, nil
}
