package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("usage: plan not found")
	ErrInvalidArgument = errors.New("usage: invalid argument")
)

// QuotaExceededError carries the period figures so the API boundary can
// surface them to the caller alongside the 402.
type QuotaExceededError struct {
	Tier            PlanTier
	UsedMinutes     int
	IncludedMinutes int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("usage: %s plan quota exceeded (%d/%d minutes)", e.Tier, e.UsedMinutes, e.IncludedMinutes)
}

// Service derives period counters from the append-only event ledger and
// enforces the starter-tier quota gate.
//
// Quota policy: only starter plans are hard-blocked. Growth and scale overages
// are a billing matter, not a call-placement one.
type Service struct {
	repo  Repo
	clock func() time.Time
}

func NewService(repo Repo) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// WithClock makes period math deterministic in tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) PeriodUsage(ctx context.Context, orgID string) (PeriodUsage, error) {
	if orgID == "" {
		return PeriodUsage{}, ErrInvalidArgument
	}
	plan, ok, err := s.repo.GetPlan(ctx, orgID)
	if err != nil {
		return PeriodUsage{}, err
	}
	if !ok {
		return PeriodUsage{}, ErrNotFound
	}
	used, err := s.repo.SumMinutesSince(ctx, orgID, plan.PeriodStart)
	if err != nil {
		return PeriodUsage{}, err
	}
	return PeriodUsage{
		OrgID:           orgID,
		Tier:            plan.Tier,
		UsedMinutes:     used,
		IncludedMinutes: plan.Included(),
		PeriodStart:     plan.PeriodStart,
	}, nil
}

// CheckQuota returns a typed QuotaExceededError when a starter org has burned
// through its allowance. An org with no plan row passes; plan provisioning is
// a separate concern and missing rows must not block calling.
func (s *Service) CheckQuota(ctx context.Context, orgID string) error {
	if orgID == "" {
		return ErrInvalidArgument
	}
	plan, ok, err := s.repo.GetPlan(ctx, orgID)
	if err != nil {
		return err
	}
	if !ok || plan.Tier != TierStarter {
		return nil
	}
	used, err := s.repo.SumMinutesSince(ctx, orgID, plan.PeriodStart)
	if err != nil {
		return err
	}
	if used >= plan.Included() {
		return &QuotaExceededError{Tier: plan.Tier, UsedMinutes: used, IncludedMinutes: plan.Included()}
	}
	return nil
}

// RecordCallEvent appends the zero-minute placement marker for a call.
// Idempotent on the call id.
func (s *Service) RecordCallEvent(ctx context.Context, orgID, callID string, at time.Time) error {
	if orgID == "" || callID == "" {
		return ErrInvalidArgument
	}
	_, err := s.repo.AppendEvent(ctx, UsageEvent{
		ID:             uuid.NewString(),
		OrgID:          orgID,
		Type:           EventTypeCallPlaced,
		Minutes:        0,
		ExternalRef:    callID,
		IdempotencyKey: "placed:" + callID,
		CreatedAt:      at.UTC(),
	})
	return err
}

// RecordCallMinutes posts the billable minutes for a completed call, rounding
// seconds up to whole minutes. Idempotent on the call id, so webhook retries
// cannot double-bill.
func (s *Service) RecordCallMinutes(ctx context.Context, orgID, callID string, seconds int, at time.Time) error {
	if orgID == "" || callID == "" {
		return ErrInvalidArgument
	}
	if seconds < 0 {
		return ErrInvalidArgument
	}
	minutes := (seconds + 59) / 60
	_, err := s.repo.AppendEvent(ctx, UsageEvent{
		ID:             uuid.NewString(),
		OrgID:          orgID,
		Type:           EventTypeCallMinutes,
		Minutes:        minutes,
		ExternalRef:    callID,
		IdempotencyKey: "minutes:" + callID,
		CreatedAt:      at.UTC(),
	})
	return err
}
