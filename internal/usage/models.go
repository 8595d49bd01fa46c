package usage

import "time"

// Plans and usage are tenant-scoped (org_id required everywhere). Minutes are
// whole minutes, rounded up from seconds at posting time.

type PlanTier string

const (
	TierStarter PlanTier = "starter"
	TierGrowth  PlanTier = "growth"
	TierScale   PlanTier = "scale"
)

// DefaultIncludedMinutes is the per-period allowance by tier. Growth and scale
// allowances are informational; only the starter tier is hard-enforced.
func DefaultIncludedMinutes(t PlanTier) int {
	switch t {
	case TierStarter:
		return 500
	case TierGrowth:
		return 3000
	case TierScale:
		return 20000
	default:
		return 0
	}
}

// Plan is an org's subscription row.
type Plan struct {
	OrgID string   `json:"org_id" db:"org_id"`
	Tier  PlanTier `json:"tier" db:"tier"`

	// IncludedMinutes overrides the tier default when non-zero.
	IncludedMinutes int `json:"included_minutes" db:"included_minutes"`

	// PeriodStart anchors the current billing period; usage sums run from here.
	PeriodStart time.Time `json:"period_start" db:"period_start"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Included resolves the plan's effective allowance.
func (p Plan) Included() int {
	if p.IncludedMinutes > 0 {
		return p.IncludedMinutes
	}
	return DefaultIncludedMinutes(p.Tier)
}

// UsageEvent is an immutable append-only entry. Period counters are derived
// from these rows, never stored authoritatively elsewhere.
//
// Multi-tenant invariant: org_id required.
// Zero-minute events are allowed (call placement markers).
type UsageEvent struct {
	ID    string `json:"id" db:"id"`
	OrgID string `json:"org_id" db:"org_id"`

	Type EventType `json:"type" db:"type"`

	Minutes int `json:"minutes" db:"minutes"`

	// ExternalRef is optional: call_id, invoice_id, provider_event_id, etc.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// IdempotencyKey is required for safe retries of posting operations.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallPlaced  EventType = "call_placed"  // zero-minute marker at initiation
	EventTypeCallMinutes EventType = "call_minutes" // posted on call completion
	EventTypeAdjustment  EventType = "adjustment"   // manual correction
)

// PeriodUsage is the derived counter view for one org's current period.
type PeriodUsage struct {
	OrgID           string    `json:"org_id"`
	Tier            PlanTier  `json:"tier"`
	UsedMinutes     int       `json:"used_minutes"`
	IncludedMinutes int       `json:"included_minutes"`
	PeriodStart     time.Time `json:"period_start"`
}
