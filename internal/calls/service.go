package calls

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"callhelm/internal/telephony"

	"github.com/google/uuid"
)

var (
	ErrInvalidNumber      = errors.New("calls: invalid phone number")
	ErrNoOutboundIdentity = errors.New("calls: no outbound identity configured")
	ErrNotFound           = errors.New("calls: call not found")
	ErrAlreadyEnded       = errors.New("calls: call already ended")
	ErrInvalidArgument    = errors.New("calls: invalid argument")
	ErrTooManyCalls       = errors.New("calls: concurrent call limit reached")
)

// Quota is the slice of the usage service the initiation flow depends on.
// CheckQuota returns a typed quota error when the org is over its plan;
// RecordCallEvent is best-effort and must never fail the parent call.
type Quota interface {
	CheckQuota(ctx context.Context, orgID string) error
	RecordCallEvent(ctx context.Context, orgID, callID string, at time.Time) error
	RecordCallMinutes(ctx context.Context, orgID, callID string, seconds int, at time.Time) error
}

// Slots caps simultaneous calls per org. Acquire returns false when the org is
// at its limit.
type Slots interface {
	Acquire(ctx context.Context, orgID string) (bool, error)
	Release(ctx context.Context, orgID string) error
}

// NoopSlots disables the concurrency cap. Used when redis is unavailable and
// in tests that do not exercise the cap.
type NoopSlots struct{}

func (NoopSlots) Acquire(ctx context.Context, orgID string) (bool, error) { return true, nil }
func (NoopSlots) Release(ctx context.Context, orgID string) error         { return nil }

// ProviderResolver selects the vendor adapter for a request. Satisfied by
// telephony.Registry.
type ProviderResolver interface {
	Resolve(override string) telephony.Provider
}

// Service drives outbound call initiation and timeout marking. It is one of
// two writers to call rows; the other is the provider webhook handler, which
// feeds ApplyVendorEvent.
type Service struct {
	store     Store
	directory Directory
	providers ProviderResolver
	quota     Quota
	slots     Slots

	webhookBaseURL string
	recordCalls    bool
	ringTimeoutSec int

	log *slog.Logger
	now func() time.Time

	newID func() string
}

type ServiceOption func(*Service)

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(gen func() string) ServiceOption {
	return func(s *Service) { s.newID = gen }
}

func WithRingTimeout(seconds int) ServiceOption {
	return func(s *Service) { s.ringTimeoutSec = seconds }
}

func NewService(store Store, directory Directory, providers ProviderResolver, quota Quota, slots Slots, webhookBaseURL string, recordCalls bool, log *slog.Logger, opts ...ServiceOption) *Service {
	if log == nil {
		log = slog.Default()
	}
	if slots == nil {
		slots = NoopSlots{}
	}
	s := &Service{
		store:          store,
		directory:      directory,
		providers:      providers,
		quota:          quota,
		slots:          slots,
		webhookBaseURL: webhookBaseURL,
		recordCalls:    recordCalls,
		log:            log,
		now:            time.Now,
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitiateInput is the validated request for one outbound call.
type InitiateInput struct {
	OrgID    string
	MemberID string

	PhoneNumber string
	ContactID   string
	CallListID  string
	CampaignID  string
	ScriptID    string

	// ProviderOverride is honored only for "mock" outside production.
	ProviderOverride string

	// UseBridgeFlow rings the agent's endpoint first and carries the real
	// destination as opaque client state for the vendor webhook flow.
	UseBridgeFlow bool
}

type InitiateOutput struct {
	Call Call
}

// Initiate places an outbound call. Order matters: validation, quota, and the
// concurrency cap run before any vendor traffic; the vendor call runs before
// the row insert, so a vendor failure leaves no row behind. A row-insert
// failure after vendor success is an orphan leg; it is logged loudly and
// returned as an error, not silently repaired.
//
// Calling Initiate twice with the same input places two calls. There is no
// request idempotency key.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (InitiateOutput, error) {
	if in.OrgID == "" {
		return InitiateOutput{}, ErrInvalidArgument
	}

	to, err := NormalizeNumber(in.PhoneNumber)
	if err != nil {
		return InitiateOutput{}, err
	}

	if s.quota != nil {
		if err := s.quota.CheckQuota(ctx, in.OrgID); err != nil {
			return InitiateOutput{}, err
		}
	}

	from, ok, err := s.directory.PrimaryOutboundNumber(ctx, in.OrgID)
	if err != nil {
		return InitiateOutput{}, err
	}
	if !ok || from == "" {
		return InitiateOutput{}, ErrNoOutboundIdentity
	}

	callID := s.newID()
	now := s.now().UTC()

	// For bridge flows the vendor dials the agent first; the customer number
	// rides along as client state and the webhook flow places the second leg.
	dialTo := to
	var bridgeEndpoint Endpoint
	var bridgeTarget string
	if in.UseBridgeFlow {
		ep, ok, err := s.directory.AgentEndpoint(ctx, in.OrgID, in.MemberID)
		if err != nil {
			return InitiateOutput{}, err
		}
		if !ok {
			return InitiateOutput{}, ErrNoOutboundIdentity
		}
		bridgeTarget, err = ep.DialTarget()
		if err != nil {
			return InitiateOutput{}, err
		}
		bridgeEndpoint = ep
		dialTo = bridgeTarget
	}

	acquired, err := s.slots.Acquire(ctx, in.OrgID)
	if err != nil {
		return InitiateOutput{}, err
	}
	if !acquired {
		return InitiateOutput{}, ErrTooManyCalls
	}

	provider := s.providers.Resolve(in.ProviderOverride)

	req := telephony.InitiateRequest{
		From:             from,
		To:               dialTo,
		RecordingEnabled: s.recordCalls,
		MachineDetection: !in.UseBridgeFlow,
		CallbackURL:      s.webhookBaseURL + "/webhooks/" + provider.Name() + "/status",
		TimeoutSeconds:   s.ringTimeoutSec,
		ClientState: telephony.EncodeClientState(telephony.ClientState{
			CallID:      callID,
			Destination: to,
			OrgID:       in.OrgID,
			BridgeFlow:  in.UseBridgeFlow,
		}),
	}

	res, err := provider.Initiate(ctx, req)
	if err != nil {
		if rerr := s.slots.Release(ctx, in.OrgID); rerr != nil {
			s.log.Warn("call slot release failed", "org_id", in.OrgID, "err", rerr)
		}
		return InitiateOutput{}, err
	}

	call := Call{
		ID:         callID,
		OrgID:      in.OrgID,
		ExternalID: res.CallControlID,
		MemberID:   in.MemberID,
		ContactID:  in.ContactID,
		FromNumber: from,
		ToNumber:   to,
		Direction:  DirectionOutbound,

		// Placeholder written for downstream consumers that key off answered;
		// the true initial state is preserved in metadata and corrected by the
		// first vendor webhook.
		Status: CallStatusAnswered,

		StartedAt: now,
		Metadata: Metadata{
			CampaignID:       in.CampaignID,
			CallListID:       in.CallListID,
			ScriptID:         in.ScriptID,
			InitiatorID:      in.MemberID,
			InitialStatus:    string(CallStatusInitiated),
			RecordingEnabled: s.recordCalls,
			VendorSessionID:  res.CallSessionID,
			VendorLegID:      res.CallLegID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.UseBridgeFlow {
		call.BridgeStatus = BridgeStatusAgentRinging
		call.AgentEndpoint = bridgeTarget
		call.AgentEndpointType = bridgeEndpoint.Type
	}

	if err := s.store.Insert(ctx, call); err != nil {
		// The vendor leg exists but we have no row for it. Divergence is
		// surfaced in logs for the reconciliation poller's benefit.
		s.log.Error("orphan vendor call: row insert failed after vendor accept",
			"org_id", in.OrgID, "call_id", callID, "external_id", res.CallControlID,
			"provider", provider.Name(), "err", err)
		return InitiateOutput{}, err
	}

	s.recordSideEffects(ctx, in, call)

	s.log.Info("call initiated",
		"org_id", in.OrgID, "call_id", call.ID, "external_id", call.ExternalID,
		"provider", provider.Name(), "bridge", in.UseBridgeFlow)
	return InitiateOutput{Call: call}, nil
}

// recordSideEffects runs the non-critical followups of a successful initiate.
// Failures are logged and swallowed.
func (s *Service) recordSideEffects(ctx context.Context, in InitiateInput, call Call) {
	if in.CallListID != "" && in.ContactID != "" {
		if err := s.directory.RecordCampaignAttempt(ctx, in.OrgID, in.CallListID, in.ContactID, call.StartedAt); err != nil {
			s.log.Warn("campaign attempt record failed", "org_id", in.OrgID, "call_id", call.ID, "err", err)
		}
	}
	if s.quota != nil {
		if err := s.quota.RecordCallEvent(ctx, in.OrgID, call.ID, call.StartedAt); err != nil {
			s.log.Warn("usage event record failed", "org_id", in.OrgID, "call_id", call.ID, "err", err)
		}
	}
}

// MarkTimeout closes a stuck call as failed. The write is conditional on the
// row still being open; racing the webhook writer surfaces as ErrAlreadyEnded.
func (s *Service) MarkTimeout(ctx context.Context, orgID, callID, stage string, at time.Time) (Call, error) {
	if orgID == "" || callID == "" {
		return Call{}, ErrInvalidArgument
	}
	if at.IsZero() {
		at = s.now().UTC()
	}
	patch := Metadata{
		TimeoutStage: stage,
		TimeoutAt:    at.UTC().Format(time.RFC3339),
	}
	call, err := s.store.MarkTimedOut(ctx, orgID, callID, patch, at.UTC())
	if err != nil {
		return Call{}, err
	}
	if rerr := s.slots.Release(ctx, orgID); rerr != nil {
		s.log.Warn("call slot release failed", "org_id", orgID, "call_id", callID, "err", rerr)
	}
	s.log.Info("call marked timed out", "org_id", orgID, "call_id", callID, "stage", stage)
	return call, nil
}

// GetCall is the read path for API handlers.
func (s *Service) GetCall(ctx context.Context, orgID, callID string) (Call, error) {
	c, ok, err := s.store.GetByID(ctx, orgID, callID)
	if err != nil {
		return Call{}, err
	}
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

/* ===================== VENDOR EVENT SINK ===================== */

// ApplyVendorEvent folds a webhook lifecycle event into the owning row. This
// is the second writer: it never creates rows, only transitions them, and
// metadata is merged rather than replaced.
func (s *Service) ApplyVendorEvent(ctx context.Context, orgID string, ev telephony.VendorCallEvent) error {
	if orgID == "" || ev.ExternalID == "" {
		return ErrInvalidArgument
	}

	update := LifecycleUpdate{At: ev.OccurredAt.UTC()}

	switch ev.Status {
	case "initiated":
		update.Status = CallStatusInitiated
	case "ringing":
		update.Status = CallStatusRinging
	case "answered":
		update.Status = CallStatusAnswered
	case "bridged":
		update.Status = CallStatusAnswered
		update.BridgeStatus = BridgeStatusBridged
	case "completed":
		update.Status = CallStatusCompleted
	case "busy":
		update.Status = CallStatusBusy
	case "no_answer":
		update.Status = CallStatusNoAnswer
	case "failed":
		update.Status = CallStatusFailed
	default:
		s.log.Warn("unmapped vendor status", "provider", ev.Provider, "status", ev.Status, "external_id", ev.ExternalID)
	}

	if ev.Ended {
		endedAt := ev.OccurredAt.UTC()
		update.EndedAt = &endedAt
		update.DurationSeconds = ev.Duration
	}

	if len(ev.Raw) > 0 {
		update.Metadata.Extra = ev.Raw
	}

	call, err := s.store.ApplyLifecycle(ctx, orgID, ev.ExternalID, update)
	if err != nil {
		return err
	}

	if ev.Ended {
		if rerr := s.slots.Release(ctx, orgID); rerr != nil {
			s.log.Warn("call slot release failed", "org_id", orgID, "call_id", call.ID, "err", rerr)
		}
		if s.quota != nil {
			if uerr := s.quota.RecordCallMinutes(ctx, orgID, call.ID, call.DurationSeconds, ev.OccurredAt); uerr != nil {
				s.log.Warn("usage minutes record failed", "org_id", orgID, "call_id", call.ID, "err", uerr)
			}
		}
	}

	s.log.Debug("vendor event applied",
		"org_id", orgID, "call_id", call.ID, "provider", ev.Provider,
		"status", ev.Status, "ended", ev.Ended)
	return nil
}

// ResolveOrgByExternalID supports webhook org resolution when no client state
// round-tripped through the vendor.
func (s *Service) ResolveOrgByExternalID(ctx context.Context, provider, externalID string) (string, error) {
	// Provider is informational here; external ids are globally unique per
	// vendor and rows are looked up unscoped then verified.
	_ = provider
	orgID, err := s.lookupOrgForExternal(ctx, externalID)
	if err != nil {
		return "", err
	}
	return orgID, nil
}

func (s *Service) lookupOrgForExternal(ctx context.Context, externalID string) (string, error) {
	if finder, ok := s.store.(interface {
		FindOrgByExternalID(ctx context.Context, externalID string) (string, bool, error)
	}); ok {
		orgID, found, err := finder.FindOrgByExternalID(ctx, externalID)
		if err != nil {
			return "", err
		}
		if !found {
			return "", ErrNotFound
		}
		return orgID, nil
	}
	return "", ErrNotFound
}
