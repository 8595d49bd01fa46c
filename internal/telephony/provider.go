package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Provider defines the vendor-agnostic call-control interface used by business
// logic.
//
// Rules:
//   - No vendor SDK calls outside telephony adapters.
//   - Keep request/response types vendor-agnostic; vendor raw payloads belong in
//     call metadata, not here.
//   - The active vendor is a deployment-time choice; "mock" is the only
//     per-request override and never touches a network.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// Initiate places one outbound leg. For bridge flows the leg rings the
	// agent's endpoint and carries the real destination as opaque ClientState;
	// the follow-up leg and the bridge itself are driven by vendor webhooks.
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error)
}

type InitiateRequest struct {
	// From and To are E.164 numbers or SIP URIs.
	From string `json:"from"`
	To   string `json:"to"`

	RecordingEnabled bool `json:"recording_enabled"`
	MachineDetection bool `json:"machine_detection"`

	// ClientState is opaque state the vendor echoes back on webhooks
	// (base64 JSON; see EncodeClientState).
	ClientState string `json:"client_state,omitempty"`

	// CallbackURL receives lifecycle webhooks for this call.
	CallbackURL string `json:"callback_url,omitempty"`

	// TimeoutSeconds bounds ringing; 0 means the adapter default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// InitiateResult is the normalized vendor identifier triple.
type InitiateResult struct {
	CallControlID string `json:"call_control_id"`
	CallSessionID string `json:"call_session_id"`
	CallLegID     string `json:"call_leg_id"`
}

var (
	// ErrNotConfigured means the adapter is missing credentials or connection
	// settings; maps to HTTP 503 at the API boundary.
	ErrNotConfigured = errors.New("telephony: provider not configured")
	// ErrInvalidNumber means the vendor rejected the dial target as malformed.
	ErrInvalidNumber = errors.New("telephony: invalid number")
)

// VendorError carries a vendor rejection through to the API boundary with the
// vendor's message intact.
type VendorError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("telephony: %s rejected call (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// ClientState is the payload carried opaquely through the vendor on bridge
// legs so the webhook flow knows which destination to dial next.
type ClientState struct {
	CallID      string `json:"call_id"`
	Destination string `json:"destination"`
	OrgID       string `json:"org_id"`
	BridgeFlow  bool   `json:"bridge_flow"`
}

func EncodeClientState(s ClientState) string {
	b, _ := json.Marshal(s)
	return base64.StdEncoding.EncodeToString(b)
}

func DecodeClientState(raw string) (ClientState, error) {
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return ClientState{}, err
	}
	var s ClientState
	if err := json.Unmarshal(b, &s); err != nil {
		return ClientState{}, err
	}
	return s, nil
}
