package calls

import (
	"encoding/json"
	"time"
)

// Call represents a tenant-scoped telephony session.
//
// Multi-tenant invariant: OrgID is required on every row. MemberID is a
// non-owning association (the agent handling the call).
//
// Lifecycle invariant (expected, not enforced): EndedAt == nil means the call
// is active; a terminal Status should always come with a non-nil EndedAt.
// Status and EndedAt are written by two independent writers (the initiation
// service and the provider webhook handler), so readers must tolerate
// transient disagreement and prefer the latest row.
type Call struct {
	ID    string `json:"id" db:"id"`
	OrgID string `json:"org_id" db:"org_id"`

	// ExternalID is the vendor call-control id.
	ExternalID string `json:"external_id,omitempty" db:"external_id"`

	MemberID  string `json:"member_id,omitempty" db:"member_id"`
	ContactID string `json:"contact_id,omitempty" db:"contact_id"`

	FromNumber string        `json:"from_number" db:"from_number"`
	ToNumber   string        `json:"to_number" db:"to_number"`
	Direction  CallDirection `json:"direction" db:"direction"`

	Status CallStatus `json:"status" db:"status"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// DurationSeconds is vendor-reported where available, otherwise derived
	// from EndedAt - StartedAt on completion.
	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	// Bridge fields are present only for two-leg flows.
	BridgeStatus      BridgeStatus `json:"bridge_status,omitempty" db:"bridge_status"`
	AgentEndpoint     string       `json:"agent_endpoint,omitempty" db:"agent_endpoint"`
	AgentEndpointType EndpointType `json:"agent_endpoint_type,omitempty" db:"agent_endpoint_type"`
	AgentLegControlID string       `json:"agent_leg_control_id,omitempty" db:"agent_leg_control_id"`

	Metadata Metadata `json:"metadata" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the call is still open from this row's view.
func (c Call) IsActive() bool { return c.EndedAt == nil }

type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusAnswered  CallStatus = "answered"
	CallStatusCompleted CallStatus = "completed"
	CallStatusFailed    CallStatus = "failed"
	CallStatusBusy      CallStatus = "busy"
	CallStatusNoAnswer  CallStatus = "no_answer"
	CallStatusAbandoned CallStatus = "abandoned"
)

// IsTerminal reports whether the status should coincide with a set EndedAt.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusBusy, CallStatusNoAnswer, CallStatusAbandoned:
		return true
	default:
		return false
	}
}

type BridgeStatus string

const (
	BridgeStatusAgentRinging  BridgeStatus = "agent_ringing"
	BridgeStatusAgentAnswered BridgeStatus = "agent_answered"
	BridgeStatusBridged       BridgeStatus = "bridged"
)

type EndpointType string

const (
	EndpointTypeSIP       EndpointType = "sip"
	EndpointTypeExtension EndpointType = "extension"
	EndpointTypePhone     EndpointType = "phone"
)

// Metadata is the provider-specific bag attached to a call. Known fields are
// typed; anything else lands in Extra so unrelated writers cannot silently
// collide on keys. Updates go through Merge, which never drops keys the patch
// does not mention.
type Metadata struct {
	CampaignID       string `json:"-"`
	CallListID       string `json:"-"`
	ScriptID         string `json:"-"`
	InitiatorID      string `json:"-"`
	InitialStatus    string `json:"-"`
	RecordingEnabled bool   `json:"-"`
	VendorSessionID  string `json:"-"`
	VendorLegID      string `json:"-"`
	TimeoutStage     string `json:"-"`
	TimeoutAt        string `json:"-"`

	Extra map[string]any `json:"-"`
}

// knownMetadataKeys are the wire names of the typed fields.
const (
	metaCampaignID       = "campaign_id"
	metaCallListID       = "call_list_id"
	metaScriptID         = "script_id"
	metaInitiatorID      = "initiator_id"
	metaInitialStatus    = "initial_status"
	metaRecordingEnabled = "recording_enabled"
	metaVendorSessionID  = "vendor_session_id"
	metaVendorLegID      = "vendor_leg_id"
	metaTimeoutStage     = "timeout_stage"
	metaTimeoutAt        = "timeout_at"
)

func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+10)
	for k, v := range m.Extra {
		out[k] = v
	}
	setIf := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	setIf(metaCampaignID, m.CampaignID)
	setIf(metaCallListID, m.CallListID)
	setIf(metaScriptID, m.ScriptID)
	setIf(metaInitiatorID, m.InitiatorID)
	setIf(metaInitialStatus, m.InitialStatus)
	setIf(metaVendorSessionID, m.VendorSessionID)
	setIf(metaVendorLegID, m.VendorLegID)
	setIf(metaTimeoutStage, m.TimeoutStage)
	setIf(metaTimeoutAt, m.TimeoutAt)
	if m.RecordingEnabled {
		out[metaRecordingEnabled] = true
	}
	return json.Marshal(out)
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	popString := func(k string) string {
		v, ok := raw[k]
		if !ok {
			return ""
		}
		delete(raw, k)
		s, _ := v.(string)
		return s
	}
	m.CampaignID = popString(metaCampaignID)
	m.CallListID = popString(metaCallListID)
	m.ScriptID = popString(metaScriptID)
	m.InitiatorID = popString(metaInitiatorID)
	m.InitialStatus = popString(metaInitialStatus)
	m.VendorSessionID = popString(metaVendorSessionID)
	m.VendorLegID = popString(metaVendorLegID)
	m.TimeoutStage = popString(metaTimeoutStage)
	m.TimeoutAt = popString(metaTimeoutAt)
	if v, ok := raw[metaRecordingEnabled]; ok {
		delete(raw, metaRecordingEnabled)
		b, _ := v.(bool)
		m.RecordingEnabled = b
	}
	if len(raw) > 0 {
		m.Extra = raw
	} else {
		m.Extra = nil
	}
	return nil
}

// Merge applies patch on top of m and returns the result. Zero-valued patch
// fields leave the existing value alone; Extra keys are merged, patch wins on
// collision. Neither receiver nor patch is mutated.
func (m Metadata) Merge(patch Metadata) Metadata {
	out := m
	if patch.CampaignID != "" {
		out.CampaignID = patch.CampaignID
	}
	if patch.CallListID != "" {
		out.CallListID = patch.CallListID
	}
	if patch.ScriptID != "" {
		out.ScriptID = patch.ScriptID
	}
	if patch.InitiatorID != "" {
		out.InitiatorID = patch.InitiatorID
	}
	if patch.InitialStatus != "" {
		out.InitialStatus = patch.InitialStatus
	}
	if patch.RecordingEnabled {
		out.RecordingEnabled = true
	}
	if patch.VendorSessionID != "" {
		out.VendorSessionID = patch.VendorSessionID
	}
	if patch.VendorLegID != "" {
		out.VendorLegID = patch.VendorLegID
	}
	if patch.TimeoutStage != "" {
		out.TimeoutStage = patch.TimeoutStage
	}
	if patch.TimeoutAt != "" {
		out.TimeoutAt = patch.TimeoutAt
	}
	if len(patch.Extra) > 0 {
		merged := make(map[string]any, len(m.Extra)+len(patch.Extra))
		for k, v := range m.Extra {
			merged[k] = v
		}
		for k, v := range patch.Extra {
			merged[k] = v
		}
		out.Extra = merged
	}
	return out
}

// Endpoint is an agent's configured reachable identity for bridge flows.
type Endpoint struct {
	Type EndpointType `json:"type" db:"type"`

	// Value holds a SIP URI, a PBX extension, or a phone number per Type.
	Value string `json:"value" db:"value"`

	// PBXHost is required for extension endpoints; the dial target is
	// synthesized as sip:<extension>@<pbx_host>.
	PBXHost string `json:"pbx_host,omitempty" db:"pbx_host"`
}

// Member is the roster row needed by the dashboard.
type Member struct {
	ID          string `json:"id" db:"id"`
	OrgID       string `json:"org_id" db:"org_id"`
	DisplayName string `json:"display_name" db:"display_name"`
	Active      bool   `json:"active" db:"active"`
}

// Contact is the minimal contact projection needed for display names and
// campaign attempt tracking.
type Contact struct {
	ID          string `json:"id" db:"id"`
	OrgID       string `json:"org_id" db:"org_id"`
	DisplayName string `json:"display_name" db:"display_name"`
	PhoneNumber string `json:"phone_number" db:"phone_number"`
}
