package telephony

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"callhelm/pkg/logger"

	"github.com/gin-gonic/gin"
)

// VendorCallEvent is a normalized lifecycle event parsed from a vendor
// webhook. Status values are the vendor-agnostic set: initiated, ringing,
// answered, bridged, completed, failed, busy, no_answer.
type VendorCallEvent struct {
	Provider    string
	ExternalID  string
	Status      string
	Ended       bool
	Duration    int
	ClientState string
	OccurredAt  time.Time

	// Raw keeps vendor-specific fields for metadata passthrough.
	Raw map[string]any
}

// LifecycleSink applies a vendor event to the owning call row. Implemented by
// the calls service; this package only translates vendor payloads.
type LifecycleSink interface {
	ApplyVendorEvent(ctx context.Context, orgID string, ev VendorCallEvent) error
}

// WebhookHandler converts vendor status callbacks to internal events and
// delegates persistence to the sink. No business logic here.
//
// Tenant scoping: org_id is resolved from the event's client state when
// present, otherwise through the injected resolver (typically an external-id
// row lookup).
type WebhookHandler struct {
	Sink LifecycleSink

	OrgResolver func(ctx context.Context, provider, externalID string) (string, error)

	Now func() time.Time
}

func (h WebhookHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	if h.Sink == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lifecycle sink not configured"})
		return
	}

	provider := c.Param("provider")

	var ev VendorCallEvent
	var err error
	switch provider {
	case "telnyx":
		ev, err = parseTelnyxEvent(c.Request)
	case "twilio", "signalwire", "mock":
		ev, err = parseLaMLEvent(c.Request)
	default:
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}
	if err != nil {
		log.Warn("webhook parse failed", "provider", provider, "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	ev.Provider = provider
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = now().UTC()
	}

	orgID := ""
	if ev.ClientState != "" {
		if st, err := DecodeClientState(ev.ClientState); err == nil {
			orgID = st.OrgID
		}
	}
	if orgID == "" {
		if h.OrgResolver == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "org resolver not configured"})
			return
		}
		orgID, err = h.OrgResolver(c.Request.Context(), provider, ev.ExternalID)
		if err != nil {
			log.Warn("org resolution failed", "external_id", ev.ExternalID, "err", err)
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown call"})
			return
		}
	}

	if err := h.Sink.ApplyVendorEvent(c.Request.Context(), orgID, ev); err != nil {
		log.Error("vendor event apply failed", "external_id", ev.ExternalID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event apply failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

/* ===================== TELNYX ===================== */

type telnyxWebhookEnvelope struct {
	Data struct {
		EventType  string `json:"event_type"`
		OccurredAt string `json:"occurred_at"`
		Payload    struct {
			CallControlID string `json:"call_control_id"`
			CallSessionID string `json:"call_session_id"`
			CallLegID     string `json:"call_leg_id"`
			ClientState   string `json:"client_state"`
			HangupCause   string `json:"hangup_cause"`
			State         string `json:"state"`
		} `json:"payload"`
	} `json:"data"`
}

func parseTelnyxEvent(r *http.Request) (VendorCallEvent, error) {
	var env telnyxWebhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		return VendorCallEvent{}, err
	}

	ev := VendorCallEvent{
		ExternalID:  env.Data.Payload.CallControlID,
		ClientState: env.Data.Payload.ClientState,
		Raw: map[string]any{
			"event_type":     env.Data.EventType,
			"vendor_session": env.Data.Payload.CallSessionID,
			"vendor_leg":     env.Data.Payload.CallLegID,
		},
	}
	if t, err := time.Parse(time.RFC3339, env.Data.OccurredAt); err == nil {
		ev.OccurredAt = t
	}

	switch env.Data.EventType {
	case "call.initiated":
		ev.Status = "initiated"
	case "call.ringing":
		ev.Status = "ringing"
	case "call.answered":
		ev.Status = "answered"
	case "call.bridged":
		ev.Status = "bridged"
	case "call.hangup":
		ev.Ended = true
		switch env.Data.Payload.HangupCause {
		case "user_busy":
			ev.Status = "busy"
		case "no_answer", "originator_cancel":
			ev.Status = "no_answer"
		case "normal_clearing":
			ev.Status = "completed"
		default:
			ev.Status = "failed"
		}
		ev.Raw["hangup_cause"] = env.Data.Payload.HangupCause
	default:
		ev.Status = env.Data.Payload.State
	}
	return ev, nil
}

/* ===================== TWILIO / SIGNALWIRE (LaML) ===================== */

// parseLaMLEvent handles the Twilio-compatible form-encoded status callback
// shape shared by Twilio and SignalWire.
func parseLaMLEvent(r *http.Request) (VendorCallEvent, error) {
	if err := r.ParseForm(); err != nil {
		return VendorCallEvent{}, err
	}

	ev := VendorCallEvent{
		ExternalID: r.PostFormValue("CallSid"),
		// These vendors echo the callback URL verbatim, so the client state
		// planted there at initiation rides every status event.
		ClientState: r.URL.Query().Get("client_state"),
		Raw: map[string]any{
			"call_status": r.PostFormValue("CallStatus"),
			"direction":   r.PostFormValue("Direction"),
		},
	}
	if d := r.PostFormValue("CallDuration"); d != "" {
		if n, err := strconv.Atoi(d); err == nil {
			ev.Duration = n
		}
	}

	switch r.PostFormValue("CallStatus") {
	case "queued", "initiated":
		ev.Status = "initiated"
	case "ringing":
		ev.Status = "ringing"
	case "in-progress", "answered":
		ev.Status = "answered"
	case "completed":
		ev.Status = "completed"
		ev.Ended = true
	case "busy":
		ev.Status = "busy"
		ev.Ended = true
	case "no-answer":
		ev.Status = "no_answer"
		ev.Ended = true
	case "failed", "canceled":
		ev.Status = "failed"
		ev.Ended = true
	default:
		ev.Status = r.PostFormValue("CallStatus")
	}
	return ev, nil
}
