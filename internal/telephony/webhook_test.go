package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"callhelm/internal/config"

	"github.com/gin-gonic/gin"
)

func configWithMock() config.TelephonyConfig {
	return config.TelephonyConfig{
		ActiveProvider: "telnyx",
		Telnyx:         config.TelnyxConfig{APIKey: "key", ConnectionID: "conn"},
	}
}

type recordingSink struct {
	orgID  string
	events []VendorCallEvent
	err    error
}

func (s *recordingSink) ApplyVendorEvent(ctx context.Context, orgID string, ev VendorCallEvent) error {
	s.orgID = orgID
	s.events = append(s.events, ev)
	return s.err
}

func webhookRouter(h WebhookHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/:provider/status", h.HandleStatus)
	return r
}

func TestWebhookTelnyxHangup(t *testing.T) {
	sink := &recordingSink{}
	h := WebhookHandler{
		Sink: sink,
		Now:  func() time.Time { return time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC) },
	}
	r := webhookRouter(h)

	state := EncodeClientState(ClientState{CallID: "call-1", OrgID: "org-1"})
	body := `{"data":{"event_type":"call.hangup","occurred_at":"2026-08-31T10:00:05Z","payload":{
		"call_control_id":"cc-1","client_state":"` + state + `","hangup_cause":"user_busy"}}}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/telnyx/status", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if sink.orgID != "org-1" {
		t.Fatalf("org from client state = %q", sink.orgID)
	}
	if len(sink.events) != 1 {
		t.Fatalf("events = %d", len(sink.events))
	}
	ev := sink.events[0]
	if ev.Provider != "telnyx" || ev.ExternalID != "cc-1" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Status != "busy" || !ev.Ended {
		t.Fatalf("hangup user_busy mapped to %q ended=%v", ev.Status, ev.Ended)
	}
	if !ev.OccurredAt.Equal(time.Date(2026, 8, 31, 10, 0, 5, 0, time.UTC)) {
		t.Fatalf("occurred_at = %v", ev.OccurredAt)
	}
}

func TestWebhookTwilioStatusCallback(t *testing.T) {
	sink := &recordingSink{}
	h := WebhookHandler{
		Sink: sink,
		OrgResolver: func(ctx context.Context, provider, externalID string) (string, error) {
			if externalID != "CA123" {
				t.Errorf("resolver got %q", externalID)
			}
			return "org-9", nil
		},
	}
	r := webhookRouter(h)

	form := "CallSid=CA123&CallStatus=completed&CallDuration=42&Direction=outbound-api"
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if sink.orgID != "org-9" {
		t.Fatalf("org = %q", sink.orgID)
	}
	ev := sink.events[0]
	if ev.Status != "completed" || !ev.Ended || ev.Duration != 42 {
		t.Fatalf("event = %+v", ev)
	}
}

// Client state planted on the callback URL at initiation must resolve the
// org without any row lookup.
func TestWebhookTwilioClientStateOnURL(t *testing.T) {
	sink := &recordingSink{}
	r := webhookRouter(WebhookHandler{Sink: sink})

	state := EncodeClientState(ClientState{CallID: "call-7", OrgID: "org-7"})
	form := "CallSid=CA777&CallStatus=completed&CallDuration=12"
	target := "/webhooks/twilio/status?client_state=" + url.QueryEscape(state)
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if sink.orgID != "org-7" {
		t.Fatalf("org from url client state = %q", sink.orgID)
	}
}

func TestCallbackWithState(t *testing.T) {
	got := callbackWithState("https://api.example.com/webhooks/twilio/status", "abc+def")
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Query().Get("client_state") != "abc+def" {
		t.Fatalf("client_state = %q", u.Query().Get("client_state"))
	}
	if u.Path != "/webhooks/twilio/status" {
		t.Fatalf("path = %q", u.Path)
	}
	if got := callbackWithState("https://api.example.com/hook", ""); got != "https://api.example.com/hook" {
		t.Fatalf("empty state must pass through, got %q", got)
	}
}

func TestWebhookStatusMapping(t *testing.T) {
	cases := []struct {
		vendor string
		status string
		ended  bool
	}{
		{"queued", "initiated", false},
		{"ringing", "ringing", false},
		{"in-progress", "answered", false},
		{"busy", "busy", true},
		{"no-answer", "no_answer", true},
		{"failed", "failed", true},
		{"canceled", "failed", true},
	}
	for _, tc := range cases {
		t.Run(tc.vendor, func(t *testing.T) {
			sink := &recordingSink{}
			h := WebhookHandler{
				Sink:        sink,
				OrgResolver: func(ctx context.Context, provider, externalID string) (string, error) { return "org-1", nil },
			}
			r := webhookRouter(h)

			form := "CallSid=CA1&CallStatus=" + tc.vendor
			req := httptest.NewRequest(http.MethodPost, "/webhooks/signalwire/status", strings.NewReader(form))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			ev := sink.events[0]
			if ev.Status != tc.status || ev.Ended != tc.ended {
				t.Fatalf("%s -> %q ended=%v, want %q ended=%v", tc.vendor, ev.Status, ev.Ended, tc.status, tc.ended)
			}
		})
	}
}

func TestWebhookUnknownProvider(t *testing.T) {
	r := webhookRouter(WebhookHandler{Sink: &recordingSink{}})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/carrierpigeon/status", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestWebhookUnresolvableOrg(t *testing.T) {
	h := WebhookHandler{
		Sink: &recordingSink{},
		OrgResolver: func(ctx context.Context, provider, externalID string) (string, error) {
			return "", context.Canceled
		},
	}
	r := webhookRouter(h)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader("CallSid=CA404&CallStatus=completed"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry(configWithMock(), true)
	if got := reg.Resolve("mock").Name(); got != "mock" {
		t.Fatalf("mock override = %q", got)
	}
	if got := reg.Resolve("telnyx").Name(); got != reg.Active().Name() {
		t.Fatalf("non-mock override must fall back to active, got %q", got)
	}

	prod := NewRegistry(configWithMock(), false)
	if got := prod.Resolve("mock"); got != prod.Active() {
		t.Fatalf("mock override honored in production")
	}
}
