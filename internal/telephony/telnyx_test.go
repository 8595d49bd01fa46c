package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"callhelm/internal/config"
)

func TestTelnyxInitiate(t *testing.T) {
	var got telnyxDialRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/calls" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"call_control_id":"cc-1","call_session_id":"cs-1","call_leg_id":"cl-1"}}`))
	}))
	defer srv.Close()

	p := NewTelnyxProvider(config.TelnyxConfig{APIKey: "key", ConnectionID: "conn-1"})
	p.baseURL = srv.URL

	res, err := p.Initiate(context.Background(), InitiateRequest{
		From:             "+14150000000",
		To:               "+14155551234",
		RecordingEnabled: true,
		MachineDetection: true,
		CallbackURL:      "https://api.example.com/webhooks/telnyx/status",
		ClientState:      "abc123",
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if res.CallControlID != "cc-1" || res.CallSessionID != "cs-1" || res.CallLegID != "cl-1" {
		t.Fatalf("result = %+v", res)
	}

	if gotAuth != "Bearer key" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if got.To != "+14155551234" || got.From != "+14150000000" || got.ConnectionID != "conn-1" {
		t.Fatalf("dial request = %+v", got)
	}
	if got.Record != "record-from-answer" || got.AnsweringMachine != "detect" {
		t.Fatalf("recording/amd fields = %+v", got)
	}
	if got.WebhookURL != "https://api.example.com/webhooks/telnyx/status" {
		t.Fatalf("webhook url = %q", got.WebhookURL)
	}
	if got.TimeoutSecs != 30 {
		t.Fatalf("default ring timeout = %d, want 30", got.TimeoutSecs)
	}
}

func TestTelnyxInitiateVendorRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":[{"code":"20001","title":"Insufficient funds","detail":"top up"}]}`))
	}))
	defer srv.Close()

	p := NewTelnyxProvider(config.TelnyxConfig{APIKey: "key", ConnectionID: "conn-1"})
	p.baseURL = srv.URL

	_, err := p.Initiate(context.Background(), InitiateRequest{From: "+1", To: "+2"})
	var verr *VendorError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want VendorError", err)
	}
	if verr.StatusCode != http.StatusUnprocessableEntity || verr.Provider != "telnyx" {
		t.Fatalf("vendor error = %+v", verr)
	}
}

func TestTelnyxInitiateInvalidDestination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":[{"code":"10015","title":"Invalid destination"}]}`))
	}))
	defer srv.Close()

	p := NewTelnyxProvider(config.TelnyxConfig{APIKey: "key", ConnectionID: "conn-1"})
	p.baseURL = srv.URL

	_, err := p.Initiate(context.Background(), InitiateRequest{From: "+1", To: "junk"})
	if !errors.Is(err, ErrInvalidNumber) {
		t.Fatalf("err = %v, want ErrInvalidNumber", err)
	}
}

func TestTelnyxUnconfigured(t *testing.T) {
	p := NewTelnyxProvider(config.TelnyxConfig{})
	if _, err := p.Initiate(context.Background(), InitiateRequest{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
	if err := p.HealthCheck(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("health = %v, want ErrNotConfigured", err)
	}
}

func TestClientStateRoundTrip(t *testing.T) {
	in := ClientState{CallID: "call-1", Destination: "+14155551234", OrgID: "org-1", BridgeFlow: true}
	out, err := DecodeClientState(EncodeClientState(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
}

func TestDecodeClientStateRejectsGarbage(t *testing.T) {
	if _, err := DecodeClientState("not base64!"); err == nil {
		t.Fatalf("want error for invalid base64")
	}
}
