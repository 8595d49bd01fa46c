package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"callhelm/internal/auth"
	"callhelm/internal/calls"
	"callhelm/internal/telephony"
	"callhelm/internal/usage"

	"github.com/gin-gonic/gin"
)

func testRouter(t *testing.T, h Handlers, orgID, memberID string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), memberID, orgID, "agent"))
		c.Next()
	})
	r.POST("/v1/calls/initiate", h.InitiateCall)
	r.POST("/v1/calls/:id/timeout", h.TimeoutCall)
	r.GET("/v1/calls/:id", h.GetCall)
	r.GET("/v1/usage", h.GetUsage)
	return r
}

type passQuota struct{}

func (passQuota) CheckQuota(ctx context.Context, orgID string) error { return nil }
func (passQuota) RecordCallEvent(ctx context.Context, orgID, callID string, at time.Time) error {
	return nil
}
func (passQuota) RecordCallMinutes(ctx context.Context, orgID, callID string, seconds int, at time.Time) error {
	return nil
}

type resolver struct{ p telephony.Provider }

func (r resolver) Resolve(override string) telephony.Provider { return r.p }

func newCallsService(store *calls.MemoryStore, provider telephony.Provider, quota calls.Quota) *calls.Service {
	return calls.NewService(store, store, resolver{p: provider}, quota, calls.NoopSlots{},
		"https://api.example.com", false, nil)
}

func postJSON(r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestInitiateCallHappyPath(t *testing.T) {
	store := calls.NewMemoryStore()
	store.PrimaryNumbers["org-1"] = "+14150000000"
	svc := newCallsService(store, telephony.NewMockProvider(), passQuota{})
	r := testRouter(t, Handlers{Calls: svc}, "org-1", "mem-1")

	w := postJSON(r, "/v1/calls/initiate", gin.H{"phone_number": "4155551234"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success    bool   `json:"success"`
		CallID     string `json:"call_id"`
		ExternalID string `json:"external_id"`
		Status     string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.CallID == "" || resp.ExternalID == "" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Status != "answered" {
		t.Fatalf("status = %q, want answered placeholder", resp.Status)
	}
}

func TestInitiateCallStatusMapping(t *testing.T) {
	base := calls.NewMemoryStore()
	base.PrimaryNumbers["org-1"] = "+14150000000"

	unconfigured := calls.NewMemoryStore() // no primary number

	quotaRepo := usage.NewMemoryRepo()
	quotaRepo.Plans["org-1"] = usage.Plan{OrgID: "org-1", Tier: usage.TierStarter, IncludedMinutes: 1, PeriodStart: time.Now().Add(-time.Hour)}
	overQuota := usage.NewService(quotaRepo)
	_ = overQuota.RecordCallMinutes(context.Background(), "org-1", "burn", 120, time.Now())

	failing := telephony.NewMockProvider()
	failing.FailWith = telephony.ErrNotConfigured

	cases := []struct {
		name   string
		svc    *calls.Service
		body   gin.H
		status int
	}{
		{"invalid number", newCallsService(base, telephony.NewMockProvider(), passQuota{}),
			gin.H{"phone_number": "nope"}, http.StatusBadRequest},
		{"missing number", newCallsService(base, telephony.NewMockProvider(), passQuota{}),
			gin.H{}, http.StatusBadRequest},
		{"no outbound identity", newCallsService(unconfigured, telephony.NewMockProvider(), passQuota{}),
			gin.H{"phone_number": "4155551234"}, http.StatusBadRequest},
		{"quota exceeded", newCallsService(base, telephony.NewMockProvider(), overQuota),
			gin.H{"phone_number": "4155551234"}, http.StatusPaymentRequired},
		{"provider unconfigured", newCallsService(base, failing, passQuota{}),
			gin.H{"phone_number": "4155551234"}, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := testRouter(t, Handlers{Calls: tc.svc}, "org-1", "mem-1")
			w := postJSON(r, "/v1/calls/initiate", tc.body)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d; body %s", w.Code, tc.status, w.Body.String())
			}
		})
	}
}

func TestInitiateCallQuotaBodyCarriesFigures(t *testing.T) {
	store := calls.NewMemoryStore()
	store.PrimaryNumbers["org-1"] = "+14150000000"

	repo := usage.NewMemoryRepo()
	repo.Plans["org-1"] = usage.Plan{OrgID: "org-1", Tier: usage.TierStarter, IncludedMinutes: 5, PeriodStart: time.Now().Add(-time.Hour)}
	quota := usage.NewService(repo)
	_ = quota.RecordCallMinutes(context.Background(), "org-1", "burn", 300, time.Now())

	r := testRouter(t, Handlers{Calls: newCallsService(store, telephony.NewMockProvider(), quota)}, "org-1", "mem-1")
	w := postJSON(r, "/v1/calls/initiate", gin.H{"phone_number": "4155551234"})
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		UsedMinutes     int `json:"used_minutes"`
		IncludedMinutes int `json:"included_minutes"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.UsedMinutes != 5 || resp.IncludedMinutes != 5 {
		t.Fatalf("quota figures = %+v", resp)
	}
}

func TestTimeoutCallRoundTrip(t *testing.T) {
	store := calls.NewMemoryStore()
	store.PrimaryNumbers["org-1"] = "+14150000000"
	svc := newCallsService(store, telephony.NewMockProvider(), passQuota{})
	r := testRouter(t, Handlers{Calls: svc}, "org-1", "mem-1")

	w := postJSON(r, "/v1/calls/initiate", gin.H{"phone_number": "4155551234"})
	if w.Code != http.StatusOK {
		t.Fatalf("initiate: %d %s", w.Code, w.Body.String())
	}
	var created struct {
		CallID string `json:"call_id"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	w = postJSON(r, "/v1/calls/"+created.CallID+"/timeout", gin.H{"timeout_stage": "ringing"})
	if w.Code != http.StatusOK {
		t.Fatalf("timeout: %d %s", w.Code, w.Body.String())
	}

	// Second attempt: the call is already closed.
	w = postJSON(r, "/v1/calls/"+created.CallID+"/timeout", gin.H{"timeout_stage": "ringing"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("repeat timeout = %d, want 404; body %s", w.Code, w.Body.String())
	}

	// Unknown id.
	w = postJSON(r, "/v1/calls/ghost/timeout", gin.H{"timeout_stage": "ringing"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown id = %d, want 404", w.Code)
	}
}

func TestGetCall(t *testing.T) {
	store := calls.NewMemoryStore()
	store.PrimaryNumbers["org-1"] = "+14150000000"
	svc := newCallsService(store, telephony.NewMockProvider(), passQuota{})
	r := testRouter(t, Handlers{Calls: svc}, "org-1", "mem-1")

	w := postJSON(r, "/v1/calls/initiate", gin.H{"phone_number": "4155551234"})
	var created struct {
		CallID string `json:"call_id"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	req := httptest.NewRequest(http.MethodGet, "/v1/calls/"+created.CallID, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var got calls.Call
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != created.CallID || got.ToNumber != "+14155551234" {
		t.Fatalf("call = %+v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/calls/ghost", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown id = %d, want 404", w.Code)
	}
}

func TestTimeoutCallValidation(t *testing.T) {
	store := calls.NewMemoryStore()
	svc := newCallsService(store, telephony.NewMockProvider(), passQuota{})
	r := testRouter(t, Handlers{Calls: svc}, "org-1", "mem-1")

	w := postJSON(r, "/v1/calls/c1/timeout", gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing stage = %d, want 400", w.Code)
	}
	w = postJSON(r, "/v1/calls/c1/timeout", gin.H{"timeout_stage": "ringing", "timeout_at": "not-a-time"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad timestamp = %d, want 400", w.Code)
	}
}

func TestGetUsage(t *testing.T) {
	repo := usage.NewMemoryRepo()
	repo.Plans["org-1"] = usage.Plan{OrgID: "org-1", Tier: usage.TierGrowth, PeriodStart: time.Now().Add(-time.Hour)}
	r := testRouter(t, Handlers{Usage: usage.NewService(repo)}, "org-1", "mem-1")

	req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var u usage.PeriodUsage
	if err := json.Unmarshal(w.Body.Bytes(), &u); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if u.Tier != usage.TierGrowth || u.IncludedMinutes != usage.DefaultIncludedMinutes(usage.TierGrowth) {
		t.Fatalf("usage = %+v", u)
	}
}
