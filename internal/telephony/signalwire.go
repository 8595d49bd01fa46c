package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"callhelm/internal/config"
)

// SignalWireProvider places calls through the SignalWire LaML REST API.
// SignalWire has no official Go SDK; the LaML surface is Twilio-compatible
// form-encoded REST.
type SignalWireProvider struct {
	projectID  string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

func NewSignalWireProvider(cfg config.SignalWireConfig) *SignalWireProvider {
	base := ""
	if cfg.Space != "" {
		base = fmt.Sprintf("https://%s/api/laml/2010-04-01", cfg.Space)
	}
	return &SignalWireProvider{
		projectID:  cfg.ProjectID,
		authToken:  cfg.AuthToken,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *SignalWireProvider) Name() string { return "signalwire" }

func (p *SignalWireProvider) HealthCheck(ctx context.Context) error {
	if p.projectID == "" || p.authToken == "" || p.baseURL == "" {
		return ErrNotConfigured
	}
	return nil
}

type signalWireCallResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (p *SignalWireProvider) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	if p.projectID == "" || p.authToken == "" || p.baseURL == "" {
		return InitiateResult{}, ErrNotConfigured
	}

	form := url.Values{}
	form.Set("From", req.From)
	form.Set("To", req.To)
	if req.CallbackURL != "" {
		callback := callbackWithState(req.CallbackURL, req.ClientState)
		form.Set("Url", callback)
		form.Set("Method", "POST")
		form.Set("StatusCallback", callback)
		form.Set("StatusCallbackEvent", "initiated,ringing,answered,completed")
		form.Set("StatusCallbackMethod", "POST")
	}
	if req.RecordingEnabled {
		form.Set("Record", "true")
		form.Set("RecordingChannels", "dual")
	}
	if req.MachineDetection {
		form.Set("MachineDetection", "Enable")
	}
	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}
	form.Set("Timeout", strconv.Itoa(timeout))
	if req.ClientState != "" {
		// Also forwarded to the dialed endpoint; status callbacks get it via
		// the callback URL instead.
		form.Set("SipHeaders", "X-Client-State="+req.ClientState)
	}

	reqURL := fmt.Sprintf("%s/Accounts/%s/Calls.json", p.baseURL, p.projectID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return InitiateResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(p.projectID, p.authToken)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("signalwire dial request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return InitiateResult{}, err
	}

	var out signalWireCallResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return InitiateResult{}, fmt.Errorf("signalwire response parse failed: %w", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg := out.Message
		if msg == "" {
			msg = string(raw)
		}
		if out.Code == 21211 { // invalid 'To' number
			return InitiateResult{}, ErrInvalidNumber
		}
		return InitiateResult{}, &VendorError{Provider: p.Name(), StatusCode: resp.StatusCode, Message: msg}
	}

	return InitiateResult{
		CallControlID: out.SID,
		CallSessionID: out.SID,
	}, nil
}
