package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"callhelm/internal/config"
)

const telnyxBaseURL = "https://api.telnyx.com/v2"

// TelnyxProvider talks to the Telnyx Call Control v2 API.
type TelnyxProvider struct {
	apiKey       string
	connectionID string
	baseURL      string
	httpClient   *http.Client
}

func NewTelnyxProvider(cfg config.TelnyxConfig) *TelnyxProvider {
	return &TelnyxProvider{
		apiKey:       cfg.APIKey,
		connectionID: cfg.ConnectionID,
		baseURL:      telnyxBaseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *TelnyxProvider) Name() string { return "telnyx" }

func (p *TelnyxProvider) HealthCheck(ctx context.Context) error {
	if p.apiKey == "" || p.connectionID == "" {
		return ErrNotConfigured
	}
	return nil
}

type telnyxDialRequest struct {
	To               string `json:"to"`
	From             string `json:"from"`
	ConnectionID     string `json:"connection_id"`
	WebhookURL       string `json:"webhook_url,omitempty"`
	ClientState      string `json:"client_state,omitempty"`
	TimeoutSecs      int    `json:"timeout_secs,omitempty"`
	Record           string `json:"record,omitempty"`
	RecordChannels   string `json:"record_channels,omitempty"`
	AnsweringMachine string `json:"answering_machine_detection,omitempty"`
}

type telnyxDialResponse struct {
	Data struct {
		CallControlID string `json:"call_control_id"`
		CallSessionID string `json:"call_session_id"`
		CallLegID     string `json:"call_leg_id"`
	} `json:"data"`
	Errors []struct {
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (p *TelnyxProvider) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	if p.apiKey == "" || p.connectionID == "" {
		return InitiateResult{}, ErrNotConfigured
	}

	body := telnyxDialRequest{
		To:           req.To,
		From:         req.From,
		ConnectionID: p.connectionID,
		WebhookURL:   req.CallbackURL,
		ClientState:  req.ClientState,
		TimeoutSecs:  req.TimeoutSeconds,
	}
	if body.TimeoutSecs <= 0 {
		body.TimeoutSecs = 30
	}
	if req.RecordingEnabled {
		body.Record = "record-from-answer"
		body.RecordChannels = "dual"
	}
	if req.MachineDetection {
		body.AnsweringMachine = "detect"
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return InitiateResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/calls", bytes.NewReader(buf))
	if err != nil {
		return InitiateResult{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("telnyx dial request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return InitiateResult{}, err
	}

	var out telnyxDialResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return InitiateResult{}, fmt.Errorf("telnyx response parse failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg := string(raw)
		if len(out.Errors) > 0 {
			msg = out.Errors[0].Title
			if out.Errors[0].Detail != "" {
				msg += ": " + out.Errors[0].Detail
			}
			if out.Errors[0].Code == "10015" { // invalid destination
				return InitiateResult{}, ErrInvalidNumber
			}
		}
		return InitiateResult{}, &VendorError{Provider: p.Name(), StatusCode: resp.StatusCode, Message: msg}
	}

	return InitiateResult{
		CallControlID: out.Data.CallControlID,
		CallSessionID: out.Data.CallSessionID,
		CallLegID:     out.Data.CallLegID,
	}, nil
}
