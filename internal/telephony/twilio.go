package telephony

import (
	"context"
	"net/url"

	"callhelm/internal/config"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioProvider places calls through the Twilio Voice REST API.
// Twilio has a single call SID; it is reported as both control and session id.
type TwilioProvider struct {
	accountSID string
	client     *twilio.RestClient
}

func NewTwilioProvider(cfg config.TwilioConfig) *TwilioProvider {
	var client *twilio.RestClient
	if cfg.AccountSID != "" && cfg.AuthToken != "" {
		client = twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		})
	}
	return &TwilioProvider{accountSID: cfg.AccountSID, client: client}
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	if p.client == nil {
		return ErrNotConfigured
	}
	return nil
}

func (p *TwilioProvider) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	if p.client == nil {
		return InitiateResult{}, ErrNotConfigured
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(req.From)
	if req.CallbackURL != "" {
		// Twilio has no opaque client-state field; it rides the callback URL
		// so every status event echoes it back.
		callback := callbackWithState(req.CallbackURL, req.ClientState)
		params.SetUrl(callback)
		params.SetStatusCallback(callback)
		params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
		params.SetStatusCallbackMethod("POST")
	}
	if req.RecordingEnabled {
		params.SetRecord(true)
		params.SetRecordingChannels("dual")
	}
	if req.MachineDetection {
		params.SetMachineDetection("Enable")
	}
	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}
	params.SetTimeout(timeout)

	call, err := p.client.Api.CreateCall(params)
	if err != nil {
		return InitiateResult{}, &VendorError{Provider: p.Name(), StatusCode: 0, Message: err.Error()}
	}

	sid := ""
	if call.Sid != nil {
		sid = *call.Sid
	}
	return InitiateResult{
		CallControlID: sid,
		CallSessionID: sid,
	}, nil
}

// callbackWithState appends the opaque client state to a callback URL as a
// query parameter. Used by the LaML-shaped vendors (Twilio, SignalWire) that
// have no native client-state field on call creation.
func callbackWithState(base, state string) string {
	if state == "" {
		return base
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("client_state", state)
	u.RawQuery = q.Encode()
	return u.String()
}
