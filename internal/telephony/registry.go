package telephony

import (
	"callhelm/internal/config"
)

// Registry resolves the provider for a call. The deployment-time active
// provider is the default; "mock" is the only per-request override honored.
type Registry struct {
	active    Provider
	mock      *MockProvider
	allowMock bool
}

// NewRegistry builds the active provider from config plus a mock that is
// selectable per-request outside production.
func NewRegistry(cfg config.TelephonyConfig, allowMock bool) *Registry {
	var active Provider
	switch cfg.ActiveProvider {
	case "telnyx":
		active = NewTelnyxProvider(cfg.Telnyx)
	case "twilio":
		active = NewTwilioProvider(cfg.Twilio)
	case "signalwire":
		active = NewSignalWireProvider(cfg.SignalWire)
	default:
		active = NewMockProvider()
	}
	return &Registry{active: active, mock: NewMockProvider(), allowMock: allowMock}
}

// Resolve returns the provider for the requested override. Any override other
// than "mock" (or empty) falls back to the active provider; vendor choice is
// not a runtime per-call decision.
func (r *Registry) Resolve(override string) Provider {
	if override == "mock" && r.allowMock {
		return r.mock
	}
	return r.active
}

func (r *Registry) Active() Provider { return r.active }
