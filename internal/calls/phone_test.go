package calls

import (
	"errors"
	"testing"
)

func TestNormalizeNumber(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		err  error
	}{
		{"ten digit gets country code", "4155551234", "+14155551234", nil},
		{"eleven digit leading one", "14155551234", "+14155551234", nil},
		{"already e164 passes through", "+14155551234", "+14155551234", nil},
		{"separators stripped", "(415) 555-1234", "+14155551234", nil},
		{"dots and dashes", "415.555-1234", "+14155551234", nil},
		{"international passthrough", "+442071838750", "+442071838750", nil},
		{"empty", "", "", ErrInvalidNumber},
		{"letters", "call-me-maybe", "", ErrInvalidNumber},
		{"too short", "12345", "", ErrInvalidNumber},
		{"unprefixed international rejected", "442071838750", "", ErrInvalidNumber},
		{"plus zero prefix rejected", "+04155551234", "", ErrInvalidNumber},
		{"too long", "+1234567890123456", "", ErrInvalidNumber},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeNumber(tc.in)
			if !errors.Is(err, tc.err) {
				t.Fatalf("NormalizeNumber(%q) err = %v, want %v", tc.in, err, tc.err)
			}
			if got != tc.want {
				t.Fatalf("NormalizeNumber(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestEndpointDialTarget(t *testing.T) {
	cases := []struct {
		name string
		ep   Endpoint
		want string
		err  error
	}{
		{"sip uri passes through", Endpoint{Type: EndpointTypeSIP, Value: "sip:agent@pbx.example.com"}, "sip:agent@pbx.example.com", nil},
		{"bare sip address gets scheme", Endpoint{Type: EndpointTypeSIP, Value: "agent@pbx.example.com"}, "sip:agent@pbx.example.com", nil},
		{"sips preserved", Endpoint{Type: EndpointTypeSIP, Value: "sips:agent@pbx.example.com"}, "sips:agent@pbx.example.com", nil},
		{"extension synthesized", Endpoint{Type: EndpointTypeExtension, Value: "101", PBXHost: "pbx.example.com"}, "sip:101@pbx.example.com", nil},
		{"extension without host", Endpoint{Type: EndpointTypeExtension, Value: "101"}, "", ErrNoOutboundIdentity},
		{"phone normalized", Endpoint{Type: EndpointTypePhone, Value: "4155551234"}, "+14155551234", nil},
		{"empty sip", Endpoint{Type: EndpointTypeSIP}, "", ErrNoOutboundIdentity},
		{"unknown type", Endpoint{Type: "carrier_pigeon", Value: "coop 7"}, "", ErrNoOutboundIdentity},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.ep.DialTarget()
			if !errors.Is(err, tc.err) {
				t.Fatalf("DialTarget() err = %v, want %v", err, tc.err)
			}
			if got != tc.want {
				t.Fatalf("DialTarget() = %q, want %q", got, tc.want)
			}
		})
	}
}
