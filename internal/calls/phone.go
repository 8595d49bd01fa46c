package calls

import (
	"regexp"
	"strings"
)

// e164Pattern is the final gate every dialable number must pass.
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// NormalizeNumber converts a free-form phone number to E.164.
//
// Rules:
// - separators (spaces, dashes, dots, parens) are stripped
// - a bare 10-digit number is assumed domestic and prefixed with +1
// - an 11-digit number starting with 1 gets a leading +
// - any other unprefixed digit string is rejected
// - input already starting with + passes through unformatted
// - everything must pass the final E.164 check or ErrInvalidNumber is returned
func NormalizeNumber(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrInvalidNumber
	}

	var candidate string
	if strings.HasPrefix(s, "+") {
		candidate = s
	} else {
		digits := stripNonDigits(s)
		switch {
		case len(digits) == 10:
			candidate = "+1" + digits
		case len(digits) == 11 && digits[0] == '1':
			candidate = "+" + digits
		default:
			// Without a + prefix there is no way to tell which country an
			// arbitrary digit string belongs to; only the domestic shapes
			// above are assumed.
			return "", ErrInvalidNumber
		}
	}

	if !e164Pattern.MatchString(candidate) {
		return "", ErrInvalidNumber
	}
	return candidate, nil
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DialTarget resolves an agent endpoint to something a vendor can dial.
func (e Endpoint) DialTarget() (string, error) {
	switch e.Type {
	case EndpointTypeSIP:
		v := strings.TrimSpace(e.Value)
		if v == "" {
			return "", ErrNoOutboundIdentity
		}
		if !strings.HasPrefix(v, "sip:") && !strings.HasPrefix(v, "sips:") {
			v = "sip:" + v
		}
		return v, nil
	case EndpointTypeExtension:
		// Only an extension on file: synthesize a SIP URI against the PBX.
		ext := strings.TrimSpace(e.Value)
		host := strings.TrimSpace(e.PBXHost)
		if ext == "" || host == "" {
			return "", ErrNoOutboundIdentity
		}
		return "sip:" + ext + "@" + host, nil
	case EndpointTypePhone:
		return NormalizeNumber(e.Value)
	default:
		return "", ErrNoOutboundIdentity
	}
}
