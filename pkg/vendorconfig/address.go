package vendorconfig

import (
	"errors"
	"fmt"
	"strings"

	"github.com/synaptica-ai/vendorshape/pkg/standards"
)

var ErrInvalidAddress = errors.New("invalid configuration address")

// InvalidAddressError carries the offending token.
type InvalidAddressError struct {
	Token  string
	Reason string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid configuration address %q: %s", e.Token, e.Reason)
}

func (e *InvalidAddressError) Unwrap() error {
	return ErrInvalidAddress
}

func IsInvalidAddress(err error) bool {
	var target *InvalidAddressError
	return errors.As(err, &target)
}

// Address is the unique key of a configuration. Its string form is
// Vendor-Standard-MessageType with every component restricted to letters, digits and
// underscores; the standard component uses Standard.Token ("FHIR_R4").
type Address struct {
	Vendor      string
	Standard    standards.Standard
	MessageType string
}

// AddressFor builds an address from free-form names, replacing characters that are not
// identifier-safe with underscores ("ADT^A01" becomes "ADT_A01").
func AddressFor(vendor string, std standards.Standard, messageType string) (Address, error) {
	addr := Address{
		Vendor:      sanitize(vendor),
		Standard:    std,
		MessageType: sanitize(standards.CanonicalMessageType(messageType)),
	}
	if err := addr.Validate(); err != nil {
		return Address{}, err
	}
	return addr, nil
}

func ParseAddress(token string) (Address, error) {
	parts := strings.Split(token, "-")
	if len(parts) != 3 {
		return Address{}, &InvalidAddressError{Token: token, Reason: "expected Vendor-Standard-MessageType"}
	}
	for _, p := range parts {
		if !isIdentifier(p) {
			return Address{}, &InvalidAddressError{Token: token, Reason: fmt.Sprintf("component %q is not identifier-safe", p)}
		}
	}
	std, err := standards.ParseStandard(parts[1])
	if err != nil {
		return Address{}, &InvalidAddressError{Token: token, Reason: err.Error()}
	}
	if std.Token() != parts[1] {
		return Address{}, &InvalidAddressError{Token: token, Reason: fmt.Sprintf("standard must be written %s", std.Token())}
	}
	return Address{Vendor: parts[0], Standard: std, MessageType: parts[2]}, nil
}

func (a Address) String() string {
	return a.Vendor + "-" + a.Standard.Token() + "-" + a.MessageType
}

func (a Address) Validate() error {
	switch {
	case !isIdentifier(a.Vendor):
		return &InvalidAddressError{Token: a.String(), Reason: "vendor is not identifier-safe"}
	case a.Standard.Family() == standards.FamilyUnknown:
		return &InvalidAddressError{Token: a.String(), Reason: "unknown standard"}
	case !isIdentifier(a.MessageType):
		return &InvalidAddressError{Token: a.String(), Reason: "message type is not identifier-safe"}
	}
	return nil
}

func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) MarshalText() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	lastUnderscore := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
			b.WriteByte(c)
			lastUnderscore = c == '_'
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}
