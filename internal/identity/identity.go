// Package identity canonicalizes WhatsApp sender identities. A sender is
// either a dialable phone number, normalized to digit-only E.164 form
// without the leading "+", or an opaque linked identifier (LID) that only
// resolves to a phone through the persisted mapping store.
package identity

import (
	"errors"
	"strings"
)

// LIDMarker distinguishes opaque linked identifiers from phone numbers.
const LIDMarker = "@lid"

var (
	// ErrInvalidPhone indicates the raw value cannot be normalized into a
	// canonical phone for the configured country.
	ErrInvalidPhone = errors.New("phone number cannot be normalized")
	// ErrMappingNotFound indicates an opaque identifier with no persisted
	// phone mapping. The message carrying it is unroutable.
	ErrMappingNotFound = errors.New("no phone mapping for opaque identifier")
)

// IsLID reports whether the value is an opaque linked identifier.
func IsLID(value string) bool {
	return strings.Contains(value, LIDMarker)
}

// Normalizer canonicalizes phone numbers for one country.
type Normalizer struct {
	CountryCode string
}

// NewNormalizer creates a Normalizer. An empty country code defaults to
// Brazil ("55"), matching the deployments this bridge was built for.
func NewNormalizer(countryCode string) Normalizer {
	countryCode = strings.TrimSpace(countryCode)
	if countryCode == "" {
		countryCode = "55"
	}
	return Normalizer{CountryCode: countryCode}
}

// NormalizePhone strips all non-digit characters and returns the canonical
// <country><area><subscriber> form: 12 or 13 digits for Brazil, depending
// on whether the subscriber carries the ninth digit. The operation is
// idempotent. Values shorter than 10 digits, or values that fit neither
// the prefixed nor the local shape, return ErrInvalidPhone.
func (n Normalizer) NormalizePhone(raw string) (string, error) {
	digits := digitsOnly(raw)
	if len(digits) < 10 {
		return "", ErrInvalidPhone
	}

	cc := n.CountryCode
	if strings.HasPrefix(digits, cc) && (len(digits) == len(cc)+10 || len(digits) == len(cc)+11) {
		return digits, nil
	}
	// 10/11 digits are always a local number, even when the area code
	// happens to begin with the country digits (DDD 55 exists): these
	// get the prefix exactly once. Stripping the apparent country code
	// instead would mangle every number in that area.
	if len(digits) == 10 || len(digits) == 11 {
		return cc + digits, nil
	}
	return "", ErrInvalidPhone
}

// Dialable returns the E.164 dialing form of a canonical phone.
func Dialable(phone string) string {
	if phone == "" {
		return ""
	}
	return "+" + phone
}

func digitsOnly(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
