// Package msgid classifies raw message identifiers.
//
// Upstream systems expose three non-interoperable identifier spaces
// for the same logical email: the provider's own API message id (16
// hex characters), the id embedded in web UI URLs (32 characters, a
// different space entirely), and the RFC 2822 Message-ID header.
// Classification is a pure function of the string's shape, never of
// where it came from.
package msgid

import (
	"strings"

	"github.com/pkg/errors"
)

// Kind is the identifier space a raw string belongs to.
type Kind int

const (
	// KindInvalid means the string matches no known identifier
	// shape.
	KindInvalid Kind = iota

	// KindAPIID is a provider API message id: 16 hex characters,
	// directly fetchable.
	KindAPIID

	// KindHeader is an RFC 2822 Message-ID header value, resolved
	// through a provider search.
	KindHeader

	// KindURLID is a 32 character web URL id.  This space is
	// disjoint from the API id space and cannot be fetched.
	KindURLID
)

func (k Kind) String() string {
	switch k {
	case KindAPIID:
		return "api-id"
	case KindHeader:
		return "message-id-header"
	case KindURLID:
		return "url-id"
	}
	return "invalid"
}

// ErrInvalidFormat is returned when a raw string matches no known
// identifier shape.
var ErrInvalidFormat = errors.New("unrecognized message identifier format")

const apiIDLen = 16

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// Classify determines which identifier space raw belongs to.  The
// checks run in a fixed order and the first match wins: API id, then
// Message-ID header, then URL id.
func Classify(raw string) (Kind, error) {
	s := strings.TrimSpace(raw)
	switch {
	case len(s) == apiIDLen && isHex(s):
		return KindAPIID, nil
	case strings.Contains(s, "@"):
		return KindHeader, nil
	case len(s) == 32:
		return KindURLID, nil
	}
	return KindInvalid, errors.Wrapf(ErrInvalidFormat, "classify %q", s)
}
