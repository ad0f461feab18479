// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors returned by the decoders. Callers match them with errors.Is.
var (
	// IPv4 header stage
	ErrTruncatedHeader    = errors.New("igmpmon: truncated ip header")
	ErrInvalidLength      = errors.New("igmpmon: invalid ip length")
	ErrUnsupportedVersion = errors.New("igmpmon: unsupported ip version")
	ErrPayloadTooLarge    = errors.New("igmpmon: ip payload exceeds configured maximum")

	// IGMP stage
	ErrTruncatedPayload     = errors.New("igmpmon: truncated igmp payload")
	ErrTruncatedGroupRecord = errors.New("igmpmon: truncated igmpv3 group record")
	ErrUnknownIGMPVersion   = errors.New("igmpmon: unknown igmp version")

	// Configuration errors
	ErrConfigInvalid = errors.New("igmpmon: invalid configuration")

	// Capture errors
	ErrSourceNotStarted = errors.New("igmpmon: capture source not started")
	ErrSourceNotFound   = errors.New("igmpmon: capture source not found")
	ErrReadTimeout      = errors.New("igmpmon: capture read timeout")
	ErrSinkNotFound     = errors.New("igmpmon: sink not found")
)

// ErrorKind returns a short stable name for a decode error, suitable as a
// metric label. Errors that are not decode errors map to "other".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTruncatedHeader):
		return "truncated_header"
	case errors.Is(err, ErrInvalidLength):
		return "invalid_length"
	case errors.Is(err, ErrUnsupportedVersion):
		return "unsupported_version"
	case errors.Is(err, ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, ErrTruncatedGroupRecord):
		return "truncated_group_record"
	case errors.Is(err, ErrTruncatedPayload):
		return "truncated_payload"
	case errors.Is(err, ErrUnknownIGMPVersion):
		return "unknown_igmp_version"
	default:
		return "other"
	}
}
