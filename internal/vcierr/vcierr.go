// Package vcierr defines the error taxonomy of spec.md §7, mapped onto a
// small typed error rather than the source's loose exception hierarchy.
package vcierr

import (
	"errors"
	"fmt"
)

// Kind enumerates the categories of failure the core surfaces to callers.
type Kind int

const (
	KindNotConnected Kind = iota
	KindTimeout
	KindProtocolFraming
	KindBus
	KindUdsNegative
	KindSecurityDenied
	KindInvalidKey
	KindUnsupported
	KindTransportIO
)

func (k Kind) String() string {
	switch k {
	case KindNotConnected:
		return "not_connected"
	case KindTimeout:
		return "timeout"
	case KindProtocolFraming:
		return "protocol_framing"
	case KindBus:
		return "bus"
	case KindUdsNegative:
		return "uds_negative"
	case KindSecurityDenied:
		return "security_denied"
	case KindInvalidKey:
		return "invalid_key"
	case KindUnsupported:
		return "unsupported"
	case KindTransportIO:
		return "transport_io"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-tagged error. NRC and Address are populated when
// relevant (KindUdsNegative, KindSecurityDenied, KindInvalidKey).
type Error struct {
	Kind    Kind
	NRC     byte // set when the error was built from a UDS negative response
	Address uint16
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vcierr[%s]: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("vcierr[%s]: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err is, or wraps, a *Error of the given kind (used
// by callers that only care about the category, not the message).
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
