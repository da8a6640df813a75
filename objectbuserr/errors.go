// Package objectbuserr defines the error kinds surfaced across objectbus, and
// the wire-level signature encoding used for Error frames.
package objectbuserr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure. Kinds documented as user-visible are
// safe to expose in an Error frame's signature; internal-only kinds are
// logged and never cross the wire.
type Kind string

const (
	// User-visible kinds (spec.md §7).
	KindNetworkSendFailed       Kind = "network_send_failed"
	KindNetworkTimeout          Kind = "network_timeout"
	KindServiceUnknown          Kind = "service_unknown"
	KindMethodUnknown           Kind = "method_unknown"
	KindDuplicateRequestID      Kind = "duplicate_request_id"
	KindSubscriptionNotFound    Kind = "subscription_not_found"
	KindTransportListenRejected Kind = "transport_listen_rejected"
	KindNotConfigured           Kind = "not_configured"
	// KindRemote wraps an Error frame received from a peer; the peer's
	// text is preserved in Message.
	KindRemote Kind = "remote_error"

	// Internal-only kinds: logged, never propagated to a peer.
	KindUnexpectedFrameType Kind = "unexpected_frame_type"
	KindForwardSendFailed   Kind = "forward_send_failed"
)

// Error is the concrete error type carried through objectbus. It wraps an
// underlying cause (optional) with a Kind so callers can branch with
// errors.Is/As without string matching.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is (or wraps) an *Error of the same Kind, so
// errors.Is(err, &objectbuserr.Error{Kind: k}) matches any error of kind k;
// see KindOf for the common case of branching on Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind from err, if it (or something it wraps) is an
// *Error. The zero Kind is returned otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Signature returns the wire signature string used in an Error frame's
// payload for err. objectbus only ever produces the plain-message
// signature "s"; the field exists so the wire format can grow additional
// signatures (e.g. structured detail payloads) without breaking readers
// that only understand "s".
func Signature(err error) string {
	return "s"
}
