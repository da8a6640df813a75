// Package wire defines the objectbus frame format: the in-memory Message
// struct, the little-endian binary envelope it is encoded to on a framed
// transport, and the fixed-field encodings used by the control service's
// subscription and error payloads.
package wire

import "fmt"

// Type identifies the kind of a Message.
type Type uint8

const (
	Call Type = iota + 1
	Reply
	Error
	Event
)

func (t Type) String() string {
	switch t {
	case Call:
		return "Call"
	case Reply:
		return "Reply"
	case Error:
		return "Error"
	case Event:
		return "Event"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Reserved identifiers from spec.md §6.
const (
	// ServerService is the reserved service id for the in-band control
	// service (subscription registration lives here).
	ServerService uint32 = 0

	// Main is the only path used by the core.
	Main uint32 = 1

	// Function ids reserved under ServerService.
	FunctionRegisterEvent   uint32 = 1
	FunctionUnregisterEvent uint32 = 2
	// FunctionAuthenticate carries a bearer token as its raw payload; see
	// the auth package and broker.AuthHook.
	FunctionAuthenticate uint32 = 3
)

// Message is a single frame, in memory. Buffer is opaque to everything
// below the service-object layer; the wire package interprets it only for
// the control service's fixed fields.
type Message struct {
	ID       uint32
	Type     Type
	Service  uint32
	Path     uint32
	Function uint32
	Buffer   []byte
}

// BuildReplyFrom copies id/service/path/function from a request and sets
// the type to Reply, per spec.md §4.1.
func BuildReplyFrom(req *Message, payload []byte) *Message {
	return &Message{
		ID:       req.ID,
		Type:     Reply,
		Service:  req.Service,
		Path:     req.Path,
		Function: req.Function,
		Buffer:   payload,
	}
}

// BuildErrorFrom copies id/service/path/function from a request and sets
// the type to Error, with payload built from EncodeError.
func BuildErrorFrom(req *Message, signature string, details []byte) *Message {
	return &Message{
		ID:       req.ID,
		Type:     Error,
		Service:  req.Service,
		Path:     req.Path,
		Function: req.Function,
		Buffer:   EncodeError(signature, details),
	}
}
