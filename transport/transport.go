// Package transport defines the narrow framed-stream abstraction that the
// session broker and remote object depend on (spec.md §4.1, §6). The core
// never parses a URL or touches a net.Conn directly; transport/tcp is the
// one concrete implementation provided for running and testing the rest of
// the module.
package transport

import "context"

// ReadID opaquely identifies one received frame within a Socket, in the
// order the transport delivered it. It is meaningless across sockets.
type ReadID uint64

// Socket is one bidirectional framed connection, client- or server-side.
// Its lifetime is owned by whoever obtained it (Dial's caller, or the
// broker for sockets it accepted via OnNewConnection).
type Socket interface {
	// Send enqueues msg for delivery. It returns false if the connection is
	// down or the write fails outright; it never blocks on congestion
	// beyond what the underlying stream does.
	Send(msg *Frame) bool

	// Read retrieves a previously-signaled frame by its ReadID. Callers
	// obtain id from an OnReadyRead callback, and must call Read from
	// within that callback: implementations release a frame once every
	// sink registered at delivery time has been notified, so an id read
	// after OnReadyRead returns is not guaranteed to still resolve.
	Read(id ReadID) (*Frame, bool)

	// AddCallbacks registers sink to receive this socket's callbacks.
	// RemoveCallbacks deregisters a previously-added sink. Both are
	// idempotent.
	AddCallbacks(sink CallbackSink)
	RemoveCallbacks(sink CallbackSink)

	// Close tears down the connection. It is safe to call more than once.
	Close() error

	// RemoteEndpoint describes the peer, for logging.
	RemoteEndpoint() string
}

// Frame is the transport-level envelope: already-encoded bytes. Callers
// above this package encode/decode with package wire; transport never
// interprets the payload.
type Frame struct {
	Bytes []byte
}

// CallbackSink receives a Socket's lifecycle and read-ready events. All
// three methods may be invoked concurrently across distinct sockets, but
// are serialized per socket (spec.md §5).
//
// OnTimeout's id is the originating request id assigned by the sender
// (wire.Message.ID), not a ReadID -- a transport that tracks per-request
// deadlines signals timeout in the same id space the caller used to send
// the request, per spec.md §4.2.
type CallbackSink interface {
	OnReadyRead(id ReadID)
	OnDisconnected()
	OnTimeout(requestID uint32)
}

// Server accepts incoming Sockets on a listen URL.
type Server interface {
	// Listen binds url and starts accepting. It returns false (never an
	// error) on bind failure, per spec.md §4.3's register_service contract
	// of returning booleans rather than raising.
	Listen(ctx context.Context, url string) bool

	// OnNewConnection is invoked once per accepted Socket.
	OnNewConnection(fn func(Socket))

	// Endpoints lists the concrete addresses this server is reachable at.
	Endpoints() []string

	// ListenURL is the URL the server is accepting on, once Listen has
	// succeeded. It may differ from the URL Listen was called with:
	// transport/tcp reports the bound address, so a port of 0 is replaced
	// by the port actually bound.
	ListenURL() string

	// Close stops accepting and closes the listener. It does not close
	// sockets already handed to OnNewConnection; the caller owns those.
	Close() error
}

// Dialer connects to a remote Server.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}
