// Package remoteobject implements the client-side stub described in
// spec.md §4.2: it turns local method invocations into framed requests,
// correlates replies with outstanding completions, and dispatches
// incoming event frames to local subscribers.
package remoteobject

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/objectbus/objectbus/objectbuserr"
	"github.com/objectbus/objectbus/serviceobject"
	"github.com/objectbus/objectbus/transport"
	"github.com/objectbus/objectbus/wire"
)

// Object is the client-side mirror of one remote service. It implements
// serviceobject.Object so it can be used anywhere a local service object
// is expected (e.g. to compose higher-level clients).
type Object struct {
	serviceobject.Base

	socket    transport.Socket
	serviceID uint32
	ids       wire.IDGenerator
	log       *slog.Logger

	methods map[uint32]serviceobject.MethodInfo

	mu      sync.Mutex
	pending map[uint32]serviceobject.Completion
}

// Option configures an Object.
type Option func(*Object)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Object) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMethodInfo seeds name/signature metadata used in error messages
// (spec.md §4.2's "include its signature when resolvable").
func WithMethodInfo(methods map[uint32]serviceobject.MethodInfo) Option {
	return func(o *Object) { o.methods = methods }
}

// New constructs an Object bound to socket for serviceID, and registers
// itself as the socket's callback sink.
func New(socket transport.Socket, serviceID uint32, opts ...Option) *Object {
	o := &Object{
		socket:    socket,
		serviceID: serviceID,
		log:       slog.Default(),
		methods:   map[uint32]serviceobject.MethodInfo{},
		pending:   make(map[uint32]serviceobject.Completion),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	socket.AddCallbacks(o)
	return o
}

// Close deregisters the callback sink. It does not close the socket; the
// caller owns it (spec.md §3's ownership rules).
func (o *Object) Close() {
	o.socket.RemoveCallbacks(o)
}

func (o *Object) methodSignature(function uint32) string {
	if info, ok := o.methods[function]; ok {
		return fmt.Sprintf("%s(%s)", info.Name, info.Signature)
	}
	return fmt.Sprintf("function id %d", function)
}

// MetaCall implements serviceobject.Object and spec.md §4.2's meta_call.
// mode is accepted for interface conformance; a remote call is always
// asynchronous from the caller's perspective regardless of mode.
func (o *Object) MetaCall(ctx context.Context, function uint32, params []byte, completion serviceobject.Completion, mode serviceobject.CallMode) {
	id := o.ids.Next()
	req := &wire.Message{ID: id, Type: wire.Call, Service: o.serviceID, Path: wire.Main, Function: function, Buffer: params}

	o.mu.Lock()
	if _, exists := o.pending[id]; exists {
		o.mu.Unlock()
		// spec.md §9: id collision is a hard contract violation. Fail the
		// new request and leave whatever is already pending untouched.
		completion.Fail(objectbuserr.New(objectbuserr.KindDuplicateRequestID, "request id %d already pending", id))
		return
	}
	o.pending[id] = completion
	o.mu.Unlock()

	if !o.socket.Send(&transport.Frame{Bytes: wire.EncodeFrame(req)}) {
		o.mu.Lock()
		delete(o.pending, id)
		o.mu.Unlock()
		completion.Fail(objectbuserr.New(objectbuserr.KindNetworkSendFailed, "failed to send call to %s", o.methodSignature(function)))
		return
	}
}

// Call is a synchronous convenience wrapper over MetaCall that blocks
// until a reply, error, or ctx cancellation, treating the latter as a
// spec.md §5-style terminal timeout for this request.
func (o *Object) Call(ctx context.Context, function uint32, params []byte) ([]byte, error) {
	resultCh := make(chan []byte, 1)
	errCh := make(chan error, 1)

	o.MetaCall(ctx, function, params, serviceobject.CompletionFuncs{
		OnSuccess: func(payload []byte) { resultCh <- payload },
		OnFail:    func(err error) { errCh <- err },
	}, serviceobject.Direct)

	select {
	case payload := <-resultCh:
		return payload, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, objectbuserr.Wrap(objectbuserr.KindNetworkTimeout, ctx.Err(), "network timeout")
	}
}

// MetaEmit implements serviceobject.Object and spec.md §4.2's meta_emit:
// fire-and-forget, the peer is expected to echo it back as an Event frame
// if anyone locally is subscribed. Local subscribers are deliberately not
// invoked here.
func (o *Object) MetaEmit(ctx context.Context, function uint32, params []byte) {
	frame := &wire.Message{ID: o.ids.Next(), Type: wire.Event, Service: o.serviceID, Path: wire.Main, Function: function, Buffer: params}
	if !o.socket.Send(&transport.Frame{Bytes: wire.EncodeFrame(frame)}) {
		o.log.Error("remoteobject.emit_send_failed", slog.Uint64("function", uint64(function)))
	}
}

// Connect implements serviceobject.Object and spec.md §4.2's connect:
// register locally, then notify the peer broker so it starts forwarding.
// The link id is returned immediately, independent of the peer's
// acknowledgement.
func (o *Object) Connect(event uint32, subscriber serviceobject.Subscriber) uint32 {
	linkID := o.Base.Connect(event, subscriber)

	req := &wire.Message{
		ID:       o.ids.Next(),
		Type:     wire.Event,
		Service:  wire.ServerService,
		Path:     wire.Main,
		Function: wire.FunctionRegisterEvent,
		Buffer:   wire.EncodeSubscription(o.serviceID, event, linkID),
	}
	if !o.socket.Send(&transport.Frame{Bytes: wire.EncodeFrame(req)}) {
		o.log.Error("remoteobject.register_event_send_failed", slog.Uint64("event", uint64(event)))
	}
	return linkID
}

// Disconnect implements serviceobject.Object and spec.md §4.2's
// disconnect: find the event this link belongs to, remove it locally,
// and if that succeeded, notify the peer.
func (o *Object) Disconnect(linkID uint32) bool {
	event, found := o.Base.EventOf(linkID)
	if !found {
		return false
	}
	if !o.Base.Disconnect(linkID) {
		return false
	}

	req := &wire.Message{
		ID:       o.ids.Next(),
		Type:     wire.Event,
		Service:  wire.ServerService,
		Path:     wire.Main,
		Function: wire.FunctionUnregisterEvent,
		Buffer:   wire.EncodeSubscription(o.serviceID, event, linkID),
	}
	if !o.socket.Send(&transport.Frame{Bytes: wire.EncodeFrame(req)}) {
		o.log.Error("remoteobject.unregister_event_send_failed", slog.Uint64("event", uint64(event)))
	}
	return true
}

// MetaObject implements serviceobject.Object.
func (o *Object) MetaObject() map[uint32]serviceobject.MethodInfo {
	out := make(map[uint32]serviceobject.MethodInfo, len(o.methods))
	for id, info := range o.methods {
		out[id] = info
	}
	return out
}

// OnReadyRead implements transport.CallbackSink, per spec.md §4.2.
func (o *Object) OnReadyRead(id transport.ReadID) {
	frame, ok := o.socket.Read(id)
	if !ok {
		return
	}
	msg, _, err := wire.DecodeFrame(frame.Bytes)
	if err != nil {
		o.log.Error("remoteobject.decode_failed", slog.String("err", err.Error()))
		return
	}

	switch msg.Type {
	case wire.Reply:
		o.resolve(msg.ID, func(c serviceobject.Completion) { c.Success(msg.Buffer) })
	case wire.Error:
		sig, details, derr := wire.DecodeError(msg.Buffer)
		if derr != nil {
			o.log.Error("remoteobject.decode_error_payload_failed", slog.String("err", derr.Error()))
			sig, details = "s", []byte(derr.Error())
		}
		o.resolve(msg.ID, func(c serviceobject.Completion) {
			c.Fail(objectbuserr.New(objectbuserr.KindRemote, "%s: %s", sig, string(details)))
		})
	case wire.Event:
		o.Base.Emit(msg.Function, msg.Buffer)
	default:
		o.log.Error("remoteobject.unexpected_frame_type", slog.String("type", msg.Type.String()))
	}
}

func (o *Object) resolve(id uint32, apply func(serviceobject.Completion)) {
	o.mu.Lock()
	completion, ok := o.pending[id]
	if ok {
		delete(o.pending, id)
	}
	o.mu.Unlock()

	if !ok {
		o.log.Error("remoteobject.no_pending_completion", slog.Uint64("id", uint64(id)))
		return
	}
	apply(completion)
}

// OnTimeout implements transport.CallbackSink, per spec.md §4.2's
// on_timeout: the transport signals timeout for a specific outstanding
// request id.
func (o *Object) OnTimeout(requestID uint32) {
	o.resolve(requestID, func(c serviceobject.Completion) {
		c.Fail(objectbuserr.New(objectbuserr.KindNetworkTimeout, "network timeout"))
	})
}

// OnDisconnected implements transport.CallbackSink, per spec.md §4.2: fail
// every pending completion with a terminal network error and clear the
// map.
func (o *Object) OnDisconnected() {
	o.mu.Lock()
	pending := o.pending
	o.pending = make(map[uint32]serviceobject.Completion)
	o.mu.Unlock()

	for _, completion := range pending {
		completion.Fail(objectbuserr.New(objectbuserr.KindNetworkTimeout, "connection closed"))
	}
}

// PendingCount reports the number of outstanding completions, for tests.
func (o *Object) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}
