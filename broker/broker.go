// Package broker implements the session broker from spec.md §4.3: it
// accepts connections, dispatches incoming frames to locally registered
// service objects, brokers event subscriptions, and forwards local events
// to remote subscribers.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/objectbus/objectbus/directory"
	"github.com/objectbus/objectbus/objectbuserr"
	"github.com/objectbus/objectbus/serviceobject"
	"github.com/objectbus/objectbus/transport"
	"github.com/objectbus/objectbus/wire"
	"github.com/objectbus/objectbus/workerpool"
)

// RemoteLink pairs a client's wire-visible remote_link_id with the local
// subscription it caused, per spec.md §3.
type RemoteLink struct {
	LocalLinkID uint32
	EventID     uint32
}

// AuthHook validates the bearer token a client sends in its first
// FunctionAuthenticate frame. A non-nil error rejects the connection: every
// subsequent frame other than another authentication attempt is refused.
// This implements spec.md §1's "authentication flow (noted as a pluggable
// hook)"; see package auth for concrete hooks grounded on JWT/OIDC.
type AuthHook func(ctx context.Context, token string) error

// Broker is the session broker.
type Broker struct {
	log        *slog.Logger
	authHook   AuthHook
	workerPool *workerpool.Pool
	directory  directory.Client
	machineID  string
	ids        wire.IDGenerator

	server transport.Server

	connMu  sync.Mutex
	clients map[transport.Socket]*connSink
	links   map[transport.Socket]map[uint32]map[uint32]RemoteLink
	dying   bool

	servicesMu      sync.RWMutex
	services        map[uint32]serviceobject.Object
	nameToID        map[string]uint32
	idToName        map[uint32]string
	nameToInfo      map[string]directory.ServiceInfo
	pendingByObject map[serviceobject.Object]directory.ServiceInfo
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) {
		if l != nil {
			b.log = l
		}
	}
}

// WithAuthHook installs a connection-authentication hook.
func WithAuthHook(hook AuthHook) Option {
	return func(b *Broker) { b.authHook = hook }
}

// WithWorkerPool overrides the default worker pool used to run Queued
// service-method calls.
func WithWorkerPool(p *workerpool.Pool) Option {
	return func(b *Broker) {
		if p != nil {
			b.workerPool = p
		}
	}
}

// WithMachineID overrides the machine id reported in ServiceInfo.
func WithMachineID(id string) Option {
	return func(b *Broker) {
		if id != "" {
			b.machineID = id
		}
	}
}

// New constructs a Broker over server, registering itself for new
// connections, using directoryClient to register/unregister services.
func New(server transport.Server, directoryClient directory.Client, opts ...Option) *Broker {
	b := &Broker{
		log:             slog.Default(),
		workerPool:      workerpool.New(workerpool.DefaultConfig()),
		directory:       directoryClient,
		machineID:       uuid.NewString(),
		server:          server,
		clients:         make(map[transport.Socket]*connSink),
		links:           make(map[transport.Socket]map[uint32]map[uint32]RemoteLink),
		services:        make(map[uint32]serviceobject.Object),
		nameToID:        make(map[string]uint32),
		idToName:        make(map[uint32]string),
		nameToInfo:      make(map[string]directory.ServiceInfo),
		pendingByObject: make(map[serviceobject.Object]directory.ServiceInfo),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	server.OnNewConnection(b.onNewConnection)
	return b
}

// Listen binds url, per spec.md §4.3. It returns false on bind failure;
// scheme rejection ("only TCP URLs") is enforced by the transport.Server
// implementation.
func (b *Broker) Listen(ctx context.Context, url string) bool {
	return b.server.Listen(ctx, url)
}

// ListenURL returns the URL the broker is accepting on.
func (b *Broker) ListenURL() string { return b.server.ListenURL() }

// Close tears the broker down: sets dying first so reentrant disconnect
// callbacks short-circuit (spec.md §9), then deregisters and closes every
// accepted socket, then closes the listener.
func (b *Broker) Close() error {
	b.connMu.Lock()
	b.dying = true
	sinks := make(map[transport.Socket]*connSink, len(b.clients))
	for s, sink := range b.clients {
		sinks[s] = sink
	}
	b.clients = make(map[transport.Socket]*connSink)
	b.links = make(map[transport.Socket]map[uint32]map[uint32]RemoteLink)
	b.connMu.Unlock()

	for s, sink := range sinks {
		s.RemoveCallbacks(sink)
		s.Close()
	}
	return b.server.Close()
}

// RegisterService registers object under name, returning a Future that
// resolves to the assigned service id once the directory answers.
func (b *Broker) RegisterService(ctx context.Context, name string, object serviceobject.Object) *Future {
	if b.directory == nil {
		return failedFuture(objectbuserr.New(objectbuserr.KindNotConfigured, "no directory client configured"))
	}
	endpoints := b.server.Endpoints()
	if len(endpoints) == 0 {
		return failedFuture(objectbuserr.New(objectbuserr.KindNotConfigured, "no transport endpoint available"))
	}

	info := directory.ServiceInfo{Name: name, PID: os.Getpid(), MachineID: b.machineID, Endpoints: endpoints}

	b.servicesMu.Lock()
	b.pendingByObject[object] = info
	b.servicesMu.Unlock()

	future := newFuture()
	go func() {
		id, err := b.directory.Register(ctx, info)
		if err != nil {
			b.servicesMu.Lock()
			delete(b.pendingByObject, object)
			b.servicesMu.Unlock()
			future.resolve(0, err)
			return
		}
		b.onRegisterSucceeded(ctx, id, object, info)
		future.resolve(id, nil)
	}()
	return future
}

func (b *Broker) onRegisterSucceeded(ctx context.Context, id uint32, object serviceobject.Object, info directory.ServiceInfo) {
	b.servicesMu.Lock()
	if _, stillPending := b.pendingByObject[object]; !stillPending {
		b.servicesMu.Unlock()
		return
	}
	delete(b.pendingByObject, object)
	b.services[id] = object
	b.nameToID[info.Name] = id
	b.idToName[id] = info.Name
	b.nameToInfo[info.Name] = info
	b.servicesMu.Unlock()

	if err := b.directory.ServiceReady(ctx, id); err != nil {
		b.log.ErrorContext(ctx, "broker.service_ready_failed", slog.String("name", info.Name), slog.String("err", err.Error()))
	}
}

// UnregisterService removes id's registration, per spec.md §4.3: the
// directory call is the source of truth and happens first; local cleanup
// is best-effort and happens regardless of its outcome.
func (b *Broker) UnregisterService(ctx context.Context, id uint32) *Future {
	future := newFuture()
	go func() {
		err := b.directory.Unregister(ctx, id)

		b.servicesMu.Lock()
		name, hadName := b.idToName[id]
		delete(b.idToName, id)
		delete(b.services, id)
		if hadName {
			delete(b.nameToID, name)
			delete(b.nameToInfo, name)
		}
		b.servicesMu.Unlock()

		future.resolve(0, err)
	}()
	return future
}

// RegisteredServices returns every currently live ServiceInfo.
func (b *Broker) RegisteredServices() []directory.ServiceInfo {
	b.servicesMu.RLock()
	defer b.servicesMu.RUnlock()
	out := make([]directory.ServiceInfo, 0, len(b.nameToInfo))
	for _, info := range b.nameToInfo {
		out = append(out, info)
	}
	return out
}

// RegisteredService looks up a service's info by name.
func (b *Broker) RegisteredService(name string) (directory.ServiceInfo, bool) {
	b.servicesMu.RLock()
	defer b.servicesMu.RUnlock()
	info, ok := b.nameToInfo[name]
	return info, ok
}

// RegisteredServiceObject looks up a service's object by name.
func (b *Broker) RegisteredServiceObject(name string) (serviceobject.Object, bool) {
	b.servicesMu.RLock()
	defer b.servicesMu.RUnlock()
	id, ok := b.nameToID[name]
	if !ok {
		return nil, false
	}
	object, ok := b.services[id]
	return object, ok
}

// connSink adapts a Broker to transport.CallbackSink for one Socket. When
// the broker has an AuthHook configured, a freshly accepted connection
// starts unauthenticated and every frame besides FunctionAuthenticate is
// refused until it succeeds.
type connSink struct {
	broker        *Broker
	socket        transport.Socket
	authenticated atomic.Bool
}

func (s *connSink) OnReadyRead(id transport.ReadID) { s.broker.onReadyRead(s, id) }
func (s *connSink) OnDisconnected()                 { s.broker.onDisconnected(s.socket, s) }
func (s *connSink) OnTimeout(requestID uint32)      {} // the broker never originates requests that await a reply

func (b *Broker) onNewConnection(socket transport.Socket) {
	sink := &connSink{broker: b, socket: socket}
	sink.authenticated.Store(b.authHook == nil)

	b.connMu.Lock()
	if b.dying {
		b.connMu.Unlock()
		socket.Close()
		return
	}
	b.clients[socket] = sink
	b.connMu.Unlock()

	socket.AddCallbacks(sink)
}

func (b *Broker) onDisconnected(socket transport.Socket, sink *connSink) {
	b.connMu.Lock()
	if b.dying {
		b.connMu.Unlock()
		return
	}
	delete(b.clients, socket)
	linksForSocket := b.links[socket]
	delete(b.links, socket)
	b.connMu.Unlock()

	for serviceID, remoteLinks := range linksForSocket {
		b.servicesMu.RLock()
		object, ok := b.services[serviceID]
		b.servicesMu.RUnlock()
		if !ok {
			continue
		}
		for _, link := range remoteLinks {
			object.Disconnect(link.LocalLinkID)
		}
	}

	socket.RemoveCallbacks(sink)
	socket.Close()
}

func (b *Broker) onReadyRead(sink *connSink, id transport.ReadID) {
	socket := sink.socket
	frame, ok := socket.Read(id)
	if !ok {
		return
	}
	msg, _, err := wire.DecodeFrame(frame.Bytes)
	if err != nil {
		b.log.Error("broker.decode_failed", slog.String("err", err.Error()))
		return
	}

	if msg.Service == wire.ServerService && msg.Function == wire.FunctionAuthenticate {
		b.handleAuthenticate(sink, msg)
		return
	}

	if b.authHook != nil && !sink.authenticated.Load() {
		if msg.Type == wire.Call {
			b.sendFrame(socket, wire.BuildErrorFrom(msg, "s", []byte("authentication required")))
		}
		return
	}

	if msg.Service == wire.ServerService {
		b.handleControl(context.Background(), socket, msg)
		return
	}
	b.dispatchToService(context.Background(), socket, msg)
}

// handleAuthenticate validates the bearer token carried in msg.Buffer
// against the configured AuthHook, per spec.md §1. With no hook configured
// every connection is already authenticated and this just acknowledges.
func (b *Broker) handleAuthenticate(sink *connSink, msg *wire.Message) {
	if b.authHook == nil {
		sink.authenticated.Store(true)
		if msg.Type == wire.Call {
			b.sendFrame(sink.socket, wire.BuildReplyFrom(msg, nil))
		}
		return
	}

	if err := b.authHook(context.Background(), string(msg.Buffer)); err != nil {
		b.log.WarnContext(context.Background(), "broker.auth_rejected",
			slog.String("remote", sink.socket.RemoteEndpoint()), slog.String("err", err.Error()))
		if msg.Type == wire.Call {
			b.sendFrame(sink.socket, wire.BuildErrorFrom(msg, "s", []byte("authentication failed")))
		}
		return
	}

	sink.authenticated.Store(true)
	if msg.Type == wire.Call {
		b.sendFrame(sink.socket, wire.BuildReplyFrom(msg, nil))
	}
}

func (b *Broker) sendFrame(socket transport.Socket, msg *wire.Message) {
	socket.Send(&transport.Frame{Bytes: wire.EncodeFrame(msg)})
}

func (b *Broker) handleControl(ctx context.Context, socket transport.Socket, msg *wire.Message) {
	if msg.Type != wire.Call && msg.Type != wire.Event {
		b.log.Error("broker.control.unexpected_frame_type", slog.String("type", msg.Type.String()))
		return
	}

	if msg.Function != wire.FunctionRegisterEvent && msg.Function != wire.FunctionUnregisterEvent {
		if msg.Type == wire.Call {
			b.sendFrame(socket, wire.BuildErrorFrom(msg, "s", []byte("Server service only handles call/emit")))
		}
		return
	}

	targetService, event, remoteLinkID, err := wire.DecodeSubscription(msg.Buffer)
	if err != nil {
		b.log.Error("broker.control.decode_failed", slog.String("err", err.Error()))
		return
	}

	b.servicesMu.RLock()
	object, found := b.services[targetService]
	b.servicesMu.RUnlock()
	if !found {
		if msg.Type == wire.Call {
			b.sendFrame(socket, wire.BuildErrorFrom(msg, "s", []byte("Service not found")))
		}
		return
	}

	switch msg.Function {
	case wire.FunctionRegisterEvent:
		b.handleRegisterEvent(socket, msg, object, targetService, event, remoteLinkID)
	case wire.FunctionUnregisterEvent:
		b.handleUnregisterEvent(socket, msg, targetService, remoteLinkID)
	}
}

func (b *Broker) handleRegisterEvent(socket transport.Socket, msg *wire.Message, object serviceobject.Object, serviceID, event, remoteLinkID uint32) {
	forwarder := func(params []byte) {
		out := &wire.Message{ID: b.ids.Next(), Type: wire.Event, Service: serviceID, Path: wire.Main, Function: event, Buffer: params}
		if !socket.Send(&transport.Frame{Bytes: wire.EncodeFrame(out)}) {
			b.log.Error("broker.forward_send_failed",
				slog.Uint64("service", uint64(serviceID)), slog.Uint64("event", uint64(event)))
		}
	}
	localLinkID := object.Connect(event, forwarder)

	b.connMu.Lock()
	if b.links[socket] == nil {
		b.links[socket] = make(map[uint32]map[uint32]RemoteLink)
	}
	if b.links[socket][serviceID] == nil {
		b.links[socket][serviceID] = make(map[uint32]RemoteLink)
	}
	b.links[socket][serviceID][remoteLinkID] = RemoteLink{LocalLinkID: localLinkID, EventID: event}
	b.connMu.Unlock()

	if msg.Type == wire.Call {
		b.sendFrame(socket, wire.BuildReplyFrom(msg, wire.EncodeLinkID(localLinkID)))
	}
}

func (b *Broker) handleUnregisterEvent(socket transport.Socket, msg *wire.Message, serviceID, remoteLinkID uint32) {
	var localLinkID uint32
	var found bool

	b.connMu.Lock()
	if byService, ok := b.links[socket]; ok {
		if link, ok2 := byService[serviceID][remoteLinkID]; ok2 {
			localLinkID, found = link.LocalLinkID, true
			delete(byService[serviceID], remoteLinkID)
		}
	}
	b.connMu.Unlock()

	if found {
		b.servicesMu.RLock()
		object, ok := b.services[serviceID]
		b.servicesMu.RUnlock()
		if ok {
			object.Disconnect(localLinkID)
		}
	}

	if msg.Type == wire.Call {
		// spec.md §9: observed behavior sends true iff the remote link was
		// NOT found; preserved as-is, flagged as a suspected inverted
		// polarity for the implementer to confirm against the peer.
		b.sendFrame(socket, wire.BuildReplyFrom(msg, wire.EncodeMissing(!found)))
	}
}

func (b *Broker) dispatchToService(ctx context.Context, socket transport.Socket, msg *wire.Message) {
	b.servicesMu.RLock()
	object, found := b.services[msg.Service]
	b.servicesMu.RUnlock()

	if !found {
		if msg.Type == wire.Call {
			b.sendFrame(socket, wire.BuildErrorFrom(msg, "s", []byte(fmt.Sprintf("can't find service id: %d", msg.Service))))
		}
		return
	}

	switch msg.Type {
	case wire.Call:
		completion := &replyCompletion{socket: socket, req: msg}
		scheduled := b.workerPool.Schedule(func() {
			object.MetaCall(ctx, msg.Function, msg.Buffer, completion, serviceobject.Queued)
		})
		if !scheduled {
			completion.Fail(objectbuserr.New(objectbuserr.KindNotConfigured, "worker pool is closed"))
		}
	case wire.Event:
		object.MetaEmit(ctx, msg.Function, msg.Buffer)
	default:
		b.log.Error("broker.dispatch.unexpected_frame_type", slog.String("type", msg.Type.String()))
	}
}

// replyCompletion implements serviceobject.Completion by writing a Reply
// or Error frame back to the originating socket.
type replyCompletion struct {
	socket transport.Socket
	req    *wire.Message
}

func (c *replyCompletion) Success(payload []byte) {
	c.socket.Send(&transport.Frame{Bytes: wire.EncodeFrame(wire.BuildReplyFrom(c.req, payload))})
}

func (c *replyCompletion) Fail(err error) {
	c.socket.Send(&transport.Frame{Bytes: wire.EncodeFrame(
		wire.BuildErrorFrom(c.req, objectbuserr.Signature(err), []byte(err.Error())),
	)})
}
