// Package session is objectbus's composition root: it wires a
// broker.Broker, a directory.Client, and a transport.Dialer together behind
// a single handle that a process can use both to serve local services and
// to connect to remote ones, per spec.md §1's description of a process
// that plays both roles simultaneously.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/objectbus/objectbus/broker"
	"github.com/objectbus/objectbus/directory"
	"github.com/objectbus/objectbus/remoteobject"
	"github.com/objectbus/objectbus/serviceobject"
	"github.com/objectbus/objectbus/transport"
	"github.com/objectbus/objectbus/wire"
	"github.com/objectbus/objectbus/workerpool"
)

// Session is a running objectbus node: a broker accepting inbound
// connections plus a dialer for outbound ones, sharing one logger and one
// authentication token.
type Session struct {
	log        *slog.Logger
	broker     *broker.Broker
	dialer     transport.Dialer
	token      string
	brokerOpts []broker.Option

	mu       sync.Mutex
	outbound map[transport.Socket]*remoteobject.Object
}

// Option configures a Session.
type Option func(*Session)

// WithLogger overrides the default logger for both the broker and the
// session itself.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithAuthHook installs a broker.AuthHook validating inbound connections'
// FunctionAuthenticate frames, per spec.md §1.
func WithAuthHook(hook broker.AuthHook) Option {
	return func(s *Session) { s.brokerOpts = append(s.brokerOpts, broker.WithAuthHook(hook)) }
}

// WithWorkerPool overrides the worker pool the broker schedules Queued
// calls on.
func WithWorkerPool(p *workerpool.Pool) Option {
	return func(s *Session) { s.brokerOpts = append(s.brokerOpts, broker.WithWorkerPool(p)) }
}

// WithMachineID overrides the machine id reported in ServiceInfo.
func WithMachineID(id string) Option {
	return func(s *Session) { s.brokerOpts = append(s.brokerOpts, broker.WithMachineID(id)) }
}

// WithOutboundToken sets the bearer token this Session presents via a
// FunctionAuthenticate frame immediately after every outbound Connect,
// mirroring the broker's inbound AuthHook.
func WithOutboundToken(token string) Option {
	return func(s *Session) { s.token = token }
}

// New constructs a Session. server accepts inbound connections (pass
// transport/tcp.NewServer, or transport/inmemory for tests); dialer makes
// outbound ones; directoryClient resolves/announces service registrations.
func New(server transport.Server, dialer transport.Dialer, directoryClient directory.Client, opts ...Option) *Session {
	s := &Session{
		log:      slog.Default(),
		dialer:   dialer,
		outbound: make(map[transport.Socket]*remoteobject.Object),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	brokerOpts := append([]broker.Option{broker.WithLogger(s.log)}, s.brokerOpts...)
	s.broker = broker.New(server, directoryClient, brokerOpts...)
	return s
}

// Listen starts accepting inbound connections on url.
func (s *Session) Listen(ctx context.Context, url string) bool { return s.broker.Listen(ctx, url) }

// ListenURL returns the URL the session is accepting inbound connections
// on.
func (s *Session) ListenURL() string { return s.broker.ListenURL() }

// RegisterService registers object under name with the directory and the
// local broker, per spec.md §4.3.
func (s *Session) RegisterService(ctx context.Context, name string, object serviceobject.Object) *broker.Future {
	return s.broker.RegisterService(ctx, name, object)
}

// UnregisterService removes id's registration.
func (s *Session) UnregisterService(ctx context.Context, id uint32) *broker.Future {
	return s.broker.UnregisterService(ctx, id)
}

// RegisteredServices lists every locally registered service.
func (s *Session) RegisteredServices() []directory.ServiceInfo { return s.broker.RegisteredServices() }

// Connect dials url and returns a remoteobject.Object bound to serviceID on
// that connection, per spec.md §4.2. If a token was configured via
// WithOutboundToken, it is sent as a FunctionAuthenticate Call before the
// object is handed back, and a non-nil error is returned if the peer
// rejects it.
func (s *Session) Connect(ctx context.Context, url string, serviceID uint32, opts ...remoteobject.Option) (*remoteobject.Object, error) {
	socket, err := s.dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("session: dial %q: %w", url, err)
	}

	if s.token != "" {
		if err := s.authenticate(ctx, socket); err != nil {
			socket.Close()
			return nil, err
		}
	}

	object := remoteobject.New(socket, serviceID, opts...)

	s.mu.Lock()
	s.outbound[socket] = object
	s.mu.Unlock()

	return object, nil
}

// authenticate sends this session's token as a FunctionAuthenticate Call
// and waits for the broker's Reply or Error frame, using a throwaway
// remoteobject.Object as the correlation mechanism since authentication is
// itself framed as an ordinary control-service call (spec.md §1).
func (s *Session) authenticate(ctx context.Context, socket transport.Socket) error {
	auth := remoteobject.New(socket, wire.ServerService)
	defer auth.Close()

	_, err := auth.Call(ctx, wire.FunctionAuthenticate, []byte(s.token))
	if err != nil {
		return fmt.Errorf("session: authenticate: %w", err)
	}
	return nil
}

// Disconnect closes and forgets an outbound connection previously returned
// by Connect.
func (s *Session) Disconnect(object *remoteobject.Object) {
	s.mu.Lock()
	var target transport.Socket
	for socket, o := range s.outbound {
		if o == object {
			target = socket
			break
		}
	}
	if target != nil {
		delete(s.outbound, target)
	}
	s.mu.Unlock()

	object.Close()
	if target != nil {
		target.Close()
	}
}

// Close tears the session down: it stops accepting inbound connections and
// closes every outbound connection Connect opened, in that order.
func (s *Session) Close() error {
	err := s.broker.Close()

	s.mu.Lock()
	outbound := s.outbound
	s.outbound = make(map[transport.Socket]*remoteobject.Object)
	s.mu.Unlock()

	for socket, object := range outbound {
		object.Close()
		socket.Close()
	}
	return err
}
