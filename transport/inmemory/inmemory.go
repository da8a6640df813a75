// Package inmemory implements transport.Server/Dialer/Socket as a pair of
// goroutine-safe pipes, with no real network I/O. It exists so the broker
// and remote object test suites can exercise real Socket semantics
// (ordering, disconnect, concurrent callbacks) without binding a port,
// mirroring the teacher's in-memory broker/memory and sessions/memory test
// doubles.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/objectbus/objectbus/transport"
)

// Server is an in-memory transport.Server. Dial calls against its
// ListenURL are routed directly to it in-process.
type Server struct {
	mu        sync.Mutex
	listening bool
	url       string
	onNew     func(transport.Socket)
}

// NewServer constructs an unstarted Server.
func NewServer() *Server { return &Server{} }

// Listen implements transport.Server. Only the "mem" scheme is accepted.
func (s *Server) Listen(ctx context.Context, url string) bool {
	if len(url) < 6 || url[:6] != "mem://" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listening = true
	s.url = url
	return true
}

// OnNewConnection implements transport.Server.
func (s *Server) OnNewConnection(fn func(transport.Socket)) {
	s.mu.Lock()
	s.onNew = fn
	s.mu.Unlock()
}

// Endpoints implements transport.Server.
func (s *Server) Endpoints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.listening {
		return nil
	}
	return []string{s.url}
}

// ListenURL implements transport.Server.
func (s *Server) ListenURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Close implements transport.Server.
func (s *Server) Close() error {
	s.mu.Lock()
	s.listening = false
	s.mu.Unlock()
	return nil
}

// Dial connects a new client Socket to this Server, invoking its
// OnNewConnection callback with the server-side peer of the pair.
func (s *Server) Dial(ctx context.Context, url string) (transport.Socket, error) {
	s.mu.Lock()
	listening, onNew := s.listening, s.onNew
	s.mu.Unlock()
	if !listening {
		return nil, fmt.Errorf("inmemory: server not listening")
	}

	client, server := newPipePair()
	if onNew != nil {
		onNew(server)
	}
	return client, nil
}

// pipe is one half of an in-memory Socket pair.
type pipe struct {
	mu       sync.Mutex
	peer     *pipe
	sinks    map[transport.CallbackSink]struct{}
	received map[transport.ReadID]transport.Frame // held only until every sink has read it
	nextID   transport.ReadID
	closed   bool
}

func newPipePair() (*pipe, *pipe) {
	a := &pipe{sinks: make(map[transport.CallbackSink]struct{}), received: make(map[transport.ReadID]transport.Frame)}
	b := &pipe{sinks: make(map[transport.CallbackSink]struct{}), received: make(map[transport.ReadID]transport.Frame)}
	a.peer = b
	b.peer = a
	return a, b
}

// Send implements transport.Socket by delivering directly to the peer.
func (p *pipe) Send(msg *transport.Frame) bool {
	p.mu.Lock()
	closed := p.closed
	peer := p.peer
	p.mu.Unlock()
	if closed || peer == nil {
		return false
	}

	peer.mu.Lock()
	if peer.closed {
		peer.mu.Unlock()
		return false
	}
	cp := append([]byte(nil), msg.Bytes...)
	id := peer.nextID
	peer.nextID++
	peer.received[id] = transport.Frame{Bytes: cp}
	sinks := make([]transport.CallbackSink, 0, len(peer.sinks))
	for sink := range peer.sinks {
		sinks = append(sinks, sink)
	}
	peer.mu.Unlock()

	for _, sink := range sinks {
		sink.OnReadyRead(id)
	}

	peer.mu.Lock()
	delete(peer.received, id)
	peer.mu.Unlock()
	return true
}

// Read implements transport.Socket. The frame is retained only until every
// sink registered at delivery time has had a chance to read it; callers
// must call Read synchronously from within their OnReadyRead, not after it
// returns.
func (p *pipe) Read(id transport.ReadID) (*transport.Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.received[id]
	if !ok {
		return nil, false
	}
	return &f, true
}

// AddCallbacks implements transport.Socket.
func (p *pipe) AddCallbacks(sink transport.CallbackSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks[sink] = struct{}{}
}

// RemoveCallbacks implements transport.Socket.
func (p *pipe) RemoveCallbacks(sink transport.CallbackSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sinks, sink)
}

// Close implements transport.Socket. It notifies the peer's sinks of
// disconnection, mirroring what a torn-down real socket does.
func (p *pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	peer := p.peer
	p.mu.Unlock()

	if peer != nil {
		peer.mu.Lock()
		peerClosed := peer.closed
		sinks := make([]transport.CallbackSink, 0, len(peer.sinks))
		for sink := range peer.sinks {
			sinks = append(sinks, sink)
		}
		peer.mu.Unlock()

		if !peerClosed {
			for _, sink := range sinks {
				sink.OnDisconnected()
			}
		}
	}
	return nil
}

// RemoteEndpoint implements transport.Socket.
func (p *pipe) RemoteEndpoint() string { return "mem://peer" }
