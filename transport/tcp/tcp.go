// Package tcp implements transport.Server/transport.Dialer/transport.Socket
// over plain or TLS TCP connections, each frame length-prefixed on the wire.
// It is the one concrete transport wired into objectbus; the core packages
// (broker, remoteobject) depend only on the transport.Socket/Server/Dialer
// interfaces.
package tcp

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/objectbus/objectbus/transport"
)

// maxFrameLen bounds a single frame to guard against a peer claiming an
// unbounded length prefix.
const maxFrameLen = 64 << 20

// Option configures a Server or Dialer.
type Option func(*options)

type options struct {
	log         *slog.Logger
	tlsConfig   *tls.Config
	certWatcher *CertWatcher
	acceptRate  rate.Limit
	acceptBurst int
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithTLSConfig serves/dials with the given base TLS config. If a
// CertWatcher is also supplied via WithCertWatcher, GetCertificate is
// overridden to track hot-reloaded certificates.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *options) { o.tlsConfig = cfg }
}

// WithCertWatcher wires a hot-reloading certificate source into the TLS
// config; requires WithTLSConfig (or uses a default one) to also be set.
func WithCertWatcher(w *CertWatcher) Option {
	return func(o *options) { o.certWatcher = w }
}

// WithAcceptRateLimit bounds the rate of accepted connections; bursts up to
// burst are allowed. This is ambient resilience, not part of the wire
// protocol (spec.md §1 scopes flow control out of the core).
func WithAcceptRateLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		o.acceptRate = rate.Limit(perSecond)
		o.acceptBurst = burst
	}
}

func newOptions(opts []Option) *options {
	o := &options{log: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Server is a transport.Server backed by net.Listener.
type Server struct {
	opts *options

	mu        sync.Mutex
	listener  net.Listener
	listenURL string
	onNew     func(transport.Socket)
	limiter   *rate.Limiter

	closeOnce sync.Once
	closed    chan struct{}
}

// NewServer constructs an unstarted Server.
func NewServer(opts ...Option) *Server {
	o := newOptions(opts)
	s := &Server{opts: o, closed: make(chan struct{})}
	if o.acceptRate > 0 {
		s.limiter = rate.NewLimiter(o.acceptRate, o.acceptBurst)
	}
	return s
}

// Listen implements transport.Server. Only the "tcp" and "tcps" (TLS)
// schemes are accepted; anything else is rejected per spec.md §4.3's
// "reject non-TCP URLs" policy.
func (s *Server) Listen(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		s.opts.log.ErrorContext(ctx, "tcp.listen.invalid_url", slog.String("url", rawURL), slog.String("err", err.Error()))
		return false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "tcp" && scheme != "tcps" {
		s.opts.log.ErrorContext(ctx, "tcp.listen.rejected_scheme", slog.String("scheme", scheme))
		return false
	}

	var ln net.Listener
	if scheme == "tcps" {
		cfg := s.opts.tlsConfig
		if cfg == nil {
			cfg = &tls.Config{}
		}
		if s.opts.certWatcher != nil {
			cfg = cfg.Clone()
			cfg.GetCertificate = s.opts.certWatcher.GetCertificate
		}
		ln, err = tls.Listen("tcp", u.Host, cfg)
	} else {
		ln, err = net.Listen("tcp", u.Host)
	}
	if err != nil {
		s.opts.log.ErrorContext(ctx, "tcp.listen.bind_failed", slog.String("url", rawURL), slog.String("err", err.Error()))
		return false
	}

	s.mu.Lock()
	s.listener = ln
	s.listenURL = fmt.Sprintf("%s://%s", scheme, ln.Addr().String())
	s.mu.Unlock()

	go s.acceptLoop(ctx)
	return true
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			s.opts.log.ErrorContext(ctx, "tcp.accept.failed", slog.String("err", err.Error()))
			return
		}

		if s.limiter != nil && !s.limiter.Allow() {
			conn.Close()
			continue
		}

		sock := newSocket(conn, s.opts.log)
		sock.startReadLoop()

		s.mu.Lock()
		onNew := s.onNew
		s.mu.Unlock()
		if onNew != nil {
			onNew(sock)
		}
	}
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
	if s.listenURL == "" {
		return nil
	}
	return []string{s.listenURL}
}

// ListenURL implements transport.Server.
func (s *Server) ListenURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenURL
}

// Close implements transport.Server.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		ln := s.listener
		s.mu.Unlock()
		if ln != nil {
			err = ln.Close()
		}
	})
	return err
}

// Dialer is a transport.Dialer backed by net.Dial.
type Dialer struct {
	opts *options
}

// NewDialer constructs a Dialer.
func NewDialer(opts ...Option) *Dialer {
	return &Dialer{opts: newOptions(opts)}
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, rawURL string) (transport.Socket, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("tcp: invalid url %q: %w", rawURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "tcp" && scheme != "tcps" {
		return nil, fmt.Errorf("tcp: unsupported scheme %q", scheme)
	}

	dialer := &net.Dialer{}
	var conn net.Conn
	if scheme == "tcps" {
		cfg := d.opts.tlsConfig
		if cfg == nil {
			cfg = &tls.Config{}
		}
		conn, err = tls.DialWithDialer(dialer, "tcp", u.Host, cfg)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", u.Host)
	}
	if err != nil {
		return nil, fmt.Errorf("tcp: dial %q: %w", rawURL, err)
	}

	sock := newSocket(conn, d.opts.log)
	sock.startReadLoop()
	return sock, nil
}

// socket implements transport.Socket over a net.Conn, framing each message
// with a uint32 little-endian length prefix ahead of wire.EncodeFrame's
// bytes.
type socket struct {
	conn net.Conn
	log  *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	sinks    map[transport.CallbackSink]struct{}
	received map[transport.ReadID]transport.Frame // held only until every sink has read it
	nextID   transport.ReadID
	closed   bool
}

func newSocket(conn net.Conn, log *slog.Logger) *socket {
	if log == nil {
		log = slog.Default()
	}
	return &socket{
		conn:     conn,
		log:      log,
		sinks:    make(map[transport.CallbackSink]struct{}),
		received: make(map[transport.ReadID]transport.Frame),
	}
}

// Send implements transport.Socket.
func (s *socket) Send(msg *transport.Frame) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(msg.Bytes)))

	if _, err := s.conn.Write(lenPrefix[:]); err != nil {
		return false
	}
	if _, err := s.conn.Write(msg.Bytes); err != nil {
		return false
	}
	return true
}

// Read implements transport.Socket. The frame is retained only until every
// sink registered at delivery time has had a chance to read it; callers
// must call Read synchronously from within their OnReadyRead, not after it
// returns.
func (s *socket) Read(id transport.ReadID) (*transport.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.received[id]
	if !ok {
		return nil, false
	}
	return &f, true
}

// AddCallbacks implements transport.Socket.
func (s *socket) AddCallbacks(sink transport.CallbackSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks[sink] = struct{}{}
}

// RemoveCallbacks implements transport.Socket.
func (s *socket) RemoveCallbacks(sink transport.CallbackSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sinks, sink)
}

// Close implements transport.Socket.
func (s *socket) Close() error {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	if already {
		return nil
	}
	return s.conn.Close()
}

// RemoteEndpoint implements transport.Socket.
func (s *socket) RemoteEndpoint() string {
	return s.conn.RemoteAddr().String()
}

func (s *socket) startReadLoop() {
	go s.readLoop()
}

func (s *socket) readLoop() {
	defer s.notifyDisconnected()

	var lenPrefix [4]byte
	for {
		if _, err := io.ReadFull(s.conn, lenPrefix[:]); err != nil {
			return
		}
		n := binary.LittleEndian.Uint32(lenPrefix[:])
		if n > maxFrameLen {
			s.log.Error("tcp.read.frame_too_large", slog.Uint64("len", uint64(n)))
			return
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(s.conn, payload); err != nil {
			return
		}

		s.mu.Lock()
		id := s.nextID
		s.nextID++
		s.received[id] = transport.Frame{Bytes: payload}
		sinks := make([]transport.CallbackSink, 0, len(s.sinks))
		for sink := range s.sinks {
			sinks = append(sinks, sink)
		}
		s.mu.Unlock()

		for _, sink := range sinks {
			sink.OnReadyRead(id)
		}

		s.mu.Lock()
		delete(s.received, id)
		s.mu.Unlock()
	}
}

func (s *socket) notifyDisconnected() {
	s.mu.Lock()
	sinks := make([]transport.CallbackSink, 0, len(s.sinks))
	for sink := range s.sinks {
		sinks = append(sinks, sink)
	}
	s.mu.Unlock()

	for _, sink := range sinks {
		sink.OnDisconnected()
	}
}
