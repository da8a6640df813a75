package tcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/objectbus/objectbus/transport"
)

type recordingSink struct {
	socket transport.Socket

	mu       sync.Mutex
	received [][]byte
	ready    chan struct{}
}

func newRecordingSink(socket transport.Socket) *recordingSink {
	return &recordingSink{socket: socket, ready: make(chan struct{}, 16)}
}

func (s *recordingSink) OnReadyRead(id transport.ReadID) {
	frame, ok := s.socket.Read(id)
	if !ok {
		return
	}
	s.mu.Lock()
	s.received = append(s.received, frame.Bytes)
	s.mu.Unlock()
	s.ready <- struct{}{}
}

func (s *recordingSink) OnDisconnected() {}
func (s *recordingSink) OnTimeout(uint32) {}

func TestServerDialRoundTrip(t *testing.T) {
	srv := NewServer()
	defer srv.Close()

	var serverSocket transport.Socket
	var mu sync.Mutex
	srv.OnNewConnection(func(sock transport.Socket) {
		mu.Lock()
		serverSocket = sock
		mu.Unlock()
	})

	if !srv.Listen(context.Background(), "tcp://127.0.0.1:0") {
		t.Fatalf("Listen failed")
	}

	dialer := NewDialer()
	clientSocket, err := dialer.Dial(context.Background(), srv.ListenURL())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer clientSocket.Close()

	waitForServerSocket := func() transport.Socket {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			mu.Lock()
			sock := serverSocket
			mu.Unlock()
			if sock != nil {
				return sock
			}
			time.Sleep(time.Millisecond)
		}
		t.Fatalf("server never observed the new connection")
		return nil
	}
	srvSock := waitForServerSocket()
	sink := newRecordingSink(srvSock)
	srvSock.AddCallbacks(sink)

	payload := []byte("hello over tcp")
	if !clientSocket.Send(&transport.Frame{Bytes: payload}) {
		t.Fatalf("Send failed")
	}

	select {
	case <-sink.ready:
	case <-time.After(time.Second):
		t.Fatalf("server never received a frame")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.received) != 1 || string(sink.received[0]) != string(payload) {
		t.Fatalf("received = %q, want %q", sink.received, payload)
	}
}

func TestDialRejectsUnsupportedScheme(t *testing.T) {
	dialer := NewDialer()
	if _, err := dialer.Dial(context.Background(), "udp://127.0.0.1:1234"); err == nil {
		t.Fatalf("Dial accepted unsupported scheme, want error")
	}
}

func TestListenRejectsUnsupportedScheme(t *testing.T) {
	srv := NewServer()
	if srv.Listen(context.Background(), "udp://127.0.0.1:0") {
		t.Fatalf("Listen accepted unsupported scheme, want false")
	}
}
