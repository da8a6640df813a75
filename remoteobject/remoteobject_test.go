package remoteobject

import (
	"context"
	"testing"
	"time"

	"github.com/objectbus/objectbus/objectbuserr"
	"github.com/objectbus/objectbus/serviceobject"
	"github.com/objectbus/objectbus/transport"
	"github.com/objectbus/objectbus/wire"
)

// fakeSocket is a transport.Socket double that echoes whatever the test
// tells it to, giving full control over reply/error/event/disconnect
// timing without a real transport.
type fakeSocket struct {
	sink transport.CallbackSink
	sent []*wire.Message
	next []transport.Frame
}

func (f *fakeSocket) Send(msg *transport.Frame) bool {
	m, _, err := wire.DecodeFrame(msg.Bytes)
	if err != nil {
		panic(err)
	}
	f.sent = append(f.sent, m)
	return true
}

func (f *fakeSocket) Read(id transport.ReadID) (*transport.Frame, bool) {
	idx := int(id)
	if idx < 0 || idx >= len(f.next) {
		return nil, false
	}
	frame := f.next[idx]
	return &frame, true
}

func (f *fakeSocket) AddCallbacks(sink transport.CallbackSink)    { f.sink = sink }
func (f *fakeSocket) RemoveCallbacks(sink transport.CallbackSink) { f.sink = nil }
func (f *fakeSocket) Close() error                                { return nil }
func (f *fakeSocket) RemoteEndpoint() string                      { return "fake" }

func (f *fakeSocket) deliver(msg *wire.Message) transport.ReadID {
	f.next = append(f.next, transport.Frame{Bytes: wire.EncodeFrame(msg)})
	id := transport.ReadID(len(f.next) - 1)
	f.sink.OnReadyRead(id)
	return id
}

func TestCallSuccess(t *testing.T) {
	sock := &fakeSocket{}
	obj := New(sock, 1)

	go func() {
		for len(sock.sent) == 0 {
			time.Sleep(time.Millisecond)
		}
		req := sock.sent[0]
		sock.deliver(wire.BuildReplyFrom(req, req.Buffer))
	}()

	payload, err := obj.Call(context.Background(), 7, []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(payload) != "\x01\x02" {
		t.Fatalf("payload = %v, want [0x01 0x02]", payload)
	}
	if obj.PendingCount() != 0 {
		t.Fatalf("pending count = %d, want 0", obj.PendingCount())
	}
}

func TestCallServiceNotFound(t *testing.T) {
	sock := &fakeSocket{}
	obj := New(sock, 999)

	go func() {
		for len(sock.sent) == 0 {
			time.Sleep(time.Millisecond)
		}
		req := sock.sent[0]
		sock.deliver(wire.BuildErrorFrom(req, "s", []byte("can't find service id: 999")))
	}()

	_, err := obj.Call(context.Background(), 3, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := err.Error(); !contains(got, "can't find service id: 999") {
		t.Fatalf("error = %q, want to contain the not-found message", got)
	}
}

func TestOnTimeoutFailsPendingCompletion(t *testing.T) {
	sock := &fakeSocket{}
	obj := New(sock, 1)

	resultCh := make(chan error, 1)
	obj.MetaCall(context.Background(), 1, nil, serviceobject.CompletionFuncs{
		OnFail: func(err error) { resultCh <- err },
	}, serviceobject.Direct)

	reqID := sock.sent[0].ID
	obj.OnTimeout(reqID)

	err := <-resultCh
	if objectbuserr.KindOf(err) != objectbuserr.KindNetworkTimeout {
		t.Fatalf("kind = %v, want network timeout", objectbuserr.KindOf(err))
	}
	if obj.PendingCount() != 0 {
		t.Fatalf("pending count = %d, want 0", obj.PendingCount())
	}
}

func TestOnDisconnectedFailsAllPending(t *testing.T) {
	sock := &fakeSocket{}
	obj := New(sock, 1)

	var failures int
	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		obj.MetaCall(context.Background(), uint32(i), nil, serviceobject.CompletionFuncs{
			OnFail: func(err error) { failures++; done <- struct{}{} },
		}, serviceobject.Direct)
	}

	obj.OnDisconnected()
	for i := 0; i < 3; i++ {
		<-done
	}

	if failures != 3 {
		t.Fatalf("failures = %d, want 3", failures)
	}
	if obj.PendingCount() != 0 {
		t.Fatalf("pending count = %d, want 0", obj.PendingCount())
	}
}

func TestEventRoundTrip(t *testing.T) {
	sock := &fakeSocket{}
	obj := New(sock, 1)

	received := make(chan []byte, 1)
	linkID := obj.Connect(5, func(params []byte) { received <- params })
	if linkID == 0 {
		t.Fatalf("expected non-zero link id")
	}

	sock.deliver(&wire.Message{ID: 1, Type: wire.Event, Service: 1, Path: wire.Main, Function: 5, Buffer: []byte{0xAA}})

	select {
	case payload := <-received:
		if string(payload) != "\xAA" {
			t.Fatalf("payload = %v, want [0xAA]", payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber never invoked")
	}
}

func TestConnectTwiceProducesDistinctLinkIDs(t *testing.T) {
	sock := &fakeSocket{}
	obj := New(sock, 1)

	l1 := obj.Connect(5, func([]byte) {})
	l2 := obj.Connect(5, func([]byte) {})
	if l1 == l2 {
		t.Fatalf("expected distinct link ids, got %d twice", l1)
	}

	if !obj.Disconnect(l1) {
		t.Fatalf("Disconnect(l1) = false")
	}
	if _, ok := obj.Base.EventOf(l2); !ok {
		t.Fatalf("l2 subscription should still be live")
	}
}

func TestMetaCallDuplicateIDIsRejected(t *testing.T) {
	sock := &fakeSocket{}
	obj := New(sock, 1)

	// obj.ids.Next() assigns 1 on the very first call, so pre-seeding
	// pending[1] guarantees the first MetaCall collides.
	original := serviceobject.CompletionFuncs{}
	obj.mu.Lock()
	obj.pending[1] = original
	obj.mu.Unlock()

	var failErr error
	obj.MetaCall(context.Background(), 1, nil, serviceobject.CompletionFuncs{
		OnFail: func(err error) { failErr = err },
	}, serviceobject.Direct)

	if failErr == nil {
		t.Fatalf("expected duplicate-id failure")
	}
	if objectbuserr.KindOf(failErr) != objectbuserr.KindDuplicateRequestID {
		t.Fatalf("kind = %v, want duplicate request id", objectbuserr.KindOf(failErr))
	}
	obj.mu.Lock()
	_, stillThere := obj.pending[1]
	obj.mu.Unlock()
	if !stillThere {
		t.Fatalf("original pending completion for id 1 must be left untouched")
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
