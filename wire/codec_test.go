package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	msg := &Message{ID: 42, Type: Call, Service: 7, Path: Main, Function: 3, Buffer: []byte{0x01, 0x02, 0x03}}
	encoded := EncodeFrame(msg)

	decoded, n, err := DecodeFrame(encoded)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d bytes, want %d", n, len(encoded))
	}
	if decoded.ID != msg.ID || decoded.Type != msg.Type || decoded.Service != msg.Service ||
		decoded.Path != msg.Path || decoded.Function != msg.Function {
		t.Fatalf("decoded fields mismatch: %+v", decoded)
	}
	if !bytes.Equal(decoded.Buffer, msg.Buffer) {
		t.Fatalf("decoded buffer = %v, want %v", decoded.Buffer, msg.Buffer)
	}
}

func TestDecodeFrameNeedsMoreBytes(t *testing.T) {
	msg := &Message{ID: 1, Type: Event, Service: 1, Path: Main, Function: 5, Buffer: []byte{0xAA}}
	encoded := EncodeFrame(msg)

	if _, _, err := DecodeFrame(encoded[:len(encoded)-1]); err == nil {
		t.Fatalf("expected error decoding a truncated frame")
	}
	if _, _, err := DecodeFrame(encoded[:frameHeaderLen-1]); err == nil {
		t.Fatalf("expected error decoding a truncated header")
	}
}

func TestSubscriptionRoundTrip(t *testing.T) {
	encoded := EncodeSubscription(10, 20, 30)
	service, event, linkID, err := DecodeSubscription(encoded)
	if err != nil {
		t.Fatalf("DecodeSubscription: %v", err)
	}
	if service != 10 || event != 20 || linkID != 30 {
		t.Fatalf("got (%d, %d, %d), want (10, 20, 30)", service, event, linkID)
	}
}

func TestLinkIDRoundTrip(t *testing.T) {
	encoded := EncodeLinkID(99)
	linkID, err := DecodeLinkID(encoded)
	if err != nil {
		t.Fatalf("DecodeLinkID: %v", err)
	}
	if linkID != 99 {
		t.Fatalf("got %d, want 99", linkID)
	}
}

func TestMissingRoundTrip(t *testing.T) {
	for _, want := range []bool{true, false} {
		got, err := DecodeMissing(EncodeMissing(want))
		if err != nil {
			t.Fatalf("DecodeMissing: %v", err)
		}
		if got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestErrorPayloadRoundTrip(t *testing.T) {
	encoded := EncodeError("s", []byte("boom"))
	sig, details, err := DecodeError(encoded)
	if err != nil {
		t.Fatalf("DecodeError: %v", err)
	}
	if sig != "s" || !bytes.Equal(details, []byte("boom")) {
		t.Fatalf("got (%q, %q)", sig, details)
	}
}

func TestBuildReplyFrom(t *testing.T) {
	req := &Message{ID: 5, Type: Call, Service: 1, Path: Main, Function: 7}
	reply := BuildReplyFrom(req, []byte{0x01})
	if reply.ID != req.ID || reply.Type != Reply || reply.Service != req.Service || reply.Function != req.Function {
		t.Fatalf("reply envelope mismatch: %+v", reply)
	}
}

func TestIDGeneratorIsMonotonicAndUnique(t *testing.T) {
	var gen IDGenerator
	seen := make(map[uint32]bool)
	var prev uint32
	for i := 0; i < 1000; i++ {
		id := gen.Next()
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		if id <= prev {
			t.Fatalf("id %d not greater than previous id %d", id, prev)
		}
		seen[id] = true
		prev = id
	}
}
