package wire

import (
	"encoding/binary"
	"fmt"
)

// EncodeFrame serializes msg to the little-endian envelope described in
// spec.md §6:
//
//	uint32 id
//	uint8  type
//	uint32 service
//	uint32 path
//	uint32 function
//	uint32 payload length
//	[]byte payload
func EncodeFrame(msg *Message) []byte {
	buf := make([]byte, 4+1+4+4+4+4+len(msg.Buffer))
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], msg.ID)
	off += 4
	buf[off] = byte(msg.Type)
	off++
	binary.LittleEndian.PutUint32(buf[off:], msg.Service)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], msg.Path)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], msg.Function)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(msg.Buffer)))
	off += 4
	copy(buf[off:], msg.Buffer)
	return buf
}

// frameHeaderLen is the size in bytes of everything in EncodeFrame's output
// before the payload bytes.
const frameHeaderLen = 4 + 1 + 4 + 4 + 4 + 4

// DecodeFrame parses the envelope produced by EncodeFrame. It returns the
// number of bytes consumed from buf, or an error if buf does not yet
// contain a complete frame (callers reading from a stream should treat
// that as "need more bytes", not a protocol violation).
func DecodeFrame(buf []byte) (*Message, int, error) {
	if len(buf) < frameHeaderLen {
		return nil, 0, fmt.Errorf("wire: short frame header: have %d bytes, need %d", len(buf), frameHeaderLen)
	}
	off := 0
	id := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	typ := Type(buf[off])
	off++
	service := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	path := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	function := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	payloadLen := binary.LittleEndian.Uint32(buf[off:])
	off += 4

	total := off + int(payloadLen)
	if len(buf) < total {
		return nil, 0, fmt.Errorf("wire: short frame payload: have %d bytes, need %d", len(buf), total)
	}

	payload := make([]byte, payloadLen)
	copy(payload, buf[off:total])

	return &Message{
		ID:       id,
		Type:     typ,
		Service:  service,
		Path:     path,
		Function: function,
		Buffer:   payload,
	}, total, nil
}

// EncodeSubscription serializes the fixed (service, event, link_id) triplet
// used by RegisterEvent/UnregisterEvent requests, per spec.md §4.1 and §6.
func EncodeSubscription(service, event, linkID uint32) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:], service)
	binary.LittleEndian.PutUint32(buf[4:], event)
	binary.LittleEndian.PutUint32(buf[8:], linkID)
	return buf
}

// DecodeSubscription parses the fixed triplet encoded by EncodeSubscription.
func DecodeSubscription(buf []byte) (service, event, linkID uint32, err error) {
	if len(buf) < 12 {
		return 0, 0, 0, fmt.Errorf("wire: short subscription payload: have %d bytes, need 12", len(buf))
	}
	service = binary.LittleEndian.Uint32(buf[0:])
	event = binary.LittleEndian.Uint32(buf[4:])
	linkID = binary.LittleEndian.Uint32(buf[8:])
	return service, event, linkID, nil
}

// EncodeLinkID serializes a RegisterEvent Call reply payload: (uint32
// local_link_id).
func EncodeLinkID(linkID uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, linkID)
	return buf
}

// DecodeLinkID parses a RegisterEvent Call reply payload.
func DecodeLinkID(buf []byte) (uint32, error) {
	if len(buf) < 4 {
		return 0, fmt.Errorf("wire: short link id payload: have %d bytes, need 4", len(buf))
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// EncodeMissing serializes an UnregisterEvent Call reply payload: a single
// bool byte, true iff the remote link was not found. See spec.md §9 for why
// this polarity, though it reads as inverted, is preserved.
func EncodeMissing(missing bool) []byte {
	if missing {
		return []byte{1}
	}
	return []byte{0}
}

// DecodeMissing parses an UnregisterEvent Call reply payload.
func DecodeMissing(buf []byte) (bool, error) {
	if len(buf) < 1 {
		return false, fmt.Errorf("wire: short missing-flag payload: have %d bytes, need 1", len(buf))
	}
	return buf[0] != 0, nil
}

// EncodeError serializes an Error frame payload: (string signature, bytes
// details), per spec.md §6.
func EncodeError(signature string, details []byte) []byte {
	buf := make([]byte, 4+len(signature)+4+len(details))
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(signature)))
	off += 4
	copy(buf[off:], signature)
	off += len(signature)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(details)))
	off += 4
	copy(buf[off:], details)
	return buf
}

// DecodeError parses an Error frame payload.
func DecodeError(buf []byte) (signature string, details []byte, err error) {
	if len(buf) < 4 {
		return "", nil, fmt.Errorf("wire: short error payload: have %d bytes, need at least 4", len(buf))
	}
	sigLen := binary.LittleEndian.Uint32(buf[0:])
	off := 4
	if len(buf) < off+int(sigLen)+4 {
		return "", nil, fmt.Errorf("wire: short error payload: truncated signature or details length")
	}
	signature = string(buf[off : off+int(sigLen)])
	off += int(sigLen)
	detailsLen := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if len(buf) < off+int(detailsLen) {
		return "", nil, fmt.Errorf("wire: short error payload: truncated details")
	}
	details = append([]byte(nil), buf[off:off+int(detailsLen)]...)
	return signature, details, nil
}
