package fix

import (
	"encoding/binary"
	"errors"
)

// MessageStatus tags an envelope. Only StatusOK messages are indexed;
// replayed copies carry StatusReplayed so they are never re-indexed.
type MessageStatus uint8

const (
	StatusOK MessageStatus = iota
	StatusReplayed
	StatusInvalid
)

// Envelope framing constants. Frames whose template id differs are not
// FIX business messages and are ignored by the indexes.
const (
	EnvelopeTemplateID  = 21
	EnvelopeVersion     = 1
	EnvelopeBlockLength = 20
	EnvelopeHeaderSize  = 28
)

var ErrNotEnvelope = errors.New("fix: frame is not a FIX message envelope")

// Envelope is the gateway-internal frame wrapping raw FIX bytes on the
// ordered log: the owning session, its sequence-reset epoch, and a
// status. BodyLength is the full message length; Body may be shorter
// when decoded from a BEGIN fragment.
type Envelope struct {
	Session       int64
	SequenceIndex int32
	Status        MessageStatus
	BodyLength    int
	Body          []byte
}

// AppendEnvelope encodes env after dst and returns the extended slice.
func AppendEnvelope(dst []byte, env Envelope) []byte {
	var hdr [EnvelopeHeaderSize]byte
	binary.LittleEndian.PutUint16(hdr[0:], EnvelopeTemplateID)
	binary.LittleEndian.PutUint16(hdr[2:], EnvelopeBlockLength)
	binary.LittleEndian.PutUint16(hdr[4:], EnvelopeVersion)
	binary.LittleEndian.PutUint64(hdr[8:], uint64(env.Session))
	binary.LittleEndian.PutUint32(hdr[16:], uint32(env.SequenceIndex))
	hdr[20] = byte(env.Status)
	binary.LittleEndian.PutUint32(hdr[24:], uint32(len(env.Body)))
	dst = append(dst, hdr[:]...)
	return append(dst, env.Body...)
}

// DecodeEnvelope reads an envelope from b. The returned Body aliases b.
func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) < EnvelopeHeaderSize {
		return Envelope{}, ErrNotEnvelope
	}
	if binary.LittleEndian.Uint16(b[0:]) != EnvelopeTemplateID {
		return Envelope{}, ErrNotEnvelope
	}
	bodyLen := int(binary.LittleEndian.Uint32(b[24:]))
	if bodyLen < 0 {
		return Envelope{}, errors.New("fix: envelope body length out of range")
	}
	// A BEGIN fragment holds only the head of the body; clamp rather
	// than reject so header fields remain scannable.
	end := EnvelopeHeaderSize + bodyLen
	if end > len(b) {
		end = len(b)
	}
	return Envelope{
		Session:       int64(binary.LittleEndian.Uint64(b[8:])),
		SequenceIndex: int32(binary.LittleEndian.Uint32(b[16:])),
		Status:        MessageStatus(b[20]),
		BodyLength:    bodyLen,
		Body:          b[EnvelopeHeaderSize:end],
	}, nil
}

// IsEnvelope reports whether b begins with the FIX message template id.
func IsEnvelope(b []byte) bool {
	return len(b) >= 2 && binary.LittleEndian.Uint16(b) == EnvelopeTemplateID
}
