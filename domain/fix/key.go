package fix

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// CompositeKey names one FIX counterparty pair. Equality is exact byte
// equality per component, so the zero value of unused components matters.
type CompositeKey struct {
	SenderCompID     string
	SenderSubID      string
	SenderLocationID string
	TargetCompID     string
	TargetSubID      string
	TargetLocationID string
}

// ErrKeyTooLarge is returned when a key does not fit its encoding buffer.
var ErrKeyTooLarge = errors.New("fix: composite key too large for buffer")

// KeyFromHeader builds the key from a sent message's header, i.e. from
// the initiator's perspective of the Comp/Sub/Location IDs.
func KeyFromHeader(hdr Header) CompositeKey {
	return CompositeKey{
		SenderCompID:     hdr.SenderCompID,
		SenderSubID:      hdr.SenderSubID,
		SenderLocationID: hdr.SenderLocationID,
		TargetCompID:     hdr.TargetCompID,
		TargetSubID:      hdr.TargetSubID,
		TargetLocationID: hdr.TargetLocationID,
	}
}

func (k CompositeKey) String() string {
	return fmt.Sprintf("%s/%s/%s->%s/%s/%s",
		k.SenderCompID, k.SenderSubID, k.SenderLocationID,
		k.TargetCompID, k.TargetSubID, k.TargetLocationID)
}

// EncodeKey writes the six components as u16-length-prefixed byte runs and
// returns the encoded length, or ErrKeyTooLarge if buf cannot hold them.
func EncodeKey(k CompositeKey, buf []byte) (int, error) {
	pos := 0
	for _, part := range [...]string{
		k.SenderCompID, k.SenderSubID, k.SenderLocationID,
		k.TargetCompID, k.TargetSubID, k.TargetLocationID,
	} {
		if pos+2+len(part) > len(buf) {
			return 0, ErrKeyTooLarge
		}
		binary.LittleEndian.PutUint16(buf[pos:], uint16(len(part)))
		pos += 2
		pos += copy(buf[pos:], part)
	}
	return pos, nil
}

// DecodeKey reads a key previously written by EncodeKey from buf[:length].
func DecodeKey(buf []byte, length int) (CompositeKey, error) {
	parts := [6]string{}
	pos := 0
	for i := range parts {
		if pos+2 > length {
			return CompositeKey{}, errors.New("fix: short composite key")
		}
		n := int(binary.LittleEndian.Uint16(buf[pos:]))
		pos += 2
		if pos+n > length {
			return CompositeKey{}, errors.New("fix: short composite key")
		}
		parts[i] = string(buf[pos : pos+n])
		pos += n
	}
	return CompositeKey{
		SenderCompID:     parts[0],
		SenderSubID:      parts[1],
		SenderLocationID: parts[2],
		TargetCompID:     parts[3],
		TargetSubID:      parts[4],
		TargetLocationID: parts[5],
	}, nil
}
