package fix

import (
	"errors"
	"fmt"
)

var errTruncated = errors.New("fix: truncated message")

// Header is the result of one scan pass over a message. Offsets are
// relative to the scanned slice; absent fields hold NoEntry.
type Header struct {
	MsgType   string
	MsgSeqNum int

	SenderCompID     string
	SenderSubID      string
	SenderLocationID string
	TargetCompID     string
	TargetSubID      string
	TargetLocationID string

	// PossDupOffset is the offset of the flag value byte of tag 43.
	PossDupOffset int
	// SendingTimeOffset is the offset of the '5' of the "52=" field.
	SendingTimeOffset int

	BeginSeqNo int
	EndSeqNo   int
}

// ScanHeader walks the tag=value fields of b in a single pass. The scan
// stops early once the checksum field is reached; unknown tags are
// skipped. Body fields repeating header tag numbers are not a concern for
// the message types this core inspects.
func ScanHeader(b []byte) (Header, error) {
	hdr := Header{
		MsgSeqNum:         NoEntry,
		PossDupOffset:     NoEntry,
		SendingTimeOffset: NoEntry,
		BeginSeqNo:        NoEntry,
		EndSeqNo:          NoEntry,
	}

	i := 0
	for i < len(b) {
		fieldStart := i
		tag := 0
		for i < len(b) && b[i] != '=' {
			c := b[i]
			if c < '0' || c > '9' {
				return hdr, fmt.Errorf("fix: bad tag byte %q at %d", c, i)
			}
			tag = tag*10 + int(c-'0')
			i++
		}
		if i >= len(b) {
			return hdr, errTruncated
		}
		i++ // '='
		valueStart := i
		for i < len(b) && b[i] != SOH {
			i++
		}
		if i >= len(b) {
			return hdr, errTruncated
		}
		value := b[valueStart:i]
		i++ // SOH

		switch tag {
		case TagMsgType:
			hdr.MsgType = string(value)
		case TagMsgSeqNum:
			hdr.MsgSeqNum = parseInt(value)
		case TagPossDupFlag:
			hdr.PossDupOffset = valueStart
		case TagSendingTime:
			hdr.SendingTimeOffset = fieldStart
		case TagSenderCompID:
			hdr.SenderCompID = string(value)
		case TagSenderSubID:
			hdr.SenderSubID = string(value)
		case TagSenderLocationID:
			hdr.SenderLocationID = string(value)
		case TagTargetCompID:
			hdr.TargetCompID = string(value)
		case TagTargetSubID:
			hdr.TargetSubID = string(value)
		case TagTargetLocationID:
			hdr.TargetLocationID = string(value)
		case TagBeginSeqNo:
			hdr.BeginSeqNo = parseInt(value)
		case TagEndSeqNo:
			hdr.EndSeqNo = parseInt(value)
		case TagCheckSum:
			return hdr, nil
		}
	}
	return hdr, nil
}

// ValueOf returns the value bytes of the first occurrence of tag, or nil.
func ValueOf(b []byte, tag int) []byte {
	i := 0
	for i < len(b) {
		t := 0
		for i < len(b) && b[i] != '=' {
			t = t*10 + int(b[i]-'0')
			i++
		}
		if i >= len(b) {
			return nil
		}
		i++
		start := i
		for i < len(b) && b[i] != SOH {
			i++
		}
		if t == tag {
			return b[start:i]
		}
		i++
	}
	return nil
}

func parseInt(b []byte) int {
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return NoEntry
		}
		n = n*10 + int(c-'0')
	}
	if len(b) == 0 {
		return NoEntry
	}
	return n
}
