package fix

import (
	"fmt"
	"strconv"
)

// Field is one tag=value pair for message construction.
type Field struct {
	Tag   int
	Value string
}

// Build assembles a minimal FIX 4.4 message with correct BodyLength and
// CheckSum. Header fields beyond MsgType/MsgSeqNum/Sender/Target/
// SendingTime go in extra, in the order given, before any body fields.
func Build(msgType string, seqNum int, sender, target, sendingTime string, extra ...Field) []byte {
	var body []byte
	appendField := func(tag int, value string) {
		body = strconv.AppendInt(body, int64(tag), 10)
		body = append(body, '=')
		body = append(body, value...)
		body = append(body, SOH)
	}

	appendField(TagMsgType, msgType)
	appendField(TagSenderCompID, sender)
	appendField(TagTargetCompID, target)
	appendField(TagMsgSeqNum, strconv.Itoa(seqNum))
	// PossDupFlag sits before SendingTime in the standard header.
	for _, f := range extra {
		if f.Tag == TagPossDupFlag {
			appendField(f.Tag, f.Value)
		}
	}
	appendField(TagSendingTime, sendingTime)
	for _, f := range extra {
		if f.Tag != TagPossDupFlag {
			appendField(f.Tag, f.Value)
		}
	}

	msg := []byte("8=FIX.4.4")
	msg = append(msg, SOH)
	msg = append(msg, fmt.Sprintf("9=%d", len(body))...)
	msg = append(msg, SOH)
	msg = append(msg, body...)
	msg = append(msg, fmt.Sprintf("10=%03d", ComputeChecksum(msg))...)
	msg = append(msg, SOH)
	return msg
}
