package fix

import (
	"bytes"
	"fmt"
)

// ComputeChecksum sums every byte of b mod 256, the FIX tag 10 value.
func ComputeChecksum(b []byte) int {
	sum := 0
	for _, c := range b {
		sum += int(c)
	}
	return sum % 256
}

// BodyBounds locates the FIX body of msg: the byte after the SOH of the
// "9=" field through the byte before "10=". Returns NoEntry bounds when
// the framing fields are missing.
func BodyBounds(msg []byte) (start, end int) {
	start, end = NoEntry, NoEntry

	lenTag := []byte("9=")
	i := bytes.Index(msg, []byte{SOH})
	if i == NoEntry || !bytes.HasPrefix(msg[i+1:], lenTag) {
		return
	}
	j := bytes.IndexByte(msg[i+1:], SOH)
	if j == NoEntry {
		return
	}
	start = i + 1 + j + 1

	k := bytes.LastIndex(msg, []byte("\x0110="))
	if k == NoEntry {
		return NoEntry, NoEntry
	}
	end = k + 1
	return
}

// RewriteFraming patches BodyLength (9=) and CheckSum (10=) of msg after
// its body bytes changed width. The message is rebuilt because the digit
// count of tag 9 may change.
func RewriteFraming(msg []byte) ([]byte, error) {
	bodyStart, bodyEnd := BodyBounds(msg)
	if bodyStart == NoEntry {
		return nil, fmt.Errorf("fix: message missing framing fields")
	}

	beginEnd := bytes.IndexByte(msg, SOH)
	out := make([]byte, 0, len(msg)+4)
	out = append(out, msg[:beginEnd+1]...)
	out = append(out, fmt.Sprintf("9=%d", bodyEnd-bodyStart)...)
	out = append(out, SOH)
	out = append(out, msg[bodyStart:bodyEnd]...)
	out = append(out, fmt.Sprintf("10=%03d", ComputeChecksum(out))...)
	out = append(out, SOH)
	return out, nil
}
