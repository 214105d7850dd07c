// Package replay answers ResendRequest messages by re-publishing the
// exact recorded bytes, tagged as possible duplicates, onto the outbound
// stream.
package replay

import (
	"fmt"

	"fixlog/domain/fix"
)

// RewritePossDup returns msg marked as a possible duplicate.
//
// When tag 43 is absent, "43=Y" is injected immediately before
// SendingTime and "122=<original 52 value>" after it, so BodyLength and
// CheckSum are recomputed. When tag 43 is present only its value byte is
// flipped to 'Y': field widths are unchanged and the framing fields are
// left exactly as recorded.
func RewritePossDup(msg []byte) ([]byte, error) {
	hdr, err := fix.ScanHeader(msg)
	if err != nil {
		return nil, fmt.Errorf("replay: unscannable message: %w", err)
	}

	if hdr.PossDupOffset != fix.NoEntry {
		out := append([]byte(nil), msg...)
		out[hdr.PossDupOffset] = 'Y'
		return out, nil
	}

	if hdr.SendingTimeOffset == fix.NoEntry {
		return nil, fmt.Errorf("replay: message has no SendingTime field")
	}

	// Bounds of the 52= field, SOH included.
	stStart := hdr.SendingTimeOffset
	stEnd := stStart
	for stEnd < len(msg) && msg[stEnd] != fix.SOH {
		stEnd++
	}
	stEnd++ // past the SOH
	sendingTime := msg[stStart+3 : stEnd-1]

	out := make([]byte, 0, len(msg)+len(sendingTime)+16)
	out = append(out, msg[:stStart]...)
	out = append(out, "43=Y"...)
	out = append(out, fix.SOH)
	out = append(out, msg[stStart:stEnd]...)
	out = append(out, "122="...)
	out = append(out, sendingTime...)
	out = append(out, fix.SOH)
	out = append(out, msg[stEnd:]...)

	return fix.RewriteFraming(out)
}
