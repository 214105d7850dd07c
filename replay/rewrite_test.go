package replay

import (
	"bytes"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixlog/domain/fix"
)

const sendingTime = "20260805-12:00:00.000"

// checkFraming asserts BodyLength and CheckSum are self-consistent.
func checkFraming(t *testing.T, msg []byte) {
	t.Helper()
	bodyStart, bodyEnd := fix.BodyBounds(msg)
	require.NotEqual(t, fix.NoEntry, bodyStart)

	wantLen, err := strconv.Atoi(string(fix.ValueOf(msg, fix.TagBodyLength)))
	require.NoError(t, err)
	assert.Equal(t, bodyEnd-bodyStart, wantLen, "BodyLength mismatch")

	sum, err := strconv.Atoi(string(fix.ValueOf(msg[bodyEnd:], fix.TagCheckSum)))
	require.NoError(t, err)
	assert.Equal(t, fix.ComputeChecksum(msg[:bodyEnd]), sum, "CheckSum mismatch")
}

func TestRewritePossDup_Injects(t *testing.T) {
	msg := fix.Build("D", 5, "SND", "TGT", sendingTime,
		fix.Field{Tag: 55, Value: "EURUSD"})

	out, err := RewritePossDup(msg)
	require.NoError(t, err)

	hdr, err := fix.ScanHeader(out)
	require.NoError(t, err)
	require.NotEqual(t, fix.NoEntry, hdr.PossDupOffset)
	assert.Equal(t, byte('Y'), out[hdr.PossDupOffset])
	assert.Less(t, hdr.PossDupOffset, hdr.SendingTimeOffset,
		"PossDupFlag must sit before SendingTime")

	// SendingTime is untouched and OrigSendingTime carries its value.
	assert.Equal(t, sendingTime, string(fix.ValueOf(out, fix.TagSendingTime)))
	assert.Equal(t, sendingTime, string(fix.ValueOf(out, fix.TagOrigSendingTime)))

	// Everything else is byte-identical.
	assert.Equal(t, string(fix.ValueOf(msg, 55)), string(fix.ValueOf(out, 55)))
	assert.Equal(t, string(fix.ValueOf(msg, fix.TagMsgSeqNum)), string(fix.ValueOf(out, fix.TagMsgSeqNum)))

	checkFraming(t, out)
}

func TestRewritePossDup_FlipsInPlace(t *testing.T) {
	msg := fix.Build("D", 5, "SND", "TGT", sendingTime,
		fix.Field{Tag: fix.TagPossDupFlag, Value: "N"})

	out, err := RewritePossDup(msg)
	require.NoError(t, err)
	require.Len(t, out, len(msg), "flip must not change message width")

	diffs := 0
	flipped := -1
	for i := range msg {
		if msg[i] != out[i] {
			diffs++
			flipped = i
		}
	}
	require.Equal(t, 1, diffs, "only the flag byte may change")
	assert.Equal(t, byte('N'), msg[flipped])
	assert.Equal(t, byte('Y'), out[flipped])

	// Field widths are unchanged, so recorded framing stands as-is.
	assert.True(t, bytes.Equal(fix.ValueOf(msg, fix.TagCheckSum), fix.ValueOf(out, fix.TagCheckSum)))
}

func TestRewritePossDup_AlreadyY(t *testing.T) {
	msg := fix.Build("D", 5, "SND", "TGT", sendingTime,
		fix.Field{Tag: fix.TagPossDupFlag, Value: "Y"})

	out, err := RewritePossDup(msg)
	require.NoError(t, err)
	assert.Equal(t, msg, out)
}

func TestRewritePossDup_NoSendingTime(t *testing.T) {
	raw := []byte("8=FIX.4.4\x019=12\x0135=D\x0134=5\x0110=000\x01")
	_, err := RewritePossDup(raw)
	require.Error(t, err)
}
