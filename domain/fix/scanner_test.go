package fix

import (
	"bytes"
	"testing"
)

func TestScanHeader(t *testing.T) {
	msg := Build("D", 7, "INITIATOR", "ACCEPTOR", "20260805-12:00:00.000",
		Field{Tag: 55, Value: "EURUSD"})

	hdr, err := ScanHeader(msg)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if hdr.MsgType != "D" || hdr.MsgSeqNum != 7 {
		t.Fatalf("unexpected header: %+v", hdr)
	}
	if hdr.SenderCompID != "INITIATOR" || hdr.TargetCompID != "ACCEPTOR" {
		t.Fatalf("unexpected comp ids: %+v", hdr)
	}
	if hdr.PossDupOffset != NoEntry {
		t.Fatalf("expected no PossDupFlag, got offset %d", hdr.PossDupOffset)
	}
	if hdr.SendingTimeOffset == NoEntry {
		t.Fatal("expected SendingTime offset")
	}
	if !bytes.HasPrefix(msg[hdr.SendingTimeOffset:], []byte("52=")) {
		t.Fatalf("SendingTime offset does not point at 52=: %q", msg[hdr.SendingTimeOffset:])
	}
}

func TestScanHeader_PossDupPresent(t *testing.T) {
	msg := Build("D", 3, "A", "B", "20260805-12:00:00.000",
		Field{Tag: TagPossDupFlag, Value: "N"})

	hdr, err := ScanHeader(msg)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if hdr.PossDupOffset == NoEntry || msg[hdr.PossDupOffset] != 'N' {
		t.Fatalf("PossDup offset wrong: %+v", hdr)
	}
	if hdr.PossDupOffset >= hdr.SendingTimeOffset {
		t.Fatal("PossDupFlag should precede SendingTime")
	}
}

func TestScanHeader_ResendRequest(t *testing.T) {
	msg := Build(MsgTypeResendRequest, 11, "A", "B", "20260805-12:00:00.000",
		Field{Tag: TagBeginSeqNo, Value: "2"},
		Field{Tag: TagEndSeqNo, Value: "4"})

	hdr, err := ScanHeader(msg)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if hdr.BeginSeqNo != 2 || hdr.EndSeqNo != 4 {
		t.Fatalf("unexpected range: %+v", hdr)
	}
}

func TestScanHeader_TruncatedStillYieldsEarlyFields(t *testing.T) {
	msg := Build("D", 9, "A", "B", "20260805-12:00:00.000")
	full, err := ScanHeader(msg)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	// Cut inside the SendingTime value, as a BEGIN fragment would.
	hdr, err := ScanHeader(msg[:full.SendingTimeOffset+8])
	if err == nil {
		t.Fatal("expected truncation error")
	}
	if hdr.MsgType != "D" || hdr.MsgSeqNum != 9 {
		t.Fatalf("early fields lost on truncation: %+v", hdr)
	}
}

func TestValueOf(t *testing.T) {
	msg := Build("D", 1, "A", "B", "20260805-12:00:00.000")
	if got := string(ValueOf(msg, TagMsgType)); got != "D" {
		t.Fatalf("ValueOf(35) = %q", got)
	}
	if ValueOf(msg, 9999) != nil {
		t.Fatal("expected nil for absent tag")
	}
}

func TestBuildFraming(t *testing.T) {
	msg := Build("D", 1, "A", "B", "20260805-12:00:00.000")

	bodyStart, bodyEnd := BodyBounds(msg)
	if bodyStart == NoEntry {
		t.Fatal("body bounds not found")
	}
	wantLen := parseInt(ValueOf(msg, TagBodyLength))
	if bodyEnd-bodyStart != wantLen {
		t.Fatalf("BodyLength %d does not match body span %d", wantLen, bodyEnd-bodyStart)
	}
	wantSum := ComputeChecksum(msg[:bytes.LastIndex(msg, []byte("\x0110="))+1])
	gotSum := parseInt(ValueOf(msg[bodyEnd:], TagCheckSum))
	if gotSum != wantSum {
		t.Fatalf("CheckSum %03d, want %03d", gotSum, wantSum)
	}
}

func TestCompositeKeyCodec(t *testing.T) {
	key := CompositeKey{
		SenderCompID: "SND", SenderSubID: "S1", SenderLocationID: "LDN",
		TargetCompID: "TGT", TargetSubID: "", TargetLocationID: "NYC",
	}
	buf := make([]byte, 256)
	n, err := EncodeKey(key, buf)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeKey(buf, n)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != key {
		t.Fatalf("round trip mismatch: %+v != %+v", decoded, key)
	}
}

func TestEncodeKey_TooLarge(t *testing.T) {
	key := CompositeKey{SenderCompID: "AAAAAAAAAA", TargetCompID: "BBBBBBBBBB"}
	if _, err := EncodeKey(key, make([]byte, 8)); err == nil {
		t.Fatal("expected ErrKeyTooLarge")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	body := Build("D", 5, "A", "B", "20260805-12:00:00.000")
	encoded := AppendEnvelope(nil, Envelope{Session: 42, SequenceIndex: 3, Status: StatusOK, Body: body})

	env, err := DecodeEnvelope(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Session != 42 || env.SequenceIndex != 3 || env.Status != StatusOK {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if !bytes.Equal(env.Body, body) {
		t.Fatal("body mismatch")
	}
	if !IsEnvelope(encoded) {
		t.Fatal("IsEnvelope false for encoded envelope")
	}
}
