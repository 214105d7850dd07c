package journal

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := New(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	return j
}

func TestOfferAndPoll(t *testing.T) {
	j := newTestJournal(t)

	pub, err := j.AddPublication(1)
	if err != nil {
		t.Fatalf("publication: %v", err)
	}
	const n = 50
	for i := 0; i < n; i++ {
		if _, err := pub.Offer([]byte{byte(i), byte(i + 1), byte(i + 2)}); err != nil {
			t.Fatalf("offer %d: %v", i, err)
		}
	}

	sub, err := j.AddSubscription(1)
	if err != nil {
		t.Fatalf("subscription: %v", err)
	}
	var got [][]byte
	for sub.Poll(func(payload []byte, frame Frame) {
		if !frame.IsUnfragmented() {
			t.Fatalf("unexpected flags %x", frame.Flags)
		}
		got = append(got, append([]byte(nil), payload...))
	}, 16) > 0 {
	}
	if len(got) != n {
		t.Fatalf("polled %d fragments, want %d", len(got), n)
	}
	if !bytes.Equal(got[7], []byte{7, 8, 9}) {
		t.Fatalf("payload mismatch: %v", got[7])
	}
}

func TestOffer_Fragments(t *testing.T) {
	j := newTestJournal(t)

	pub, _ := j.AddPublication(1)
	large := bytes.Repeat([]byte{0xAB}, 3*pub.MaxPayloadLength()+17)
	if _, err := pub.Offer(large); err != nil {
		t.Fatalf("offer: %v", err)
	}

	sub, _ := j.AddSubscription(1)
	var assembled []byte
	asm := NewFragmentAssembler(func(payload []byte, frame Frame) {
		assembled = append([]byte(nil), payload...)
	})
	for sub.Poll(asm.OnFragment, 16) > 0 {
	}
	if !bytes.Equal(assembled, large) {
		t.Fatalf("reassembled %d bytes, want %d", len(assembled), len(large))
	}
}

func TestTryClaimCommit(t *testing.T) {
	j := newTestJournal(t)

	pub, _ := j.AddPublication(1)
	buf, err := pub.TryClaim(5)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	copy(buf, "hello")

	// A second claim before commit sees back pressure.
	if _, err := pub.TryClaim(5); err != ErrBackPressure {
		t.Fatalf("expected back pressure, got %v", err)
	}
	if _, err := pub.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	sub, _ := j.AddSubscription(1)
	polled := 0
	sub.Poll(func(payload []byte, frame Frame) {
		polled++
		if string(payload) != "hello" {
			t.Fatalf("payload %q", payload)
		}
	}, 16)
	if polled != 1 {
		t.Fatalf("polled %d", polled)
	}
}

func TestAbortDiscardsClaim(t *testing.T) {
	j := newTestJournal(t)
	pub, _ := j.AddPublication(1)

	if _, err := pub.TryClaim(3); err != nil {
		t.Fatal(err)
	}
	pub.Abort()

	sub, _ := j.AddSubscription(1)
	if n := sub.Poll(func([]byte, Frame) {}, 16); n != 0 {
		t.Fatalf("aborted claim became visible: %d", n)
	}
}

func TestReplay_Bounded(t *testing.T) {
	j := newTestJournal(t)
	pub, _ := j.AddPublication(1)

	var positions []int64
	for i := 0; i < 10; i++ {
		pos, _ := pub.Offer([]byte{byte(i)})
		positions = append(positions, pos)
	}

	// Replay only messages 3..5 using their byte range.
	begin := positions[2]
	length := positions[5] - positions[2]
	img, err := j.Replay(pub.RecordingID(), begin, length)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	defer img.Close()

	var got []byte
	for img.Poll(func(payload []byte, frame Frame) {
		got = append(got, payload[0])
	}, 16) > 0 {
	}
	if !bytes.Equal(got, []byte{3, 4, 5}) {
		t.Fatalf("replayed %v", got)
	}
	if img.Position() != positions[5] {
		t.Fatalf("image position %d, want %d", img.Position(), positions[5])
	}
}

func TestStopPosition(t *testing.T) {
	j := newTestJournal(t)
	pub, _ := j.AddPublication(1)
	pos, _ := pub.Offer([]byte("abc"))

	stop, err := j.StopPosition(pub.RecordingID())
	if err != nil {
		t.Fatalf("stop position: %v", err)
	}
	if stop != pos {
		t.Fatalf("stop %d, want %d", stop, pos)
	}
}

func TestPoll_StopsAtCorruptFrame(t *testing.T) {
	dir := t.TempDir()
	j, err := New(dir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	pub, _ := j.AddPublication(1)
	pub.Offer([]byte("first"))
	pub.Offer([]byte("second"))
	_ = pub.Sync()

	// Corrupt the second frame's payload on disk.
	files, _ := filepath.Glob(filepath.Join(dir, "recording-*.jnl"))
	f, err := os.OpenFile(files[0], os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0xFF, 0xFF}, int64(FrameAlignment+frameHeaderSize)); err != nil {
		t.Fatal(err)
	}
	f.Close()

	sub, _ := j.AddSubscription(1)
	polled := 0
	sub.Poll(func(payload []byte, frame Frame) { polled++ }, 16)
	if polled != 1 {
		t.Fatalf("expected only the intact frame, polled %d", polled)
	}
}

func TestSubscription_CrossesRecordings(t *testing.T) {
	j := newTestJournal(t)

	first, _ := j.AddPublication(1)
	first.Offer([]byte("one"))
	first.Close()

	second, _ := j.AddPublication(1)
	second.Offer([]byte("two"))

	sub, _ := j.AddSubscription(1)
	var got []string
	for sub.Poll(func(payload []byte, frame Frame) {
		got = append(got, string(payload))
	}, 16) > 0 {
	}
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("got %v", got)
	}
}

func TestRecordingListener(t *testing.T) {
	j := newTestJournal(t)
	var events []RecordingInfo
	j.AddListener(listenerFunc(func(info RecordingInfo) { events = append(events, info) }))

	pub, _ := j.AddPublication(7)
	pub.Offer([]byte("x"))
	pub.Close()

	if len(events) != 2 {
		t.Fatalf("expected start+stop events, got %d", len(events))
	}
	if events[0].StopPosition != NullPosition {
		t.Fatalf("start event should be active: %+v", events[0])
	}
	if events[1].StopPosition != pub.Position() {
		t.Fatalf("stop event position %d, want %d", events[1].StopPosition, pub.Position())
	}
}

type listenerFunc func(RecordingInfo)

func (f listenerFunc) OnRecordingStart(info RecordingInfo) { f(info) }
func (f listenerFunc) OnRecordingStop(info RecordingInfo)  { f(info) }
