package index

import (
	"bytes"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"fixlog/domain/fix"
	"fixlog/infra/agent"
	"fixlog/infra/journal"
)

const (
	testStreamID      = int32(1)
	testSessionID     = int64(42)
	testIndexFileSize = HeaderSize + 1024
	testPositionsSize = 4096
)

func testSink(t *testing.T) func(error) {
	return func(err error) { t.Errorf("unexpected pipeline error: %v", err) }
}

func newTestJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.New(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func newTestIndex(t *testing.T, logDir string, fileSize int) *ReplayIndex {
	t.Helper()
	idx, err := NewReplayIndex(logDir, testStreamID, fileSize, 4, 4, testPositionsSize, testSink(t))
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func publishMessage(t *testing.T, pub *journal.Publication, seqNum int, status fix.MessageStatus) []byte {
	t.Helper()
	msg := fix.Build("D", seqNum, "SND", "TGT", "20260805-12:00:00.000",
		fix.Field{Tag: 55, Value: fmt.Sprintf("SYM%d", seqNum)})
	payload := fix.AppendEnvelope(nil, fix.Envelope{
		Session: testSessionID, SequenceIndex: 0, Status: status, Body: msg,
	})
	if _, err := pub.Offer(payload); err != nil {
		t.Fatalf("offer seq %d: %v", seqNum, err)
	}
	return msg
}

func drainIndexer(idx *Indexer) {
	for idx.DoWork() > 0 {
	}
}

func newIndexer(t *testing.T, jnl *journal.Journal, indices []Index) *Indexer {
	t.Helper()
	sub, err := jnl.AddSubscription(testStreamID)
	if err != nil {
		t.Fatal(err)
	}
	return NewIndexer(indices, sub, jnl, agent.NewCompletionPosition(), nil, testSink(t))
}

func TestIndexingCompleteness(t *testing.T) {
	jnl := newTestJournal(t)
	logDir := t.TempDir()

	pub, _ := jnl.AddPublication(testStreamID)
	var sent [][]byte
	for seq := 1; seq <= 10; seq++ {
		sent = append(sent, publishMessage(t, pub, seq, fix.StatusOK))
	}

	replayIndex := newTestIndex(t, logDir, testIndexFileSize)
	indexer := newIndexer(t, jnl, []Index{replayIndex})
	drainIndexer(indexer)

	query := NewQuery(logDir, testStreamID, testIndexFileSize)
	records, err := query.Fetch(testSessionID, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 10 {
		t.Fatalf("indexed %d records, want 10", len(records))
	}

	// Each indexed byte range must round-trip to the original message.
	for i, rec := range records {
		if rec.SequenceNumber != i+1 {
			t.Fatalf("record %d has sequence %d", i, rec.SequenceNumber)
		}
		img, err := jnl.Replay(rec.RecordingID, rec.Position, int64(rec.Length))
		if err != nil {
			t.Fatal(err)
		}
		var body []byte
		img.Poll(func(payload []byte, frame journal.Frame) {
			env, err := fix.DecodeEnvelope(payload)
			if err != nil {
				t.Fatalf("replayed frame is not an envelope: %v", err)
			}
			body = append([]byte(nil), env.Body...)
		}, 1)
		img.Close()
		if !bytes.Equal(body, sent[i]) {
			t.Fatalf("seq %d bytes do not round-trip", i+1)
		}
	}
	if err := replayIndex.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestStatusGating(t *testing.T) {
	jnl := newTestJournal(t)
	logDir := t.TempDir()

	pub, _ := jnl.AddPublication(testStreamID)
	publishMessage(t, pub, 1, fix.StatusOK)
	publishMessage(t, pub, 2, fix.StatusReplayed)
	publishMessage(t, pub, 3, fix.StatusInvalid)
	publishMessage(t, pub, 4, fix.StatusOK)

	replayIndex := newTestIndex(t, logDir, testIndexFileSize)
	indexer := newIndexer(t, jnl, []Index{replayIndex})
	drainIndexer(indexer)
	defer replayIndex.Close()

	records, err := NewQuery(logDir, testStreamID, testIndexFileSize).Fetch(testSessionID, 1, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("indexed %d records, want only the OK pair", len(records))
	}
	if records[0].SequenceNumber != 1 || records[1].SequenceNumber != 4 {
		t.Fatalf("unexpected sequences: %+v", records)
	}
}

func TestRingWrap_OverwritesOldest(t *testing.T) {
	jnl := newTestJournal(t)
	logDir := t.TempDir()
	fileSize := HeaderSize + 4*RecordLength

	pub, _ := jnl.AddPublication(testStreamID)
	for seq := 1; seq <= 6; seq++ {
		publishMessage(t, pub, seq, fix.StatusOK)
	}

	replayIndex := newTestIndex(t, logDir, fileSize)
	indexer := newIndexer(t, jnl, []Index{replayIndex})
	drainIndexer(indexer)
	defer replayIndex.Close()

	query := NewQuery(logDir, testStreamID, fileSize)

	// The ring held four records, so 1 and 2 are gone.
	for _, seq := range []int{1, 2} {
		records, err := query.Fetch(testSessionID, seq, seq)
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 0 {
			t.Fatalf("seq %d should have been overwritten: %+v", seq, records)
		}
	}
	records, err := query.Fetch(testSessionID, 3, 6)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 4 {
		t.Fatalf("want 4 surviving records, got %d", len(records))
	}
	for i, rec := range records {
		if rec.SequenceNumber != 3+i {
			t.Fatalf("record %d: seq %d", i, rec.SequenceNumber)
		}
	}
}

func TestFragmentedMessage_IndexCoversAllFragments(t *testing.T) {
	jnl := newTestJournal(t)
	logDir := t.TempDir()

	pub, _ := jnl.AddPublication(testStreamID)
	padding := make([]byte, 3*journal.DefaultMTU)
	for i := range padding {
		padding[i] = 'X'
	}
	msg := fix.Build("D", 1, "SND", "TGT", "20260805-12:00:00.000",
		fix.Field{Tag: 58, Value: string(padding)})
	payload := fix.AppendEnvelope(nil, fix.Envelope{
		Session: testSessionID, Status: fix.StatusOK, Body: msg,
	})
	if _, err := pub.Offer(payload); err != nil {
		t.Fatal(err)
	}

	replayIndex := newTestIndex(t, logDir, HeaderSize+(1<<15))
	indexer := newIndexer(t, jnl, []Index{replayIndex})
	drainIndexer(indexer)
	defer replayIndex.Close()

	records, err := NewQuery(logDir, testStreamID, HeaderSize+(1<<15)).Fetch(testSessionID, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("want one surviving record per message, got %d", len(records))
	}
	rec := records[0]
	if int(rec.Length) < len(payload) {
		t.Fatalf("record length %d does not cover the %d payload bytes", rec.Length, len(payload))
	}
	if rec.Position+int64(rec.Length) > pub.Position() {
		t.Fatalf("record range [%d, +%d) exceeds publication position %d",
			rec.Position, rec.Length, pub.Position())
	}
}

func TestCatchUp_CrashConsistent(t *testing.T) {
	jnl := newTestJournal(t)
	logDir := t.TempDir()

	pub, _ := jnl.AddPublication(testStreamID)
	for seq := 1; seq <= 100; seq++ {
		publishMessage(t, pub, seq, fix.StatusOK)
	}

	// First run indexes only 60 messages, then stops as a crash would.
	first := newTestIndex(t, logDir, HeaderSize+(1<<13))
	indexer := newIndexer(t, jnl, []Index{first})
	for i := 0; i < 3; i++ {
		indexer.DoWork()
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}
	records, err := NewQuery(logDir, testStreamID, HeaderSize+(1<<13)).Fetch(testSessionID, 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 60 {
		t.Fatalf("first run indexed %d, want 60", len(records))
	}

	// Restart: construction catches the index up to the recording's stop
	// position before any live polling.
	second := newTestIndex(t, logDir, HeaderSize+(1<<13))
	_ = newIndexer(t, jnl, []Index{second})
	defer second.Close()

	records, err = NewQuery(logDir, testStreamID, HeaderSize+(1<<13)).Fetch(testSessionID, 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 100 {
		t.Fatalf("after catch-up index holds %d, want 100", len(records))
	}
	for i, rec := range records {
		if rec.SequenceNumber != i+1 {
			t.Fatalf("record %d: seq %d", i, rec.SequenceNumber)
		}
	}
}

func TestPositionWriter_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewPositionWriter(dir+"/replay-positions-1", testPositionsSize, testSink(t))
	if err != nil {
		t.Fatal(err)
	}
	w.IndexedUpTo(3, 9, 4096)
	w.IndexedUpTo(5, 11, 8192)
	w.IndexedUpTo(3, 9, 6144)
	w.UpdateChecksums()

	got := map[int32][2]int64{}
	NewPositionReader(w.buf).ReadLastPosition(func(publisherID int32, recordingID, position int64) {
		got[publisherID] = [2]int64{recordingID, position}
	})
	if got[3] != [2]int64{9, 6144} || got[5] != [2]int64{11, 8192} {
		t.Fatalf("unexpected positions: %v", got)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopening re-adopts the slots.
	w2, err := NewPositionWriter(dir+"/replay-positions-1", testPositionsSize, testSink(t))
	if err != nil {
		t.Fatal(err)
	}
	defer w2.Close()
	count := 0
	NewPositionReader(w2.buf).ReadLastPosition(func(int32, int64, int64) { count++ })
	if count != 2 {
		t.Fatalf("recovered %d slots, want 2", count)
	}
}
