package index

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"time"

	"fixlog/infra/mmap"
)

// Record is one replay index entry as seen by a reader.
type Record struct {
	Position       int64
	RecordingID    int64
	StreamID       int32
	SequenceNumber int
	SequenceIndex  int32
	Length         int32
}

// Reader-side seqlock retry bounds.
const (
	queryMaxRetries     = 10
	queryInitialBackoff = 50 * time.Microsecond
)

// Query reads replay index rings concurrently with the indexer. It opens
// each ring lazily and read-only with respect to the counters.
type Query struct {
	logDir        string
	streamID      int32
	indexFileSize int
}

func NewQuery(logDir string, streamID int32, indexFileSize int) *Query {
	return &Query{logDir: logDir, streamID: streamID, indexFileSize: indexFileSize}
}

// Fetch returns the indexed messages of one session with beginSeq <=
// sequence number <= endSeq, ascending by (sequence index, sequence
// number). A sequence number re-indexed by a later fragment keeps only
// its final (covering) record. Sessions never indexed yield nil.
func (q *Query) Fetch(fixSessionID int64, beginSeq, endSeq int) ([]Record, error) {
	path := LogFilePath(q.logDir, fixSessionID, q.streamID)
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	file, err := mmap.Map(path, q.indexFileSize)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	capacity, err := recordCapacity(q.indexFileSize)
	if err != nil {
		return nil, err
	}
	buf := file.Bytes()

	var matched map[[2]int64]Record
	for attempt := 0; ; attempt++ {
		matched = make(map[[2]int64]Record)

		end := endChange(buf)
		lo := end - capacity
		if lo < 0 {
			lo = 0
		}
		for pos := lo; pos < end; pos += RecordLength {
			off := offset(pos, capacity)
			rec := decodeRecord(buf[off:])
			if rec.SequenceNumber >= beginSeq && rec.SequenceNumber <= endSeq {
				matched[[2]int64{int64(rec.SequenceIndex), int64(rec.SequenceNumber)}] = rec
			}
		}

		// The writer may have lapped us mid-scan; the begin counter
		// tells how far slots have been reclaimed.
		begin := beginChange(buf)
		if begin-lo <= capacity {
			break
		}
		if attempt >= queryMaxRetries {
			return nil, fmt.Errorf("index: reader lapped by writer on session %d", fixSessionID)
		}
		time.Sleep(queryInitialBackoff << attempt)
	}

	if len(matched) == 0 {
		return nil, nil
	}
	out := make([]Record, 0, len(matched))
	for _, rec := range matched {
		out = append(out, rec)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].SequenceIndex != out[b].SequenceIndex {
			return out[a].SequenceIndex < out[b].SequenceIndex
		}
		return out[a].SequenceNumber < out[b].SequenceNumber
	})
	return out, nil
}

func decodeRecord(b []byte) Record {
	return Record{
		Position:       int64(binary.LittleEndian.Uint64(b[0:])),
		RecordingID:    int64(binary.LittleEndian.Uint64(b[8:])),
		StreamID:       int32(binary.LittleEndian.Uint32(b[16:])),
		SequenceNumber: int(int32(binary.LittleEndian.Uint32(b[20:]))),
		SequenceIndex:  int32(binary.LittleEndian.Uint32(b[24:])),
		Length:         int32(binary.LittleEndian.Uint32(b[28:])),
	}
}
