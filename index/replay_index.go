package index

import (
	"encoding/binary"
	"os"

	"fixlog/domain/fix"
	"fixlog/infra/journal"
	"fixlog/infra/mmap"
	"fixlog/metrics"
)

// ReplayIndex records, for every OK sent message, where its bytes live
// in the journal, keyed by (sequence number, sequence index). One ring
// file per FIX session, held in a bounded cache.
type ReplayIndex struct {
	logDir        string
	streamID      int32
	indexFileSize int
	cache         *sessionCache
	positions     *PositionWriter
	reader        *PositionReader
	onError       func(error)

	// State of the in-flight fragmented message. Safe as plain fields:
	// the indexer is a single-threaded agent.
	continuedSessionID int64
	continuedSeqNum    int
	continuedSeqIndex  int32
	continuedLength    int
	continuedSkip      bool
}

// NewReplayIndex opens (or creates) the positions file for streamID and
// prepares the per-session index cache.
func NewReplayIndex(
	logDir string,
	streamID int32,
	indexFileSize int,
	cacheNumSets int,
	cacheSetSize int,
	positionsFileSize int,
	onError func(error),
) (*ReplayIndex, error) {
	if _, err := recordCapacity(indexFileSize); err != nil {
		return nil, err
	}
	positions, err := NewPositionWriter(PositionsFilePath(logDir, streamID), positionsFileSize, onError)
	if err != nil {
		return nil, err
	}
	r := &ReplayIndex{
		logDir:        logDir,
		streamID:      streamID,
		indexFileSize: indexFileSize,
		positions:     positions,
		reader:        NewPositionReader(positions.buf),
		onError:       onError,
	}
	r.cache = newSessionCache(cacheNumSets, cacheSetSize, func(idx *sessionIndex) {
		if err := idx.close(); err != nil {
			onError(err)
		}
	})
	return r, nil
}

// DoWork exists to satisfy the Index duty cycle; the replay index has no
// background work of its own.
func (r *ReplayIndex) DoWork() int { return 0 }

// OnFragment indexes one polled fragment. Non-FIX frames and non-OK
// messages are ignored; fragments of a skipped message stay skipped.
func (r *ReplayIndex) OnFragment(payload []byte, frame journal.Frame) {
	if frame.StreamID != r.streamID {
		return
	}
	aligned := journal.AlignedFrameLength(len(payload))

	if frame.IsUnfragmented() || frame.IsBegin() {
		env, err := fix.DecodeEnvelope(payload)
		if err != nil || env.Status != fix.StatusOK {
			r.continuedSkip = !frame.IsEnd()
			return
		}
		// Begin fragments hold a truncated body; the header fields we
		// need come first, so a truncation error is fine once the
		// sequence number was seen.
		hdr, scanErr := fix.ScanHeader(env.Body)
		if hdr.MsgSeqNum == fix.NoEntry {
			if scanErr != nil {
				r.onError(scanErr)
			}
			r.continuedSkip = !frame.IsEnd()
			return
		}
		if frame.IsBegin() && !frame.IsEnd() {
			r.continuedSessionID = env.Session
			r.continuedSeqNum = hdr.MsgSeqNum
			r.continuedSeqIndex = env.SequenceIndex
			r.continuedLength = aligned
			r.continuedSkip = false
		}
		r.onRecord(env.Session, hdr.MsgSeqNum, env.SequenceIndex, aligned, frame)
		return
	}

	if r.continuedSkip {
		return
	}
	r.continuedLength += aligned
	r.onRecord(r.continuedSessionID, r.continuedSeqNum, r.continuedSeqIndex, r.continuedLength, frame)
}

func (r *ReplayIndex) onRecord(fixSessionID int64, seqNum int, seqIndex int32, length int, frame journal.Frame) {
	idx := r.cache.lookup(fixSessionID)
	if idx == nil {
		var err error
		idx, err = newSessionIndex(LogFilePath(r.logDir, fixSessionID, r.streamID), r.indexFileSize)
		if err != nil {
			r.onError(err)
			return
		}
		r.cache.put(fixSessionID, idx)
	}
	idx.onRecord(r.streamID, frame.Position, length, seqNum, seqIndex, frame.RecordingID, frame.PublisherID, r.positions)
	metrics.MessagesIndexed.Inc()
}

// ReadLastPosition yields the recovered indexed positions for catch-up.
func (r *ReplayIndex) ReadLastPosition(consumer PositionConsumer) {
	r.reader.ReadLastPosition(consumer)
}

// Close unmaps every cached session index and the positions file.
func (r *ReplayIndex) Close() error {
	r.cache.clear()
	return r.positions.Close()
}

// sessionIndex is the mmap ring of one (session, stream) pair, written
// by the single indexer thread and read concurrently by replayers.
type sessionIndex struct {
	file     *mmap.File
	buf      []byte
	capacity int64
}

func newSessionIndex(path string, fileSize int) (*sessionIndex, error) {
	_, statErr := os.Stat(path)
	existed := statErr == nil

	file, err := mmap.Map(path, fileSize)
	if err != nil {
		return nil, err
	}
	capacity, err := recordCapacity(fileSize)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	s := &sessionIndex{file: file, buf: file.Bytes(), capacity: capacity}

	if !existed {
		binary.LittleEndian.PutUint16(s.buf[0:], indexSchemaID)
		binary.LittleEndian.PutUint16(s.buf[2:], indexTemplateID)
		binary.LittleEndian.PutUint16(s.buf[4:], indexVersion)
		binary.LittleEndian.PutUint16(s.buf[6:], RecordLength)
	} else {
		// Normalise the counters so a reader attaching now cannot see a
		// wrap at slot zero before its first observation.
		reset := beginChange(s.buf) & (capacity - 1)
		beginChangeOrdered(s.buf, reset)
		endChangeOrdered(s.buf, reset)
	}
	return s, nil
}

// onRecord runs the seqlock write protocol: publish the new tail, store
// the record, persist the indexed position, then commit.
func (s *sessionIndex) onRecord(
	streamID int32,
	endPosition int64,
	length int,
	seqNum int,
	seqIndex int32,
	recordingID int64,
	publisherID int32,
	positions *PositionWriter,
) {
	begin := beginChange(s.buf)
	change := begin + RecordLength
	beginPosition := endPosition - int64(length)

	beginChangeOrdered(s.buf, change)

	off := offset(begin, s.capacity)
	binary.LittleEndian.PutUint64(s.buf[off:], uint64(beginPosition))
	binary.LittleEndian.PutUint64(s.buf[off+8:], uint64(recordingID))
	binary.LittleEndian.PutUint32(s.buf[off+16:], uint32(streamID))
	binary.LittleEndian.PutUint32(s.buf[off+20:], uint32(seqNum))
	binary.LittleEndian.PutUint32(s.buf[off+24:], uint32(seqIndex))
	binary.LittleEndian.PutUint32(s.buf[off+28:], uint32(length))

	positions.IndexedUpTo(publisherID, recordingID, endPosition)
	positions.UpdateChecksums()

	endChangeOrdered(s.buf, change)
}

func (s *sessionIndex) close() error {
	return s.file.Close()
}
