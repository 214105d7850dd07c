// Package index builds per-session replay indexes from the sent-message
// stream: one memory-mapped ring per (session id, stream id) mapping
// sequence numbers to byte ranges in the journal, plus a positions file
// recording how far each recording has been indexed.
package index

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"unsafe"
)

const (
	// RecordLength is the fixed size of one replay index record.
	RecordLength = 32

	// HeaderSize covers the schema block and both change counters.
	HeaderSize = 24

	beginChangeOffset = 8
	endChangeOffset   = 16

	indexSchemaID   = uint16(102)
	indexTemplateID = uint16(2)
	indexVersion    = uint16(1)
)

// Record layout within RecordLength bytes, little-endian:
//
//	 0  position    i64  begin byte of the message in its recording
//	 8  recordingID i64
//	16  streamID    i32
//	20  sequenceNumber i32
//	24  sequenceIndex  i32
//	28  length      i32  aligned span covering every fragment so far

// LogFilePath names the ring for one (session, stream) pair.
func LogFilePath(logDir string, fixSessionID int64, streamID int32) string {
	return filepath.Join(logDir, fmt.Sprintf("replay-index-%d-%d", fixSessionID, streamID))
}

// PositionsFilePath names the indexed-position file for a stream.
func PositionsFilePath(logDir string, streamID int32) string {
	return filepath.Join(logDir, fmt.Sprintf("replay-positions-%d", streamID))
}

// recordCapacity is the ring byte capacity of a file of the given size.
// It must be a power of two so masking produces slot offsets.
func recordCapacity(fileSize int) (int64, error) {
	capacity := int64(fileSize - HeaderSize)
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return 0, fmt.Errorf("index: file size %d is not header + power of two", fileSize)
	}
	return capacity, nil
}

// offset maps a monotonically increasing change position onto its slot.
func offset(position, capacity int64) int64 {
	return HeaderSize + (position & (capacity - 1))
}

// The change counters are the only cross-thread ordering points of the
// ring: release stores by the writer, acquire loads by readers. The
// record bytes themselves are plain memory validated by re-reading the
// counters.

func beginChange(buf []byte) int64 {
	return atomic.LoadInt64((*int64)(unsafe.Pointer(&buf[beginChangeOffset])))
}

func beginChangeOrdered(buf []byte, v int64) {
	atomic.StoreInt64((*int64)(unsafe.Pointer(&buf[beginChangeOffset])), v)
}

func endChange(buf []byte) int64 {
	return atomic.LoadInt64((*int64)(unsafe.Pointer(&buf[endChangeOffset])))
}

func endChangeOrdered(buf []byte, v int64) {
	atomic.StoreInt64((*int64)(unsafe.Pointer(&buf[endChangeOffset])), v)
}
