package index

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"fixlog/infra/mmap"
)

// Indexed-position file: a small mapped table with one slot per
// publisher recording the highest contiguous journal position whose
// indexing has completed. Slot layout, little-endian:
//
//	 0  publisherID i32 (zero = unoccupied)
//	 8  recordingID i64
//	16  position    i64
//	24  checksum    u32 over bytes [0, 24)
const (
	positionsHeaderSize = 8
	positionSlotLength  = 32
)

// PositionConsumer receives one recovered indexed position.
type PositionConsumer func(publisherID int32, recordingID int64, position int64)

// PositionWriter owns the file; there is exactly one per stream, on the
// indexer thread.
type PositionWriter struct {
	file    *mmap.File
	buf     []byte
	slots   map[int32]int
	dirty   []int
	onError func(error)
}

func NewPositionWriter(path string, fileSize int, onError func(error)) (*PositionWriter, error) {
	file, err := mmap.Map(path, fileSize)
	if err != nil {
		return nil, err
	}
	w := &PositionWriter{
		file:    file,
		buf:     file.Bytes(),
		slots:   make(map[int32]int),
		onError: onError,
	}
	binary.LittleEndian.PutUint16(w.buf[0:], indexSchemaID)
	binary.LittleEndian.PutUint16(w.buf[2:], indexTemplateID)
	binary.LittleEndian.PutUint16(w.buf[4:], indexVersion)

	// Re-adopt slots written by a previous run.
	for off := positionsHeaderSize; off+positionSlotLength <= len(w.buf); off += positionSlotLength {
		publisherID := int32(binary.LittleEndian.Uint32(w.buf[off:]))
		if publisherID == 0 {
			break
		}
		w.slots[publisherID] = off
	}
	return w, nil
}

// IndexedUpTo records that indexing of recordingID on behalf of
// publisherID has completed through position.
func (w *PositionWriter) IndexedUpTo(publisherID int32, recordingID, position int64) {
	off, ok := w.slots[publisherID]
	if !ok {
		off = positionsHeaderSize + len(w.slots)*positionSlotLength
		if off+positionSlotLength > len(w.buf) {
			w.onError(fmt.Errorf("index: positions file full, dropping publisher %d", publisherID))
			return
		}
		w.slots[publisherID] = off
		binary.LittleEndian.PutUint32(w.buf[off:], uint32(publisherID))
	}
	binary.LittleEndian.PutUint64(w.buf[off+8:], uint64(recordingID))
	binary.LittleEndian.PutUint64(w.buf[off+16:], uint64(position))
	w.dirty = append(w.dirty, off)
}

// UpdateChecksums seals every slot touched since the last call.
func (w *PositionWriter) UpdateChecksums() {
	for _, off := range w.dirty {
		sum := crc32.ChecksumIEEE(w.buf[off : off+24])
		binary.LittleEndian.PutUint32(w.buf[off+24:], sum)
	}
	w.dirty = w.dirty[:0]
}

func (w *PositionWriter) Close() error {
	w.UpdateChecksums()
	_ = w.file.Force()
	return w.file.Close()
}

// PositionReader recovers indexed positions at catch-up time.
type PositionReader struct {
	buf []byte
}

func NewPositionReader(buf []byte) *PositionReader {
	return &PositionReader{buf: buf}
}

// ReadLastPosition yields every slot whose checksum validates.
func (r *PositionReader) ReadLastPosition(consumer PositionConsumer) {
	for off := positionsHeaderSize; off+positionSlotLength <= len(r.buf); off += positionSlotLength {
		publisherID := int32(binary.LittleEndian.Uint32(r.buf[off:]))
		if publisherID == 0 {
			break
		}
		want := binary.LittleEndian.Uint32(r.buf[off+24:])
		if crc32.ChecksumIEEE(r.buf[off:off+24]) != want {
			continue
		}
		recordingID := int64(binary.LittleEndian.Uint64(r.buf[off+8:]))
		position := int64(binary.LittleEndian.Uint64(r.buf[off+16:]))
		consumer(publisherID, recordingID, position)
	}
}
