// Package archive provides offline access to the journal: a durable
// catalog of recordings and a scanner that streams recorded FIX messages
// to a consumer.
package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cockroachdb/pebble"

	"fixlog/infra/journal"
)

// Catalog persists recording metadata in pebble, keyed by (stream id,
// recording id). It implements journal.RecordingListener so entries
// appear when a recording opens and gain a stop position when it seals.
type Catalog struct {
	db *pebble.DB
}

func OpenCatalog(dir string) (*Catalog, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("archive: open catalog: %w", err)
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) OnRecordingStart(info journal.RecordingInfo) {
	_ = c.put(info)
}

func (c *Catalog) OnRecordingStop(info journal.RecordingInfo) {
	if info.StartTime == 0 {
		key := catalogKey(info.StreamID, info.RecordingID)
		if value, closer, err := c.db.Get(key); err == nil {
			if prev, err := decodeCatalogValue(key, value); err == nil {
				info.StartTime = prev.StartTime
			}
			_ = closer.Close()
		}
	}
	_ = c.put(info)
}

// Put stores (or overwrites) one recording entry.
func (c *Catalog) Put(info journal.RecordingInfo) error {
	return c.put(info)
}

func (c *Catalog) put(info journal.RecordingInfo) error {
	return c.db.Set(catalogKey(info.StreamID, info.RecordingID), encodeCatalogValue(info), pebble.Sync)
}

// List returns the catalogued recordings of one stream in recording
// order.
func (c *Catalog) List(streamID int32) ([]journal.RecordingInfo, error) {
	prefix := catalogPrefix(streamID)
	upper := append(append([]byte(nil), prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []journal.RecordingInfo
	for iter.First(); iter.Valid(); iter.Next() {
		info, err := decodeCatalogValue(iter.Key(), iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, iter.Error()
}

// key: "rec/" | streamID u32 BE | recordingID u64 BE, so prefix scans
// select a stream and iterate in recording order.
func catalogPrefix(streamID int32) []byte {
	key := make([]byte, 0, 8)
	key = append(key, "rec/"...)
	key = binary.BigEndian.AppendUint32(key, uint32(streamID))
	return key
}

func catalogKey(streamID int32, recordingID int64) []byte {
	key := catalogPrefix(streamID)
	return binary.BigEndian.AppendUint64(key, uint64(recordingID))
}

// value: publisherID u32 | startPos u64 | stopPos u64 | startTime u64 |
// stopTime u64, big-endian; an active recording stores stopPos as
// MaxUint64.
func encodeCatalogValue(info journal.RecordingInfo) []byte {
	buf := make([]byte, 0, 36)
	buf = binary.BigEndian.AppendUint32(buf, uint32(info.PublisherID))
	buf = binary.BigEndian.AppendUint64(buf, uint64(info.StartPosition))
	stop := uint64(math.MaxUint64)
	if info.StopPosition != journal.NullPosition {
		stop = uint64(info.StopPosition)
	}
	buf = binary.BigEndian.AppendUint64(buf, stop)
	buf = binary.BigEndian.AppendUint64(buf, uint64(info.StartTime))
	buf = binary.BigEndian.AppendUint64(buf, uint64(info.StopTime))
	return buf
}

func decodeCatalogValue(key, value []byte) (journal.RecordingInfo, error) {
	if len(key) != 16 || len(value) != 36 {
		return journal.RecordingInfo{}, errors.New("archive: malformed catalog entry")
	}
	info := journal.RecordingInfo{
		StreamID:      int32(binary.BigEndian.Uint32(key[4:])),
		RecordingID:   int64(binary.BigEndian.Uint64(key[8:])),
		PublisherID:   int32(binary.BigEndian.Uint32(value[0:])),
		StartPosition: int64(binary.BigEndian.Uint64(value[4:])),
		StartTime:     int64(binary.BigEndian.Uint64(value[20:])),
		StopTime:      int64(binary.BigEndian.Uint64(value[28:])),
	}
	stop := binary.BigEndian.Uint64(value[12:])
	if stop == math.MaxUint64 {
		info.StopPosition = journal.NullPosition
	} else {
		info.StopPosition = int64(stop)
	}
	return info, nil
}
