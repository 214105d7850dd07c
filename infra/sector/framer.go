// Package sector packs variable-length records into fixed-size sectors of
// a memory-mapped file. A record never straddles a sector boundary and
// each sector carries a trailing CRC32 over its data region.
package sector

import (
	"encoding/binary"
	"hash/crc32"
)

const (
	// Size is the sector granularity, matching the common page size.
	Size = 4096

	// ChecksumSize is the width of the trailing CRC32.
	ChecksumSize = 4

	// DataLength is the number of record bytes per sector.
	DataLength = Size - ChecksumSize

	// FirstChecksumLocation is the checksum offset of sector zero.
	FirstChecksumLocation = DataLength

	// OutOfSpace marks a claim that could not be satisfied.
	OutOfSpace = -1
)

// Framer allocates record space within sectors. It remembers the sector
// touched by the last claim so callers can re-checksum it.
type Framer struct {
	capacity       int
	sectorStart    int
	checksumOffset int
}

func NewFramer(capacity int) *Framer {
	return &Framer{capacity: capacity}
}

// Claim returns the position at which a record of length bytes may be
// written: position itself when it fits before the current sector's
// checksum, otherwise the start of the next sector. Returns OutOfSpace
// when the file is exhausted.
func (f *Framer) Claim(position, length int) int {
	nextSector := NextSectorStart(position)
	checksumOffset := nextSector - ChecksumSize

	filePosition := position
	if filePosition+length > checksumOffset {
		filePosition = nextSector
		nextSector += Size
	}

	f.sectorStart = nextSector - Size
	f.checksumOffset = nextSector - ChecksumSize

	if filePosition+length > f.checksumOffset || nextSector > f.capacity {
		return OutOfSpace
	}
	return filePosition
}

// SectorStart is the start of the sector of the last claim.
func (f *Framer) SectorStart() int { return f.sectorStart }

// ChecksumOffset is the checksum location of the sector of the last claim.
func (f *Framer) ChecksumOffset() int { return f.checksumOffset }

// NextSectorStart returns the start of the sector following position.
// A position already at a sector start belongs to that sector.
func NextSectorStart(position int) int {
	return (position/Size + 1) * Size
}

// UpdateChecksum recomputes the CRC over buf[start:checksumOffset] and
// stores it little-endian at checksumOffset.
func UpdateChecksum(buf []byte, start, checksumOffset int) {
	sum := crc32.ChecksumIEEE(buf[start:checksumOffset])
	binary.LittleEndian.PutUint32(buf[checksumOffset:], sum)
}

// ValidateChecksum reports whether the stored CRC of the sector beginning
// at start matches its data region.
func ValidateChecksum(buf []byte, start int) bool {
	checksumOffset := start + DataLength
	want := binary.LittleEndian.Uint32(buf[checksumOffset:])
	return crc32.ChecksumIEEE(buf[start:checksumOffset]) == want
}
