package session

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"fixlog/domain/fix"
	"fixlog/infra/mmap"
	"fixlog/infra/sector"
	"fixlog/metrics"
)

// Contexts file schema header.
const (
	schemaID      = uint16(101)
	templateID    = uint16(1)
	schemaVersion = uint16(1)

	headerSize = 8

	// blockLength is the fixed record header preceding the composite
	// key bytes: sessionID i64, sequenceIndex i32, logonTime i64,
	// compositeKeyLength i32.
	blockLength = 24

	encodingBufferSize = sector.Size - sector.ChecksumSize
)

// Contexts is the durable identity store. It is owned by a single
// thread; readers go through the in-memory maps on that thread.
type Contexts struct {
	file    *mmap.File
	buf     []byte
	framer  *sector.Framer
	onError func(error)
	log     *zap.Logger

	keyBuf [encodingBufferSize]byte

	authenticated map[int64]struct{}
	recorded      map[int64]struct{}
	byKey         map[fix.CompositeKey]*Context

	filePosition int
	counter      int64
}

// OpenContexts maps the store at path with the given capacity, writing a
// fresh schema header when the file is new and recovering every persisted
// record otherwise. Corrupted sectors are reported through onError and
// skipped, never fatal.
func OpenContexts(path string, capacity int, onError func(error), log *zap.Logger) (*Contexts, error) {
	file, err := mmap.Map(path, capacity)
	if err != nil {
		return nil, err
	}
	c := &Contexts{
		file:          file,
		buf:           file.Bytes(),
		framer:        sector.NewFramer(capacity),
		onError:       onError,
		log:           log,
		authenticated: make(map[int64]struct{}),
		recorded:      make(map[int64]struct{}),
		byKey:         make(map[fix.CompositeKey]*Context),
		counter:       LowestValidSessionID,
	}
	if err := c.initialiseHeader(); err != nil {
		_ = file.Close()
		return nil, err
	}
	c.loadBuffer()
	if log != nil {
		log.Info("session contexts recovered",
			zap.Int("sessions", len(c.byKey)),
			zap.Int64("next_session_id", c.counter))
	}
	return c, nil
}

func (c *Contexts) initialiseHeader() error {
	hdr := binary.LittleEndian.Uint16(c.buf[0:])
	if hdr == 0 {
		binary.LittleEndian.PutUint16(c.buf[0:], schemaID)
		binary.LittleEndian.PutUint16(c.buf[2:], templateID)
		binary.LittleEndian.PutUint16(c.buf[4:], schemaVersion)
		binary.LittleEndian.PutUint16(c.buf[6:], blockLength)
		sector.UpdateChecksum(c.buf, 0, sector.FirstChecksumLocation)
		return c.file.Force()
	}
	if hdr != schemaID ||
		binary.LittleEndian.Uint16(c.buf[2:]) != templateID ||
		binary.LittleEndian.Uint16(c.buf[4:]) != schemaVersion {
		return fmt.Errorf("session: schema mismatch in contexts file: id=%d template=%d version=%d",
			hdr,
			binary.LittleEndian.Uint16(c.buf[2:]),
			binary.LittleEndian.Uint16(c.buf[4:]))
	}
	return nil
}

// loadBuffer scans sectors from the header onwards. A zero session id
// means end-of-data within the sector; the next sector start is peeked
// before recovery stops, since records never straddle a boundary.
func (c *Contexts) loadBuffer() {
	sectorEnd := 0
	c.filePosition = headerSize
	lastRecordStart := len(c.buf) - blockLength

	for c.filePosition < lastRecordStart {
		sectorEnd = c.validateSectorChecksum(c.filePosition, sectorEnd)

		sessionID := int64(binary.LittleEndian.Uint64(c.buf[c.filePosition:]))
		if sessionID == 0 {
			peek := sectorEnd
			if peek > lastRecordStart {
				return
			}
			sessionID = int64(binary.LittleEndian.Uint64(c.buf[peek:]))
			if sessionID == 0 {
				return
			}
			c.filePosition = peek
		}

		sequenceIndex := int32(binary.LittleEndian.Uint32(c.buf[c.filePosition+8:]))
		logonTime := int64(binary.LittleEndian.Uint64(c.buf[c.filePosition+12:]))
		keyLength := int(binary.LittleEndian.Uint32(c.buf[c.filePosition+20:]))

		key, err := fix.DecodeKey(c.buf[c.filePosition+blockLength:], keyLength)
		if err != nil {
			c.onError(fmt.Errorf("session: unreadable composite key at %d: %w", c.filePosition, err))
			return
		}

		c.byKey[key] = &Context{
			SessionID:     sessionID,
			SequenceIndex: sequenceIndex,
			LogonTime:     logonTime,
			FilePosition:  c.filePosition,
		}
		c.recorded[sessionID] = struct{}{}
		if sessionID+1 > c.counter {
			c.counter = sessionID + 1
		}

		c.filePosition += blockLength + keyLength
	}
}

func (c *Contexts) validateSectorChecksum(position, sectorEnd int) int {
	if position <= sectorEnd {
		return sectorEnd
	}
	nextSectorEnd := sectorEnd + sector.Size
	if !sector.ValidateChecksum(c.buf, sectorEnd) {
		metrics.SectorChecksumFailures.Inc()
		c.onError(fmt.Errorf(
			"session: checksum mismatch in contexts file sector [%d, %d)", sectorEnd, nextSectorEnd))
	}
	return nextSectorEnd
}

// OnLogon resolves key to its context, assigning and persisting a new
// session id for a first logon, then marks the session authenticated.
// Returns ErrDuplicateSession when the id is already authenticated.
func (c *Contexts) OnLogon(key fix.CompositeKey) (*Context, error) {
	ctx, ok := c.byKey[key]
	if !ok {
		sessionID := c.counter
		c.counter++
		ctx = c.assignSessionID(key, sessionID, UnknownSequenceIndex)
		c.byKey[key] = ctx
	}
	if _, dup := c.authenticated[ctx.SessionID]; dup {
		return nil, ErrDuplicateSession
	}
	c.authenticated[ctx.SessionID] = struct{}{}
	return ctx, nil
}

func (c *Contexts) assignSessionID(key fix.CompositeKey, sessionID int64, sequenceIndex int32) *Context {
	ctx := &Context{
		SessionID:     sessionID,
		SequenceIndex: sequenceIndex,
		LogonTime:     NoLogonTime,
		FilePosition:  sector.OutOfSpace,
	}

	keyLength, err := fix.EncodeKey(key, c.keyBuf[:])
	if err != nil {
		c.onError(fmt.Errorf("session: cannot save session id %d for %v: %w", sessionID, key, err))
		return ctx
	}

	if c.filePosition == sector.OutOfSpace {
		return ctx
	}
	c.filePosition = c.framer.Claim(c.filePosition, blockLength+keyLength)
	if c.filePosition == sector.OutOfSpace {
		c.onError(fmt.Errorf("session: out of space storing context for %v", key))
		return ctx
	}

	ctx.FilePosition = c.filePosition
	binary.LittleEndian.PutUint64(c.buf[c.filePosition:], uint64(sessionID))
	binary.LittleEndian.PutUint32(c.buf[c.filePosition+8:], uint32(sequenceIndex))
	noLogonTime := NoLogonTime
	binary.LittleEndian.PutUint64(c.buf[c.filePosition+12:], uint64(noLogonTime))
	binary.LittleEndian.PutUint32(c.buf[c.filePosition+20:], uint32(keyLength))
	copy(c.buf[c.filePosition+blockLength:], c.keyBuf[:keyLength])
	c.filePosition += blockLength + keyLength

	sector.UpdateChecksum(c.buf, c.framer.SectorStart(), c.framer.ChecksumOffset())
	if err := c.file.Force(); err != nil {
		c.onError(fmt.Errorf("session: force contexts file: %w", err))
	}
	c.recorded[sessionID] = struct{}{}
	return ctx
}

// OnDisconnect releases the session id for re-authentication. On-disk
// state is untouched.
func (c *Contexts) OnDisconnect(sessionID int64) {
	delete(c.authenticated, sessionID)
}

// SequenceReset bumps the sequence-reset epoch of a session and persists
// the new value.
func (c *Contexts) SequenceReset(sessionID int64) {
	for _, ctx := range c.byKey {
		if ctx.SessionID == sessionID {
			ctx.SequenceIndex++
			if ctx.Persisted() {
				c.UpdateSavedData(ctx.FilePosition, ctx.SequenceIndex, ctx.LogonTime)
			}
		}
	}
}

// UpdateSavedData rewrites the two mutable fields of a persisted record
// and re-checksums its sector.
func (c *Contexts) UpdateSavedData(filePosition int, sequenceIndex int32, logonTime int64) {
	binary.LittleEndian.PutUint32(c.buf[filePosition+8:], uint32(sequenceIndex))
	binary.LittleEndian.PutUint64(c.buf[filePosition+12:], uint64(logonTime))

	start := sector.NextSectorStart(filePosition) - sector.Size
	sector.UpdateChecksum(c.buf, start, start+sector.DataLength)
	if err := c.file.Force(); err != nil {
		c.onError(fmt.Errorf("session: force contexts file: %w", err))
	}
}

// OnSentFollowerMessage records a session id chosen by the cluster
// leader, decoded from a sent Logon observed on the outbound stream.
// The counter is bumped past it so a later takeover cannot collide.
func (c *Contexts) OnSentFollowerMessage(sessionID int64, sequenceIndex int32, msgType string, body []byte) {
	if msgType != fix.MsgTypeLogon {
		return
	}
	if _, seen := c.recorded[sessionID]; seen {
		return
	}
	c.recorded[sessionID] = struct{}{}
	if sessionID+1 > c.counter {
		c.counter = sessionID + 1
	}

	hdr, err := fix.ScanHeader(body)
	if err != nil {
		c.onError(fmt.Errorf("session: undecodable follower logon for %d: %w", sessionID, err))
		return
	}
	c.OnSentFollowerLogon(hdr, sessionID, sequenceIndex)
}

// OnSentFollowerLogon persists the identity of a follower-observed logon.
func (c *Contexts) OnSentFollowerLogon(hdr fix.Header, sessionID int64, sequenceIndex int32) {
	key := fix.KeyFromHeader(hdr)
	c.byKey[key] = c.assignSessionID(key, sessionID, sequenceIndex)
}

// LookupSessionID returns the id for key, or UnknownSessionID.
func (c *Contexts) LookupSessionID(key fix.CompositeKey) int64 {
	if ctx, ok := c.byKey[key]; ok {
		return ctx.SessionID
	}
	return UnknownSessionID
}

func (c *Contexts) IsAuthenticated(sessionID int64) bool {
	_, ok := c.authenticated[sessionID]
	return ok
}

func (c *Contexts) IsKnownSessionID(sessionID int64) bool {
	for _, ctx := range c.byKey {
		if ctx.SessionID == sessionID {
			return true
		}
	}
	return false
}

// Reset backs the file up to backupPath, zeroes the mapping and starts
// the store afresh. It refuses while any session is authenticated.
func (c *Contexts) Reset(backupPath string) error {
	if len(c.authenticated) != 0 {
		return fmt.Errorf("%w: %d live", ErrSessionsStillAuthenticated, len(c.authenticated))
	}
	if backupPath != "" {
		if err := c.file.TransferTo(backupPath); err != nil {
			return err
		}
	}
	c.counter = LowestValidSessionID
	c.byKey = make(map[fix.CompositeKey]*Context)
	c.recorded = make(map[int64]struct{})

	for i := range c.buf {
		c.buf[i] = 0
	}
	if err := c.initialiseHeader(); err != nil {
		return err
	}
	c.filePosition = headerSize
	c.framer = sector.NewFramer(len(c.buf))
	return c.file.Force()
}

// Close unmaps the contexts file.
func (c *Contexts) Close() error {
	return c.file.Close()
}
