package journal

import (
	"fmt"
	"os"
)

// Publication appends frames to one recording. It belongs to a single
// agent; only registry operations on the Journal are synchronised.
type Publication struct {
	journal     *Journal
	file        *os.File
	streamID    int32
	publisherID int32
	recordingID int64
	position    int64

	maxPayload int
	claimBuf   []byte
	claimLen   int
	claimed    bool
	closed     bool
}

func (p *Publication) StreamID() int32    { return p.streamID }
func (p *Publication) PublisherID() int32 { return p.publisherID }
func (p *Publication) RecordingID() int64 { return p.recordingID }

// Position is the end position of the last committed frame.
func (p *Publication) Position() int64 { return p.position }

// MaxPayloadLength is the largest single-frame claim.
func (p *Publication) MaxPayloadLength() int { return p.maxPayload }

// TryClaim reserves a payload buffer of the given length for one frame.
// The claim is not visible until Commit. An outstanding claim must be
// committed or aborted first; until then further claims see back
// pressure.
func (p *Publication) TryClaim(length int) ([]byte, error) {
	if length > p.maxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrClaimTooLarge, length, p.maxPayload)
	}
	if p.claimed {
		return nil, ErrBackPressure
	}
	need := AlignedFrameLength(length)
	if cap(p.claimBuf) < need {
		p.claimBuf = make([]byte, need)
	}
	p.claimBuf = p.claimBuf[:need]
	p.claimLen = length
	p.claimed = true
	return p.claimBuf[frameHeaderSize : frameHeaderSize+length], nil
}

// Commit seals the outstanding claim: frame header and CRC are written
// and the frame is appended as a single unfragmented fragment.
func (p *Publication) Commit() (int64, error) {
	if !p.claimed {
		return 0, ErrNothingClaimed
	}
	p.claimed = false
	payload := p.claimBuf[frameHeaderSize : frameHeaderSize+p.claimLen]
	return p.appendFrame(payload, FlagUnfragmented, p.claimBuf)
}

// Abort discards the outstanding claim without writing anything.
func (p *Publication) Abort() {
	p.claimed = false
}

// Offer publishes payload, fragmenting it when it exceeds the MTU.
// Returns the new end position.
func (p *Publication) Offer(payload []byte) (int64, error) {
	if len(payload) <= p.maxPayload {
		return p.appendFrame(payload, FlagUnfragmented, nil)
	}
	var pos int64
	remaining := payload
	first := true
	for len(remaining) > 0 {
		n := min(len(remaining), p.maxPayload)
		var flags uint8
		if first {
			flags |= FlagBegin
		}
		if n == len(remaining) {
			flags |= FlagEnd
		}
		var err error
		pos, err = p.appendFrame(remaining[:n], flags, nil)
		if err != nil {
			return pos, err
		}
		remaining = remaining[n:]
		first = false
	}
	return pos, nil
}

func (p *Publication) appendFrame(payload []byte, flags uint8, scratch []byte) (int64, error) {
	if p.closed {
		return 0, fmt.Errorf("journal: publication closed")
	}
	aligned := AlignedFrameLength(len(payload))
	if scratch == nil {
		if cap(p.claimBuf) < aligned {
			p.claimBuf = make([]byte, aligned)
		}
		scratch = p.claimBuf[:aligned]
		copy(scratch[frameHeaderSize:], payload)
	}
	for i := frameHeaderSize + len(payload); i < aligned; i++ {
		scratch[i] = 0
	}
	encodeFrameHeader(scratch, len(payload), p.streamID, p.publisherID, flags, payload)
	if _, err := p.file.Write(scratch[:aligned]); err != nil {
		return 0, fmt.Errorf("journal: append frame: %w", err)
	}
	p.position += int64(aligned)
	return p.position, nil
}

// Sync flushes appended frames to stable storage.
func (p *Publication) Sync() error {
	return p.file.Sync()
}

// Close seals the recording and notifies listeners with its final extent.
func (p *Publication) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	_ = p.file.Sync()
	err := p.file.Close()
	p.journal.sealed(p.recordingID, RecordingInfo{
		RecordingID:   p.recordingID,
		StreamID:      p.streamID,
		PublisherID:   p.publisherID,
		StartPosition: 0,
		StopPosition:  p.position,
	})
	return err
}
