package archive

import (
	"context"
	"fmt"
	"sort"

	"fixlog/domain/fix"
	"fixlog/infra/agent"
	"fixlog/infra/journal"
)

// Direction selects which side of the gateway to scan.
type Direction int

const (
	// Sent scans messages the engine sent to counterparties.
	Sent Direction = iota
	// Received scans messages the engine received.
	Received
)

// FixMessageConsumer receives each scanned message with its envelope and
// the frame that completed it.
type FixMessageConsumer interface {
	OnMessage(env fix.Envelope, frame journal.Frame) error
}

// FixMessageConsumerFunc adapts a function to FixMessageConsumer.
type FixMessageConsumerFunc func(env fix.Envelope, frame journal.Frame) error

func (f FixMessageConsumerFunc) OnMessage(env fix.Envelope, frame journal.Frame) error {
	return f(env, frame)
}

// Scanner replays archived recordings through a consumer, offline from
// the live pipeline.
type Scanner struct {
	journal          *journal.Journal
	catalog          *Catalog
	idle             agent.IdleStrategy
	sentStreamID     int32
	receivedStreamID int32
}

func NewScanner(jnl *journal.Journal, catalog *Catalog, sentStreamID, receivedStreamID int32, idle agent.IdleStrategy) *Scanner {
	if idle == nil {
		idle = agent.NewBackoffIdleStrategy()
	}
	return &Scanner{
		journal:          jnl,
		catalog:          catalog,
		idle:             idle,
		sentStreamID:     sentStreamID,
		receivedStreamID: receivedStreamID,
	}
}

// Scan lists the direction's recordings — completed ones first, any
// still-active one last — and replays each through consumer. With follow
// the active recording is replayed open-ended until ctx is cancelled;
// otherwise its stop position is snapshotted at entry and used as the
// bound.
func (s *Scanner) Scan(ctx context.Context, direction Direction, consumer FixMessageConsumer, follow bool) error {
	streamID := s.sentStreamID
	if direction == Received {
		streamID = s.receivedStreamID
	}
	recordings, err := s.catalog.List(streamID)
	if err != nil {
		return err
	}
	// Any uncompleted recording goes to the end.
	sort.SliceStable(recordings, func(a, b int) bool {
		return recordings[a].StopPosition > recordings[b].StopPosition
	})

	for _, info := range recordings {
		if err := s.scanRecording(ctx, info, consumer, follow); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) scanRecording(ctx context.Context, info journal.RecordingInfo, consumer FixMessageConsumer, follow bool) error {
	stop := info.StopPosition
	length := int64(-1)
	if stop == journal.NullPosition && !follow {
		snapped, err := s.journal.StopPosition(info.RecordingID)
		if err != nil {
			return err
		}
		stop = snapped
	}
	if stop != journal.NullPosition {
		length = stop - info.StartPosition
	}

	image, err := s.journal.Replay(info.RecordingID, info.StartPosition, length)
	if err != nil {
		return err
	}
	defer image.Close()

	var consumerErr error
	assembler := journal.NewFragmentAssembler(func(payload []byte, frame journal.Frame) {
		if consumerErr != nil {
			return
		}
		env, err := fix.DecodeEnvelope(payload)
		if err != nil {
			// Not a FIX business frame; skip.
			return
		}
		consumerErr = consumer.OnMessage(env, frame)
	})

	for stop == journal.NullPosition || image.Position() < stop {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n := image.Poll(assembler.OnFragment, 16)
		if consumerErr != nil {
			return fmt.Errorf("archive: consumer: %w", consumerErr)
		}
		s.idle.Idle(n)
	}
	return nil
}
