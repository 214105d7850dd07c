package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"fixlog/infra/sequence"
)

// NullPosition marks a recording that is still being written.
const NullPosition = int64(-1)

var (
	ErrBackPressure   = errors.New("journal: publication back pressure")
	ErrUnknownStream  = errors.New("journal: unknown recording")
	ErrClaimTooLarge  = errors.New("journal: claim exceeds max payload length")
	ErrNothingClaimed = errors.New("journal: no outstanding claim")
)

// RecordingInfo describes one recording file's extent.
type RecordingInfo struct {
	RecordingID   int64
	StreamID      int32
	PublisherID   int32
	StartPosition int64
	StopPosition  int64 // NullPosition while active
	StartTime     int64
	StopTime      int64
}

// RecordingListener observes recording lifecycle, e.g. to maintain a
// durable catalog.
type RecordingListener interface {
	OnRecordingStart(RecordingInfo)
	OnRecordingStop(RecordingInfo)
}

// Journal owns a directory of recordings. All mutating registry calls are
// serialised; polling and appending happen on the owning agents' threads.
type Journal struct {
	dir string
	log *zap.Logger

	recordingIDs *sequence.Sequencer
	publisherIDs *sequence.Sequencer

	mu        sync.Mutex
	active    map[int64]*Publication
	listeners []RecordingListener
}

func New(dir string, log *zap.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}
	// Ids are never zero so downstream position files can treat zero as
	// an unoccupied slot; recovered recordings raise the sequencers.
	j := &Journal{
		dir:          dir,
		log:          log,
		active:       make(map[int64]*Publication),
		recordingIDs: sequence.New(0),
		publisherIDs: sequence.New(0),
	}

	infos, err := j.scanRecordings()
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		j.recordingIDs.Observe(info.RecordingID)
		j.publisherIDs.Observe(int64(info.PublisherID))
	}
	return j, nil
}

func (j *Journal) Dir() string { return j.dir }

// AddListener registers l for recordings opened after this call.
func (j *Journal) AddListener(l RecordingListener) {
	j.mu.Lock()
	j.listeners = append(j.listeners, l)
	j.mu.Unlock()
}

// AddPublication opens a new recording on streamID and returns its
// exclusive publication.
func (j *Journal) AddPublication(streamID int32) (*Publication, error) {
	recordingID := j.recordingIDs.Next()
	publisherID := int32(j.publisherIDs.Next())

	path := recordingPath(j.dir, recordingID, streamID, publisherID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open recording: %w", err)
	}
	p := &Publication{
		journal:     j,
		file:        f,
		streamID:    streamID,
		publisherID: publisherID,
		recordingID: recordingID,
		maxPayload:  DefaultMTU - frameHeaderSize,
	}
	j.mu.Lock()
	j.active[recordingID] = p
	listeners := append([]RecordingListener(nil), j.listeners...)
	j.mu.Unlock()

	info := RecordingInfo{
		RecordingID:  recordingID,
		StreamID:     streamID,
		PublisherID:  publisherID,
		StopPosition: NullPosition,
		StartTime:    time.Now().UnixNano(),
	}
	for _, l := range listeners {
		l.OnRecordingStart(info)
	}
	return p, nil
}

// AddSubscription tails every recording of streamID in recording order.
func (j *Journal) AddSubscription(streamID int32) (*Subscription, error) {
	s := &Subscription{journal: j, streamID: streamID}
	if err := s.refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// StopPosition returns the recorded extent of a recording: its current
// size for an active one, its final size once sealed.
func (j *Journal) StopPosition(recordingID int64) (int64, error) {
	path, err := j.recordingFile(recordingID)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("journal: stat recording %d: %w", recordingID, err)
	}
	// Writers append whole aligned frames; anything shorter is a torn tail.
	return info.Size() &^ int64(FrameAlignment-1), nil
}

// Replay opens a bounded read of [position, position+length) of a
// recording. length < 0 follows the recording open-ended.
func (j *Journal) Replay(recordingID, position, length int64) (*Image, error) {
	path, err := j.recordingFile(recordingID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: open replay: %w", err)
	}
	name := filepath.Base(path)
	var recID int64
	var streamID int32
	var pubID int32
	fmt.Sscanf(name, recordingPattern, &recID, &streamID, &pubID)

	stop := NullPosition
	if length >= 0 {
		stop = position + length
	}
	return &Image{
		file:        f,
		recordingID: recordingID,
		streamID:    streamID,
		position:    position,
		stop:        stop,
	}, nil
}

// ListRecordings enumerates recordings of streamID in recording order.
func (j *Journal) ListRecordings(streamID int32) ([]RecordingInfo, error) {
	infos, err := j.scanRecordings()
	if err != nil {
		return nil, err
	}
	out := infos[:0]
	for _, info := range infos {
		if info.StreamID == streamID {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].RecordingID < out[b].RecordingID })
	return out, nil
}

const recordingPattern = "recording-%d-%d-%d.jnl"

func recordingPath(dir string, recordingID int64, streamID, publisherID int32) string {
	return filepath.Join(dir, fmt.Sprintf(recordingPattern, recordingID, streamID, publisherID))
}

func (j *Journal) recordingFile(recordingID int64) (string, error) {
	matches, err := filepath.Glob(filepath.Join(j.dir, fmt.Sprintf("recording-%d-*.jnl", recordingID)))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("%w: %d", ErrUnknownStream, recordingID)
	}
	return matches[0], nil
}

func (j *Journal) scanRecordings() ([]RecordingInfo, error) {
	matches, err := filepath.Glob(filepath.Join(j.dir, "recording-*.jnl"))
	if err != nil {
		return nil, fmt.Errorf("journal: scan recordings: %w", err)
	}
	infos := make([]RecordingInfo, 0, len(matches))
	for _, path := range matches {
		var recID int64
		var streamID, pubID int32
		if n, _ := fmt.Sscanf(filepath.Base(path), recordingPattern, &recID, &streamID, &pubID); n != 3 {
			continue
		}
		stat, err := os.Stat(path)
		if err != nil {
			continue
		}
		stop := stat.Size() &^ int64(FrameAlignment-1)
		j.mu.Lock()
		_, activeRec := j.active[recID]
		j.mu.Unlock()
		info := RecordingInfo{
			RecordingID:  recID,
			StreamID:     streamID,
			PublisherID:  pubID,
			StopPosition: stop,
		}
		if activeRec {
			info.StopPosition = NullPosition
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (j *Journal) sealed(recordingID int64, info RecordingInfo) {
	j.mu.Lock()
	delete(j.active, recordingID)
	listeners := append([]RecordingListener(nil), j.listeners...)
	j.mu.Unlock()
	info.StopTime = time.Now().UnixNano()
	for _, l := range listeners {
		l.OnRecordingStop(info)
	}
	if j.log != nil {
		j.log.Info("recording sealed",
			zap.Int64("recording_id", info.RecordingID),
			zap.Int32("stream_id", info.StreamID),
			zap.Int64("stop_position", info.StopPosition))
	}
}
