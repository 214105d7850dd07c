package journal

import "os"

// Image is a bounded replay of one recording. Poll it like a
// subscription; Position reports how far the replay has advanced.
type Image struct {
	file        *os.File
	recordingID int64
	streamID    int32
	position    int64
	stop        int64 // NullPosition when following open-ended
	buf         []byte
}

func (im *Image) RecordingID() int64 { return im.recordingID }
func (im *Image) Position() int64    { return im.position }

// Poll delivers up to limit fragments within the replay bounds.
func (im *Image) Poll(handler FragmentHandler, limit int) int {
	count := 0
	for count < limit {
		if im.stop != NullPosition && im.position >= im.stop {
			break
		}
		payload, hdr, aligned, ok := readFrameAt(im.file, im.position, &im.buf)
		if !ok {
			break
		}
		im.position += int64(aligned)
		handler(payload, Frame{
			StreamID:    hdr.streamID,
			PublisherID: hdr.publisherID,
			RecordingID: im.recordingID,
			Position:    im.position,
			Flags:       hdr.flags,
		})
		count++
	}
	return count
}

func (im *Image) Close() error {
	return im.file.Close()
}
