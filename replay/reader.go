package replay

import (
	"fmt"

	"fixlog/domain/fix"
	"fixlog/infra/journal"
	"fixlog/index"
)

// readMessage reads an indexed byte range back from the journal and
// returns the recorded FIX bytes. The range covers every fragment of the
// message, so the envelope is reassembled before decoding.
func readMessage(jnl *journal.Journal, rec index.Record) ([]byte, error) {
	image, err := jnl.Replay(rec.RecordingID, rec.Position, int64(rec.Length))
	if err != nil {
		return nil, err
	}
	defer image.Close()

	var assembled []byte
	var decodeErr error
	assembler := journal.NewFragmentAssembler(func(payload []byte, frame journal.Frame) {
		if assembled != nil {
			return
		}
		env, err := fix.DecodeEnvelope(payload)
		if err != nil {
			decodeErr = err
			return
		}
		assembled = append([]byte(nil), env.Body...)
	})

	for assembled == nil && decodeErr == nil {
		if image.Poll(assembler.OnFragment, 16) == 0 {
			break
		}
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	if assembled == nil {
		return nil, fmt.Errorf("replay: no message at recording %d position %d",
			rec.RecordingID, rec.Position)
	}
	return assembled, nil
}
