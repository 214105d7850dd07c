package replay

import (
	"errors"
	"fmt"
	"math"

	"fixlog/domain/fix"
	"fixlog/infra/agent"
	"fixlog/infra/journal"
	"fixlog/index"
	"fixlog/metrics"
)

const replayerPollLimit = 10

// Replayer services ResendRequest messages: it looks the requested range
// up in the replay index, reads the recorded bytes back from the
// journal, rewrites them as possible duplicates and re-publishes them on
// the outbound stream in ascending (sequence index, sequence number)
// order.
type Replayer struct {
	inbound   *journal.Subscription
	outbound  *journal.Publication
	query     *index.Query
	journal   *journal.Journal
	idle      agent.IdleStrategy
	onError   func(error)
	assembler *journal.FragmentAssembler
}

func NewReplayer(
	inbound *journal.Subscription,
	outbound *journal.Publication,
	query *index.Query,
	jnl *journal.Journal,
	idle agent.IdleStrategy,
	onError func(error),
) *Replayer {
	if idle == nil {
		idle = agent.NewBackoffIdleStrategy()
	}
	r := &Replayer{
		inbound:  inbound,
		outbound: outbound,
		query:    query,
		journal:  jnl,
		idle:     idle,
		onError:  onError,
	}
	r.assembler = journal.NewFragmentAssembler(r.onMessage)
	return r
}

func (r *Replayer) DoWork() int {
	return r.inbound.Poll(r.assembler.OnFragment, replayerPollLimit)
}

func (r *Replayer) onMessage(payload []byte, frame journal.Frame) {
	env, err := fix.DecodeEnvelope(payload)
	if err != nil || env.Status != fix.StatusOK {
		return
	}
	hdr, err := fix.ScanHeader(env.Body)
	if err != nil || hdr.MsgType != fix.MsgTypeResendRequest {
		return
	}

	begin := hdr.BeginSeqNo
	end := hdr.EndSeqNo
	if begin == fix.NoEntry || end == fix.NoEntry {
		return
	}
	// EndSeqNo of zero means "through the latest message".
	if end == 0 {
		end = math.MaxInt32
	}
	if end < begin {
		return
	}

	records, err := r.query.Fetch(env.Session, begin, end)
	if err != nil {
		r.onError(fmt.Errorf("replay: query session %d: %w", env.Session, err))
		return
	}
	for _, rec := range records {
		if err := r.onLogEntry(env.Session, rec); err != nil {
			r.onError(err)
		}
	}
}

func (r *Replayer) onLogEntry(fixSessionID int64, rec index.Record) error {
	msg, err := readMessage(r.journal, rec)
	if err != nil {
		return err
	}
	rewritten, err := RewritePossDup(msg)
	if err != nil {
		return err
	}

	out := fix.AppendEnvelope(nil, fix.Envelope{
		Session:       fixSessionID,
		SequenceIndex: rec.SequenceIndex,
		Status:        fix.StatusReplayed,
		Body:          rewritten,
	})
	if err := r.publish(out); err != nil {
		return err
	}
	metrics.MessagesReplayed.Inc()
	return nil
}

// publish claims, copies and commits as the final action; on back
// pressure it backs off and retries until the claim is accepted.
func (r *Replayer) publish(payload []byte) error {
	if len(payload) > r.outbound.MaxPayloadLength() {
		_, err := r.outbound.Offer(payload)
		return err
	}
	for {
		buf, err := r.outbound.TryClaim(len(payload))
		if err == nil {
			copy(buf, payload)
			_, err = r.outbound.Commit()
			r.idle.Reset()
			return err
		}
		if !errors.Is(err, journal.ErrBackPressure) {
			return err
		}
		metrics.BackPressureRetries.Inc()
		r.idle.Idle(0)
	}
}

func (r *Replayer) OnClose() {
	_ = r.inbound.Close()
	_ = r.outbound.Close()
}

func (r *Replayer) RoleName() string { return "Replayer" }
