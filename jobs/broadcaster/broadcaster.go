// Package broadcaster publishes an event to Kafka for every FIX message
// that reaches the outbound stream, so downstream systems can track what
// counterparties were sent without touching the journal.
package broadcaster

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protowire"

	"fixlog/domain/fix"
	"fixlog/infra/journal"
)

// Event field numbers of the protowire payload.
const (
	fieldSession   = 1
	fieldSeqNum    = 2
	fieldSeqIndex  = 3
	fieldReplayed  = 4
	fieldTimestamp = 5
)

type Broadcaster struct {
	subscription *journal.Subscription
	assembler    *journal.FragmentAssembler
	producer     sarama.SyncProducer
	topic        string
	log          *zap.Logger

	pending [][]byte
}

func New(sub *journal.Subscription, brokers []string, topic string, log *zap.Logger) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	b := &Broadcaster{
		subscription: sub,
		producer:     producer,
		topic:        topic,
		log:          log,
	}
	b.assembler = journal.NewFragmentAssembler(b.onMessage)
	return b, nil
}

// Start drains the outbound stream on a ticker until ctx is cancelled.
// A failed publish keeps the event pending for the next tick.
func (b *Broadcaster) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.publishOnce()
			}
		}
	}()
}

func (b *Broadcaster) publishOnce() {
	for b.subscription.Poll(b.assembler.OnFragment, 64) > 0 {
	}
	remaining := b.pending[:0]
	for _, event := range b.pending {
		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Value: sarama.ByteEncoder(event),
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			// Retry on the next tick.
			remaining = append(remaining, event)
		}
	}
	b.pending = remaining
}

func (b *Broadcaster) onMessage(payload []byte, _ journal.Frame) {
	env, err := fix.DecodeEnvelope(payload)
	if err != nil {
		return
	}
	hdr, err := fix.ScanHeader(env.Body)
	if err != nil || hdr.MsgSeqNum == fix.NoEntry {
		return
	}
	b.pending = append(b.pending, encodeEvent(env, hdr.MsgSeqNum))
}

func encodeEvent(env fix.Envelope, seqNum int) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldSession, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(env.Session))
	out = protowire.AppendTag(out, fieldSeqNum, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(seqNum))
	out = protowire.AppendTag(out, fieldSeqIndex, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(env.SequenceIndex))
	out = protowire.AppendTag(out, fieldReplayed, protowire.VarintType)
	replayed := uint64(0)
	if env.Status == fix.StatusReplayed {
		replayed = 1
	}
	out = protowire.AppendVarint(out, replayed)
	out = protowire.AppendTag(out, fieldTimestamp, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(time.Now().UnixNano()))
	return out
}

func (b *Broadcaster) Close() error {
	if b.log != nil {
		b.log.Info("broadcaster stopped", zap.Int("pending", len(b.pending)))
	}
	_ = b.subscription.Close()
	return b.producer.Close()
}
