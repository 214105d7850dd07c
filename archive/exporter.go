package archive

import (
	"context"
	"strconv"

	"fixlog/domain/fix"
	"fixlog/infra/journal"
	"fixlog/infra/kafka"
)

// KafkaExporter streams scanned messages to a Kafka topic: the raw FIX
// bytes keyed by session id, so per-session ordering survives
// partitioning.
type KafkaExporter struct {
	ctx      context.Context
	producer *kafka.Producer
}

func NewKafkaExporter(ctx context.Context, producer *kafka.Producer) *KafkaExporter {
	return &KafkaExporter{ctx: ctx, producer: producer}
}

func (e *KafkaExporter) OnMessage(env fix.Envelope, _ journal.Frame) error {
	key := strconv.AppendInt(nil, env.Session, 10)
	return e.producer.Send(e.ctx, key, env.Body)
}
