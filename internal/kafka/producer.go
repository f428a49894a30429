package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmehdipour/dm-dispatcher/internal/config"
	"github.com/jmehdipour/dm-dispatcher/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// OutcomeProducer publishes dispatch outcomes to the audit topic. Writes are
// asynchronous so a slow broker never holds up a send loop; delivery errors
// are logged from the completion callback.
type OutcomeProducer struct {
	w   *kafka.Writer
	log *zap.Logger
}

func NewOutcomeProducer(c config.KafkaConfig, log *zap.Logger) (*OutcomeProducer, error) {
	if len(c.Brokers) == 0 || c.Topic == "" {
		return nil, errors.New("kafka: brokers and topic are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	bt := c.BatchTimeout
	if bt <= 0 {
		bt = 50 * time.Millisecond
	}

	p := &OutcomeProducer{log: log.With(zap.String("component", "outcome-producer"), zap.String("topic", c.Topic))}
	p.w = &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Topic:                  c.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           bt,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				p.log.Warn("outcome batch not delivered", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
	}
	return p, nil
}

// Record implements dispatch.OutcomeSink. Messages are keyed by run so one
// run's outcomes stay ordered on a single partition.
func (p *OutcomeProducer) Record(ctx context.Context, rec model.OutcomeRecord) error {
	b, err := EncodeOutcome(rec)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{Key: []byte(rec.RunID), Value: b, Time: rec.SentAt})
}

func (p *OutcomeProducer) Close() error { return p.w.Close() }

func EncodeOutcome(rec model.OutcomeRecord) ([]byte, error) {
	return json.Marshal(rec)
}

// DecodeOutcome parses a record and rejects payloads that cannot be stored.
func DecodeOutcome(b []byte) (model.OutcomeRecord, error) {
	var rec model.OutcomeRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, err
	}
	if rec.RunID == "" || rec.Position < 1 || !rec.Status.Valid() {
		return rec, errors.New("kafka: incomplete outcome record")
	}
	return rec, nil
}
