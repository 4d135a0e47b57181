package events

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const kafkaWriteTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a writer that keys messages by account, so one account's
// snapshots always land on the same partition in order.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// KafkaSink forwards every published snapshot to Kafka.
// Write failures are logged and the snapshot is skipped.
type KafkaSink struct {
	bus    *Bus
	writer messageWriter
	logger *zap.Logger
}

func NewKafkaSink(bus *Bus, writer messageWriter, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{bus: bus, writer: writer, logger: logger}
}

// Run drains the firehose until ctx is done, then closes the writer.
func (s *KafkaSink) Run(ctx context.Context) error {
	if s.bus == nil || s.writer == nil {
		return errors.New("kafka sink is not initialized")
	}

	sub := s.bus.SubscribeAll()
	defer s.bus.Unsubscribe(sub)
	defer func() {
		if err := s.writer.Close(); err != nil {
			s.logger.Warn("failed to close kafka writer", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case snapshot, ok := <-sub.C:
			if !ok {
				return nil
			}

			payload, err := sonic.Marshal(snapshot)
			if err != nil {
				s.logger.Error("failed to encode snapshot", zap.String("account", snapshot.AccountID), zap.Error(err))
				continue
			}

			wctx, cancel := context.WithTimeout(ctx, kafkaWriteTimeout)
			err = s.writer.WriteMessages(wctx, kafka.Message{
				Key:   []byte(snapshot.AccountID),
				Value: payload,
				Time:  snapshot.Timestamp,
			})
			cancel()
			if err != nil {
				s.logger.Warn("failed to publish snapshot to kafka",
					zap.String("account", snapshot.AccountID),
					zap.Uint64("trade_count", snapshot.TradeCount),
					zap.Error(err))
			}
		}
	}
}
