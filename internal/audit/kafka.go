package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/faucetdb/licensor/internal/model"
)

// kafkaBatchTimeout caps how long a single-entry write waits for a batch to
// fill. The writer default of one second would serialize delivery.
const kafkaBatchTimeout = 10 * time.Millisecond

// KafkaSink publishes entries as JSON, partitioned by license key so each
// key's history stays ordered. Record blocks until the broker acknowledges,
// so callers wrap it in its own Async queue.
type KafkaSink struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaSink creates a publisher for topic on the given brokers.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka audit sink requires at least one broker")
	}
	if topic == "" {
		topic = "license.usage"
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
			BatchTimeout: kafkaBatchTimeout,
		},
		topic: topic,
	}, nil
}

func (k *KafkaSink) Record(ctx context.Context, e *model.UsageLogEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode usage entry: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Topic: k.topic,
		Key:   []byte(e.LicenseKey),
		Value: payload,
		Time:  e.CreatedAt,
	})
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
