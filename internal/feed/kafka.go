package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// KafkaSource reads change events from a Kafka topic. Offsets are committed
// through the consumer group, so a restarted listener resumes where it left
// off; gaps are still possible and are covered by the resync path.
type KafkaSource struct {
	reader *kafka.Reader
}

func NewKafkaSource(cfg *KafkaConfig) *KafkaSource {
	return &KafkaSource{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
	}
}

func (s *KafkaSource) Read(ctx context.Context) (Event, error) {
	msg, err := s.reader.ReadMessage(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("read kafka message: %w", err)
	}
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return Event{}, fmt.Errorf("unmarshal change event: %w", err)
	}
	return ev, nil
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
