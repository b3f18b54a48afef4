package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/types"
)

// kafkaProducer is the subset of *kafka.Producer the relay uses
type kafkaProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// KafkaRelay publishes bridge messages to a Kafka topic consumed by the bridge network
type KafkaRelay struct {
	producer kafkaProducer
	topic    string
	logger   *slog.Logger
}

// Verify KafkaRelay implements MessageRelay
var _ MessageRelay = (*KafkaRelay)(nil)

// NewKafkaRelay connects a producer to the given brokers
func NewKafkaRelay(logger *slog.Logger, brokers, topic string) (*KafkaRelay, error) {
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"acks":               "all",
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return newKafkaRelay(logger, p, topic), nil
}

func newKafkaRelay(logger *slog.Logger, producer kafkaProducer, topic string) *KafkaRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaRelay{producer: producer, topic: topic, logger: logger}
}

// Send implements MessageRelay. It returns once the broker acknowledged the message.
func (r *KafkaRelay) Send(ctx context.Context, msg types.BridgeMessage) (string, error) {
	envelope := NewEnvelope(msg)
	data, err := envelope.Marshal()
	if err != nil {
		return "", chains.NewError(chains.ErrBridgeMessage, msg.TargetChain, "relay", err)
	}

	delivery := make(chan kafka.Event, 1)
	err = r.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &r.topic, Partition: kafka.PartitionAny},
		Key:            []byte(envelope.MessageID),
		Value:          data,
		Headers: []kafka.Header{
			{Key: "sourceChain", Value: []byte(msg.SourceChain)},
			{Key: "targetChain", Value: []byte(msg.TargetChain)},
		},
	}, delivery)
	if err != nil {
		return "", chains.NewError(chains.ErrBridgeMessage, msg.TargetChain, "relay",
			fmt.Errorf("failed to produce message: %w", err))
	}

	select {
	case <-ctx.Done():
		return "", chains.NewError(chains.ErrBridgeMessage, msg.TargetChain, "relay", ctx.Err())
	case ev := <-delivery:
		m, ok := ev.(*kafka.Message)
		if !ok {
			return "", chains.Errorf(chains.ErrBridgeMessage, msg.TargetChain, "relay", "unexpected delivery event: %v", ev)
		}
		if m.TopicPartition.Error != nil {
			return "", chains.NewError(chains.ErrBridgeMessage, msg.TargetChain, "relay",
				fmt.Errorf("delivery failed: %w", m.TopicPartition.Error))
		}
		r.logger.Debug("bridge message delivered",
			"messageId", envelope.MessageID,
			"topic", r.topic,
			"partition", m.TopicPartition.Partition,
			"offset", m.TopicPartition.Offset)
		return envelope.MessageID, nil
	}
}

// Close flushes outstanding messages and closes the producer
func (r *KafkaRelay) Close() {
	if remaining := r.producer.Flush(1000); remaining > 0 {
		r.logger.Warn("kafka producer closed with undelivered messages", "count", remaining)
	}
	r.producer.Close()
}
