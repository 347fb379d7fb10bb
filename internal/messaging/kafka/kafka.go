package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"

	"github.com/TURRA7/BotShop/internal/entity"
	"github.com/TURRA7/BotShop/internal/messaging"
)

type kafkaBroker struct {
	brokers []string
	writer  *kafkaGo.Writer
}

// NewKafkaBroker creates a new Kafka publisher and subscriber sharing one writer.
// The returned close func flushes and closes the writer.
func NewKafkaBroker(brokers []string) (messaging.Publisher, messaging.Subscriber, func() error) {
	kb := &kafkaBroker{
		brokers: brokers,
		writer: &kafkaGo.Writer{
			Addr:                   kafkaGo.TCP(brokers...),
			Balancer:               &kafkaGo.Hash{},
			RequiredAcks:           kafkaGo.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
	return kb, kb, kb.writer.Close
}

func (k *kafkaBroker) PublishEvent(ctx context.Context, topic string, key string, event entity.Event) error {
	payload, err := messaging.Encode(event, time.Now())
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return k.writer.WriteMessages(ctx, kafkaGo.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Headers: []kafkaGo.Header{
			{Key: "event-type", Value: []byte(event.EventType())},
		},
	})
}

func (k *kafkaBroker) Consume(ctx context.Context, topic string, groupID string, handler func(ctx context.Context, payload []byte) error) {
	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers: k.brokers,
		Topic:   topic,
		GroupID: groupID,
	})
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Consumer shutting down", "topic", topic)
				return
			}
			slog.Error("Error reading message", "topic", topic, "err", err)
			continue
		}

		if err := handler(ctx, msg.Value); err != nil {
			slog.Error("Error handling message", "topic", topic, "offset", msg.Offset, "err", err)
		}
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			slog.Error("Error committing message", "topic", topic, "offset", msg.Offset, "err", err)
		}
	}
}
