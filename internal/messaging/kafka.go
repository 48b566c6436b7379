// Package messaging publishes recorded behavior events onto Kafka after the
// HTTP handler has stored them and submitted their background jobs (§4.7,
// §5). Publishing is best effort; a consumer can replay the behavior-events
// topic (cfg.Kafka.Topics.BehaviorEvents, DefaultBehaviorEventTopic when
// unset) to re-submit the same idempotent jobs. Grounded on
// internal/messaging/kafka.go's producer/consumer/DLQ shape, topic and
// payload renamed from content-ingestion to the behavior-event domain.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/mbti-rec/server/internal/config"
	"github.com/mbti-rec/server/pkg/models"
)

const (
	DefaultBehaviorEventTopic = "mbti-behavior-events"
	BehaviorEventDLQTopic     = "mbti-behavior-events-dlq"
	ConsumerGroup             = "mbti-behavior-processors"
)

// BehaviorEventMessage is the wire envelope carried on the behavior-events topic.
type BehaviorEventMessage struct {
	Event      models.BehaviorEvent `json:"event"`
	Timestamp  time.Time            `json:"timestamp"`
	RetryCount int                  `json:"retry_count"`
}

type KafkaProducer struct {
	writer *kafka.Writer
	logger *logrus.Logger
}

type KafkaConsumer struct {
	reader *kafka.Reader
	logger *logrus.Logger
}

type MessageBus struct {
	producer  *KafkaProducer
	consumer  *KafkaConsumer
	dlqWriter *kafka.Writer
	topic     string
	logger    *logrus.Logger
}

func NewMessageBus(cfg *config.Config, logger *logrus.Logger) (*MessageBus, error) {
	topic := cfg.Kafka.Topics.BehaviorEvents
	if topic == "" {
		topic = DefaultBehaviorEventTopic
	}

	producer := &KafkaProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // key by user id, so one user's events stay ordered
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
			BatchSize:    100,
		},
		logger: logger,
	}

	consumer := &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          topic,
			GroupID:        ConsumerGroup,
			MinBytes:       10e3,
			MaxBytes:       10e6,
			CommitInterval: time.Second,
			StartOffset:    kafka.LastOffset,
		}),
		logger: logger,
	}

	dlqWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        BehaviorEventDLQTopic,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return &MessageBus{producer: producer, consumer: consumer, dlqWriter: dlqWriter, topic: topic, logger: logger}, nil
}

// PublishBehaviorEvent fans the just-recorded event out to Kafka. Publish
// failures are logged and swallowed: the HTTP response already carries the
// counter value from the synchronous insert, and Kafka here is a replay aid,
// not the record of truth.
func (mb *MessageBus) PublishBehaviorEvent(ctx context.Context, event models.BehaviorEvent) error {
	message := BehaviorEventMessage{Event: event, Timestamp: time.Now()}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal behavior event message: %w", err)
	}

	kafkaMessage := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", event.UserID)),
		Value: messageBytes,
		Headers: []kafka.Header{
			{Key: "user_id", Value: []byte(fmt.Sprintf("%d", event.UserID))},
			{Key: "action", Value: []byte(event.Action)},
			{Key: "timestamp", Value: []byte(message.Timestamp.Format(time.RFC3339))},
		},
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := mb.producer.writer.WriteMessages(writeCtx, kafkaMessage); err != nil {
		mb.logger.WithError(err).WithField("user_id", event.UserID).Warn("failed to publish behavior event to kafka")
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	return nil
}

// ConsumeBehaviorEvents runs handler over every message on the topic,
// retrying with backoff and routing exhausted retries to the DLQ.
func (mb *MessageBus) ConsumeBehaviorEvents(ctx context.Context, handler func(BehaviorEventMessage) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			message, err := mb.consumer.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				mb.logger.WithError(err).Error("failed to read message from kafka")
				continue
			}

			var evt BehaviorEventMessage
			if err := json.Unmarshal(message.Value, &evt); err != nil {
				mb.logger.WithError(err).Error("failed to unmarshal behavior event message")
				continue
			}

			if err := mb.processWithRetry(ctx, evt, handler); err != nil {
				mb.logger.WithError(err).WithField("user_id", evt.Event.UserID).Error("failed to process behavior event after retries")
				if ctx.Err() == nil {
					if dlqErr := mb.sendToDLQ(ctx, evt, err); dlqErr != nil {
						mb.logger.WithError(dlqErr).Error("failed to send behavior event to dlq")
					}
				}
			}
		}
	}
}

func (mb *MessageBus) processWithRetry(ctx context.Context, message BehaviorEventMessage, handler func(BehaviorEventMessage) error) error {
	const maxRetries = 3
	baseDelay := time.Second

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		message.RetryCount = attempt
		if err := handler(message); err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("max retries exceeded: %w", err)
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("unexpected retry loop exit")
}

func (mb *MessageBus) sendToDLQ(ctx context.Context, message BehaviorEventMessage, originalError error) error {
	dlqMessage := map[string]interface{}{
		"original_message": message,
		"error":            originalError.Error(),
		"dlq_timestamp":    time.Now(),
	}

	dlqBytes, err := json.Marshal(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal dlq message: %w", err)
	}

	kafkaMessage := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", message.Event.UserID)),
		Value: dlqBytes,
		Headers: []kafka.Header{
			{Key: "original_topic", Value: []byte(mb.topic)},
			{Key: "error", Value: []byte(originalError.Error())},
		},
	}

	if err := mb.dlqWriter.WriteMessages(ctx, kafkaMessage); err != nil {
		return fmt.Errorf("failed to write message to dlq: %w", err)
	}
	return nil
}

func (mb *MessageBus) Close() error {
	var errs []error
	if err := mb.producer.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}
	if err := mb.consumer.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close consumer: %w", err))
	}
	if err := mb.dlqWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close dlq writer: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("messaging shutdown errors: %v", errs)
	}
	return nil
}
