// Package kafka provides a Kafka-backed implementation of the activity event
// sink for the fulfillment engine.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/complykit/dsr-engine/internal/domain/events"
	"github.com/complykit/dsr-engine/pkg/common/logger"
)

// Config contains settings for connecting to and publishing on Kafka.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string

	// ActivityTopic is the topic the activity feed is appended to.
	ActivityTopic string

	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
}

var _ events.DomainEventPublisher = (*EventSink)(nil)

// EventSink implements events.DomainEventPublisher on a Kafka topic. Every
// activity record is appended as a JSON message keyed by the event's partition
// key so records about the same task stay ordered.
type EventSink struct {
	producer sarama.SyncProducer
	topic    string

	logger *logger.Logger
	tracer trace.Tracer
}

// NewEventSinkFromConfig creates a Kafka-backed event sink from the provided
// configuration. Acks from all in-sync replicas are required so an accepted
// activity record survives a broker failure.
func NewEventSinkFromConfig(cfg *Config, logger *logger.Logger, tracer trace.Tracer) (*EventSink, error) {
	logger = logger.With("component", "kafka_event_sink", "client_id", cfg.ClientID)

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Partitioner = sarama.NewHashPartitioner
	producerConfig.ClientID = cfg.ClientID

	producer, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &EventSink{
		producer: producer,
		topic:    cfg.ActivityTopic,
		logger:   logger,
		tracer:   tracer,
	}, nil
}

// sinkMessage is the wire format for an activity record.
type sinkMessage struct {
	Type       string            `json:"type"`
	OccurredAt time.Time         `json:"occurredAt"`
	Headers    map[string]string `json:"headers,omitempty"`
	Payload    any               `json:"payload"`
}

// PublishDomainEvent appends the event to the activity topic.
func (s *EventSink) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	var params events.PublishParams
	for _, opt := range opts {
		opt(&params)
	}

	ctx, span := s.tracer.Start(ctx, "kafka_event_sink.publish",
		trace.WithAttributes(
			attribute.String("event_type", string(event.EventType())),
			attribute.String("topic", s.topic),
			attribute.String("key", params.Key),
		))
	defer span.End()

	value, err := json.Marshal(sinkMessage{
		Type:       string(event.EventType()),
		OccurredAt: event.OccurredAt(),
		Headers:    params.Headers,
		Payload:    event,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode event")
		return fmt.Errorf("failed to encode event %s: %w", event.EventType(), err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(params.Key),
		Value: sarama.ByteEncoder(value),
	}
	for k, v := range params.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{
			Key:   []byte(k),
			Value: []byte(v),
		})
	}

	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish event")
		return fmt.Errorf("failed to publish event %s: %w", event.EventType(), err)
	}

	s.logger.Debug(ctx, "Activity event published",
		"event_type", string(event.EventType()),
		"partition", partition,
		"offset", offset,
	)
	span.SetStatus(codes.Ok, "event published")
	return nil
}

// Close shuts down the underlying producer.
func (s *EventSink) Close() error {
	if err := s.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}
