package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/frottis-lab/dashboard/pkg/common/config"
	"github.com/frottis-lab/dashboard/pkg/common/logger"
	"github.com/frottis-lab/dashboard/pkg/common/models"
	"github.com/frottis-lab/dashboard/pkg/gateway/httpclient"
	"github.com/frottis-lab/dashboard/pkg/observability/metrics"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(cfg *config.Config) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaEventsTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  1,
	}

	return &Producer{writer: writer}
}

// NewEvent stamps a dashboard event with a fresh id and the current time.
func NewEvent(eventType, source string, data map[string]interface{}) models.Event {
	return models.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// PublishEvent writes one event keyed by patient so a patient's history
// stays ordered within a partition.
func (p *Producer) PublishEvent(ctx context.Context, event models.Event) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(messageKey(event)),
		Value: eventBytes,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "source", Value: []byte(event.Source)},
		},
	}

	err = httpclient.Retry(ctx, 3, 100*time.Millisecond, nil, func() error {
		return p.writer.WriteMessages(ctx, message)
	})
	if err != nil {
		metrics.IncEventsFailed()
		logger.FromContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"event_id":   event.ID,
			"event_type": event.Type,
		}).Error("Failed to publish event")
		return err
	}

	metrics.IncEventsPublished()
	logger.FromContext(ctx).WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
		"topic":      p.writer.Topic,
	}).Info("Event published successfully")

	return nil
}

func messageKey(event models.Event) string {
	if pid, ok := event.Data["patient_id"].(string); ok && pid != "" {
		return pid
	}
	return event.ID
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
