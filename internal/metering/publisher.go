package metering

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/kafka"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/logging"
)

// UsageEvent is published once per recorded generation call.
type UsageEvent struct {
	UserID          string    `json:"user_id"`
	OrganizationIDs []string  `json:"organization_ids"`
	SessionID       string    `json:"session_id,omitempty"`
	InputUnits      int64     `json:"input_units"`
	OutputUnits     int64     `json:"output_units"`
	Period          string    `json:"period"`
	RecordedAt      time.Time `json:"recorded_at"`
}

type EventPublisher interface {
	PublishUsage(ctx context.Context, event UsageEvent) error
}

type producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
	Close() error
}

type PublisherConfig struct {
	Brokers  []string
	ClientID string
	Topic    string
	Source   string
	Logger   logging.Logger
}

type Publisher struct {
	producer producer
	topic    string
	source   string
	logger   logging.Logger
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required for usage publisher")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "assistant-usage"
	}
	p, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:  cfg.Brokers,
		ClientID: clientID,
	}, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return newPublisher(p, cfg), nil
}

func newPublisher(p producer, cfg PublisherConfig) *Publisher {
	topic := cfg.Topic
	if topic == "" {
		topic = "assistant.usage_events"
	}
	source := cfg.Source
	if source == "" {
		source = "assistant"
	}
	return &Publisher{producer: p, topic: topic, source: source, logger: cfg.Logger}
}

func (p *Publisher) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// PublishUsage keys events by user so one user's events stay ordered.
func (p *Publisher) PublishUsage(ctx context.Context, event UsageEvent) error {
	if p == nil || p.producer == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal usage event: %w", err)
	}
	err = p.producer.ProduceMessage(ctx, p.topic, []byte(event.UserID), payload, map[string]string{
		"source":  p.source,
		"type":    "usage_event",
		"user_id": event.UserID,
		"period":  event.Period,
	})
	if err != nil {
		return err
	}
	if p.logger != nil {
		p.logger.WithFields(logging.Fields{
			"user_id": event.UserID,
			"topic":   p.topic,
		}).Debug("Published usage event")
	}
	return nil
}
