// Package events relays outbox events written by the reservation engine to a
// message broker.
package events

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/warp/seat-engine/reservation"
	"go.uber.org/zap"
)

// Publisher delivers one event. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev reservation.Event) error
	Close() error
}

// =============================================================================
// KAFKA
// =============================================================================

type KafkaConfig struct {
	Brokers  []string
	ClientID string
	Topic    string
}

// producer is the subset of *kgo.Client the publisher uses.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaPublisher produces events keyed by PNR, so all events of one booking
// land on one partition in order.
type KafkaPublisher struct {
	client producer
	topic  string
}

func NewKafkaPublisher(ctx context.Context, cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		cfg.Topic = "seat-engine.events"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "seat-engine"
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Kafka: %w", err)
	}
	return &KafkaPublisher{client: client, topic: cfg.Topic}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev reservation.Event) error {
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.PNR),
		Value: ev.Payload,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "content_type", Value: []byte("application/json")},
		},
		Timestamp: ev.CreatedAt,
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", ev.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.client.Close()
	return nil
}

// =============================================================================
// LOG
// =============================================================================

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, ev reservation.Event) error {
	p.log.Info("event",
		zap.String("event_id", ev.ID),
		zap.String("type", string(ev.Type)),
		zap.String("pnr", ev.PNR),
		zap.ByteString("payload", ev.Payload))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
