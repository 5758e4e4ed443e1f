package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cryptobacktester/types"

	"github.com/segmentio/kafka-go"
)

// defaultBatchTimeout bounds how long a synchronous write waits to fill a
// batch. kafka-go defaults to one second.
const defaultBatchTimeout = 10 * time.Millisecond

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	MaxRetries   int
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes JSON events keyed by run id, so one run's events stay
// ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	now    func() time.Time
}

func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{writer: newKafkaWriter(cfg), now: time.Now}
}

func newKafkaWriter(cfg KafkaConfig) *kafka.Writer {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = defaultBatchTimeout
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxRetries,
		WriteBackoffMin:        100 * time.Millisecond,
		WriteBackoffMax:        time.Second,
		BatchTimeout:           batchTimeout,
	}
}

func (p *KafkaPublisher) PublishStatus(ctx context.Context, runID string, status types.RunStatus, message string, payload any) error {
	return p.publish(ctx, Event{Kind: KindStatus, RunID: runID, Status: status, Message: message, Payload: payload})
}

func (p *KafkaPublisher) PublishMetric(ctx context.Context, runID string, name string, value float64, unit string) error {
	return p.publish(ctx, Event{Kind: KindMetric, RunID: runID, Name: name, Value: value, Unit: unit})
}

func (p *KafkaPublisher) PublishLog(ctx context.Context, runID string, level string, message string) error {
	return p.publish(ctx, Event{Kind: KindLog, RunID: runID, Level: level, Message: message})
}

func (p *KafkaPublisher) publish(ctx context.Context, ev Event) error {
	ev.Timestamp = p.now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind, err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.RunID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Kind, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
