// Package events publishes analysis outcomes. Image bytes never leave the
// request; only a summary does.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/plant-api/internal/config"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

type AnalysisEvent struct {
	RequestID  string    `json:"request_id"`
	Filename   string    `json:"filename,omitempty"`
	Size       int       `json:"size"`
	Format     string    `json:"format,omitempty"`
	Outcome    string    `json:"outcome"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Predictor  string    `json:"predictor"`
	DurationMs int64     `json:"duration_ms"`
	Time       time.Time `json:"time"`
}

type Publisher interface {
	Publish(ctx context.Context, event AnalysisEvent) error
	Close() error
}

type kafkaPublisher struct {
	writer *kafka.Writer
}

// NewPublisher returns a Kafka publisher when enabled, otherwise a noop one.
func NewPublisher(cfg config.KafkaConfig) Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		return NoopPublisher{}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logrus.WithError(err).Warnf("failed to deliver %d analysis events", len(messages))
			}
		},
	}

	logrus.Infof("kafka publisher configured for brokers %v, topic %s", cfg.Brokers, cfg.Topic)
	return &kafkaPublisher{writer: writer}
}

func (p *kafkaPublisher) Publish(ctx context.Context, event AnalysisEvent) error {
	msg, err := newMessage(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// newMessage keys events by request id so retries of one request land on
// the same partition.
func newMessage(event AnalysisEvent) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.RequestID),
		Value: value,
		Time:  event.Time,
	}, nil
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, event AnalysisEvent) error {
	logrus.WithField("request_id", event.RequestID).Debug("analysis event dropped, publishing disabled")
	return nil
}

func (NoopPublisher) Close() error { return nil }
