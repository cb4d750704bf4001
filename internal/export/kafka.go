// Package export publishes finalized captions to an external Kafka
// topic for downstream consumers. Export is optional; when disabled the
// publisher degrades to a no-op.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/livespeak-labs/livespeak-core/internal/config"
)

// FinalCaption is the exported wire record for one finalized or
// corrected caption.
type FinalCaption struct {
	SessionID  string    `json:"session_id"`
	SequenceNo uint64    `json:"sequence_no"`
	Text       string    `json:"text"`
	Source     string    `json:"source"`
	Corrected  bool      `json:"corrected"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher writes finalized captions to Kafka.
type Publisher struct {
	writer  *kafka.Writer
	topic   string
	enabled bool
	log     *slog.Logger
}

// New builds a publisher from config. A disabled or broker-less config
// yields a log-only publisher.
func New(cfg config.ExportConfig, log *slog.Logger) *Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info("caption export disabled")
		return &Publisher{topic: cfg.Topic, log: log}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}

	log.Info("caption export enabled",
		slog.Any("brokers", cfg.Brokers),
		slog.String("topic", cfg.Topic))

	return &Publisher{writer: writer, topic: cfg.Topic, enabled: true, log: log}
}

// PublishFinal exports one finalized caption, keyed by session so each
// session's captions stay ordered within a partition.
func (p *Publisher) PublishFinal(ctx context.Context, rec FinalCaption) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal caption: %w", err)
	}
	if !p.enabled || p.writer == nil {
		p.log.Debug("caption export skipped",
			slog.String("session_id", rec.SessionID),
			slog.Uint64("sequence_no", rec.SequenceNo))
		return nil
	}
	msg := kafka.Message{
		Key:   []byte(rec.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(rec.Source)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write caption to kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
