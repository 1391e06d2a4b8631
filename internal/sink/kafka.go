// Package sink publishes processed depth readings to Kafka for downstream
// consumers.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/ngmaloney/marine-depth/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer produces processed readings to a Kafka topic.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a producer for topic on brokers.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// WriteBatch serializes and publishes readings in one WriteMessages call.
func (w *Writer) WriteBatch(ctx context.Context, readings []models.ProcessedDepthReading) error {
	if len(readings) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(readings))
	for i := range readings {
		msg, err := serializeToMessage(readings[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publishing %d readings: %w", len(msgs), err)
	}
	w.logger.Debug("published processed readings", "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage keys each message by reading id so updates for one
// reading land on one partition.
func serializeToMessage(p models.ProcessedDepthReading) (kafkago.Message, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize processed reading: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(p.Reading.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "reliability", Value: []byte(p.Reliability)},
			{Key: "processed_at", Value: []byte(p.ProcessedAt.Format(time.RFC3339))},
		},
	}, nil
}
