package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/ngmaloney/marine-depth/internal/observability"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	calls  int
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func processed(id string, r models.Reliability) models.ProcessedDepthReading {
	return models.ProcessedDepthReading{
		Reading:        models.DepthReading{ID: id, Depth: 10},
		CorrectedDepth: 8.769,
		Reliability:    r,
		ProcessedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSerializeToMessage(t *testing.T) {
	msg, err := serializeToMessage(processed("r-1", models.ReliabilityHigh))
	require.NoError(t, err)

	assert.Equal(t, []byte("r-1"), msg.Key)
	assert.Contains(t, string(msg.Value), `"corrected_depth":8.769`)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "reliability", msg.Headers[0].Key)
	assert.Equal(t, []byte("high"), msg.Headers[0].Value)
	assert.Equal(t, []byte("2025-06-01T12:00:00Z"), msg.Headers[1].Value)
}

func TestWriteBatch(t *testing.T) {
	fw := &fakeWriter{}
	w := &Writer{writer: fw, logger: observability.Discard()}

	require.NoError(t, w.WriteBatch(context.Background(), nil))
	assert.Zero(t, fw.calls, "empty batch is not sent")

	batch := []models.ProcessedDepthReading{processed("a", models.ReliabilityHigh), processed("b", models.ReliabilityLow)}
	require.NoError(t, w.WriteBatch(context.Background(), batch))
	assert.Equal(t, 1, fw.calls)
	require.Len(t, fw.msgs, 2)
	assert.Equal(t, []byte("b"), fw.msgs[1].Key)

	require.NoError(t, w.Close())
	assert.True(t, fw.closed)
}

func TestWriteBatch_Error(t *testing.T) {
	boom := errors.New("broker down")
	w := &Writer{writer: &fakeWriter{err: boom}, logger: observability.Discard()}

	err := w.WriteBatch(context.Background(), []models.ProcessedDepthReading{processed("a", models.ReliabilityHigh)})
	assert.ErrorIs(t, err, boom)
}
