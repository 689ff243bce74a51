package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/LockerBox/internal/broker/messages"
)

type fakeWriter struct {
	written []kafka.Message
	err     error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.written = append(f.written, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestProducerPublishReport(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw)

	report := messages.SensorReport{
		LockerID:    3,
		DoorState:   "CLOSED",
		WeightGrams: 120,
		ReportedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.PublishReport(context.Background(), "locker.telemetry", report))

	require.Len(t, fw.written, 1)
	msg := fw.written[0]
	require.Equal(t, "locker.telemetry", msg.Topic)
	require.Equal(t, "3", string(msg.Key))

	var got messages.SensorReport
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	require.Equal(t, report, got)
}
