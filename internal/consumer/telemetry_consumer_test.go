package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"safesleep-telemetry/common/errs"
	"safesleep-telemetry/common/metrics"
	mqttcommon "safesleep-telemetry/common/mqtt"
	"safesleep-telemetry/internal/config"
	"safesleep-telemetry/internal/events"
	"safesleep-telemetry/internal/models"
)

var fixedNow = time.Date(2024, 3, 1, 10, 30, 0, 0, time.Local)

type fakeStore struct {
	mu      sync.Mutex
	batches [][]*models.Reading
	err     error
}

func (s *fakeStore) AppendReadings(_ context.Context, readings []*models.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, readings)
	return nil
}

func (s *fakeStore) all() []*models.Reading {
	var out []*models.Reading
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

type fakeTracker struct {
	seen []string
}

func (f *fakeTracker) MarkSeen(_ context.Context, name string, _ time.Time) error {
	f.seen = append(f.seen, name)
	return nil
}

type fakeSubscriber struct {
	topics   []string
	handlers map[string]mqttcommon.MessageHandler
	removed  []string
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, handler mqttcommon.MessageHandler) error {
	if f.handlers == nil {
		f.handlers = map[string]mqttcommon.MessageHandler{}
	}
	f.topics = append(f.topics, topic)
	f.handlers[topic] = handler
	return nil
}

func (f *fakeSubscriber) Unsubscribe(topics ...string) error {
	f.removed = append(f.removed, topics...)
	return nil
}

type recordingSink struct {
	readings []events.ReadingEvent
}

func (r *recordingSink) PublishReading(_ context.Context, ev events.ReadingEvent) error {
	r.readings = append(r.readings, ev)
	return nil
}

func newTestConsumer(t *testing.T, store ReadingStore, tracker DeviceTracker, fanout *events.Fanout) (*TelemetryConsumer, *metrics.Metrics, *fakeSubscriber) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Topics.Root = "safesleep/"
	cfg.MQTT.QoS = 1

	m := metrics.NewMetrics()
	sub := &fakeSubscriber{}
	c := NewTelemetryConsumer(cfg, sub, store, tracker, fanout, m, zap.NewNop())
	c.now = func() time.Time { return fixedNow }
	return c, m, sub
}

func TestHandleMessage_DHT(t *testing.T) {
	store := &fakeStore{}
	tracker := &fakeTracker{}
	c, m, _ := newTestConsumer(t, store, tracker, nil)

	err := c.HandleMessage("safesleep/bedroom", []byte("From: DHT1 Temperature: 21.5 Humidity: 60"))
	require.NoError(t, err)

	readings := store.all()
	require.Len(t, readings, 1)
	assert.Equal(t, "DHT1", readings[0].Name)
	assert.Equal(t, "2024-03-01 10:30:00", readings[0].Timestamp)
	assert.Equal(t, "21.5", readings[0].Value)
	assert.Equal(t, []string{"DHT1"}, tracker.seen)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestMessages.WithLabelValues("dht", "accepted")))
}

func TestHandleMessage_MeterWritesBothInOneBatch(t *testing.T) {
	store := &fakeStore{}
	sink := &recordingSink{}
	fanout := events.NewFanout(zap.NewNop())
	fanout.AddReadingSink(sink)
	c, m, _ := newTestConsumer(t, store, &fakeTracker{}, fanout)

	err := c.HandleMessage("safesleep/meter", []byte("From: ElecMeter Electricity: 1.64 Sensitivity: 0.017"))
	require.NoError(t, err)

	require.Len(t, store.batches, 1)
	batch := store.batches[0]
	require.Len(t, batch, 2)
	assert.Equal(t, models.MetricElectricity, batch[0].Name)
	assert.Equal(t, "1.64", batch[0].Value)
	assert.Equal(t, models.MetricSensitivity, batch[1].Name)
	assert.Equal(t, "0.017", batch[1].Value)

	require.Len(t, sink.readings, 2)
	assert.Equal(t, "safesleep/meter", sink.readings[0].Topic)
	assert.Equal(t, "meter", sink.readings[1].Class)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReadingsWritten.WithLabelValues(models.MetricSensitivity)))
}

func TestHandleMessage_NoTemperatureNoWrite(t *testing.T) {
	store := &fakeStore{}
	c, m, _ := newTestConsumer(t, store, nil, nil)

	require.NoError(t, c.HandleMessage("safesleep/bedroom", []byte("From: DHT1 Humidity: 60")))
	assert.Empty(t, store.all())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestMessages.WithLabelValues("dht", "skipped")))
}

func TestHandleMessage_UnrecognizedDropped(t *testing.T) {
	store := &fakeStore{}
	c, m, _ := newTestConsumer(t, store, nil, nil)

	require.NoError(t, c.HandleMessage("safesleep/alarm", []byte("Current electricity consumption exceed the normal! 2.1")))
	require.NoError(t, c.HandleMessage("safesleep/motion", []byte("Temperature: 23.5")))
	assert.Empty(t, store.all())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IngestMessages.WithLabelValues("unknown", "unrecognized")))
}

func TestHandleMessage_ParseErrorCounted(t *testing.T) {
	store := &fakeStore{}
	c, m, _ := newTestConsumer(t, store, nil, nil)

	require.NoError(t, c.HandleMessage("safesleep/meter", []byte("From: Meter1 Electricity: 1.64")))
	assert.Empty(t, store.all())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestMessages.WithLabelValues("meter", "parse_error")))
}

func TestHandleMessage_InvalidUTF8IsReplaced(t *testing.T) {
	store := &fakeStore{}
	c, _, _ := newTestConsumer(t, store, nil, nil)

	payload := append([]byte("From: DHT1 Temperature: 2"), 0xff, '5')
	require.NoError(t, c.HandleMessage("safesleep/bedroom", payload))

	readings := store.all()
	require.Len(t, readings, 1)
	assert.Equal(t, "2\uFFFD5", readings[0].Value)
}

func TestHandleMessage_StoreErrorReturned(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	c, m, _ := newTestConsumer(t, store, nil, nil)

	err := c.HandleMessage("safesleep/bedroom", []byte("From: DHT1 Temperature: 21.5 Humidity: 60"))
	require.Error(t, err)
	assert.True(t, errs.IsStore(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestMessages.WithLabelValues("dht", "store_error")))
}

func TestStartStop(t *testing.T) {
	store := &fakeStore{}
	c, _, sub := newTestConsumer(t, store, nil, nil)

	require.NoError(t, c.Start())
	assert.Equal(t, []string{"safesleep/#"}, sub.topics)

	require.NoError(t, sub.handlers["safesleep/#"]("safesleep/x", []byte("From: DHT9 Temperature: 18")))
	assert.Len(t, store.all(), 1)

	c.Stop()
	assert.Equal(t, []string{"safesleep/#"}, sub.removed)
}
