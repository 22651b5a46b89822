package publish

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sensorbridge/internal/record"
)

// fakeToken implements mqtt.Token.
type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type fakeClient struct {
	mu           sync.Mutex
	connectToken mqtt.Token
	publishToken mqtt.Token
	published    []published
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token { return c.connectToken }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic, qos, retained, string(payload.([]byte))})
	if c.publishToken != nil {
		return c.publishToken
	}
	return completedToken(nil)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func TestPayload(t *testing.T) {
	got, err := Payload(record.Record{Temperature: 23.5, Humidity: 61.2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"temperature":23.5,"humidity":61.2}`, string(got))
}

func TestMQTTConfig_Defaults(t *testing.T) {
	cfg := MQTTConfig{}.withDefaults()
	assert.Equal(t, "tcp://localhost:1883", cfg.BrokerURL())
	assert.Equal(t, DefaultTopic, cfg.Topic)
	assert.Contains(t, cfg.ClientID, "sensorbridge-")
	assert.Equal(t, 60*time.Second, cfg.KeepAlive)

	other := MQTTConfig{}.withDefaults()
	assert.NotEqual(t, cfg.ClientID, other.ClientID, "client ids must be unique per process")
}

func TestMQTTSink_PublishRetainedQoS0(t *testing.T) {
	client := &fakeClient{connectToken: completedToken(nil)}
	s := newMQTTSink(MQTTConfig{Topic: "home/sensor/test"}, client)
	s.connect()

	require.NoError(t, s.Publish(context.Background(), record.Record{Temperature: 23.5, Humidity: 61.2}))
	require.Len(t, client.published, 1)
	p := client.published[0]
	assert.Equal(t, "home/sensor/test", p.topic)
	assert.Equal(t, byte(0), p.qos)
	assert.True(t, p.retained)
	assert.JSONEq(t, `{"temperature":23.5,"humidity":61.2}`, p.payload)
}

func TestMQTTSink_PublishDoesNotWaitForDelivery(t *testing.T) {
	client := &fakeClient{connectToken: completedToken(nil), publishToken: pendingToken()}
	s := newMQTTSink(MQTTConfig{}, client)

	done := make(chan error, 1)
	go func() { done <- s.Publish(context.Background(), record.Record{}) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on an incomplete token")
	}
}

func TestMQTTSink_PublishReportsImmediateFailure(t *testing.T) {
	client := &fakeClient{connectToken: completedToken(nil), publishToken: completedToken(errors.New("not connected"))}
	s := newMQTTSink(MQTTConfig{}, client)

	err := s.Publish(context.Background(), record.Record{})
	assert.ErrorContains(t, err, "not connected")
}

func TestMQTTSink_ConnectTimeoutIsNotFatal(t *testing.T) {
	client := &fakeClient{connectToken: pendingToken()}
	s := newMQTTSink(MQTTConfig{ConnectTimeout: 10 * time.Millisecond}, client)
	s.connect()

	require.NoError(t, s.Close())
	assert.True(t, client.disconnected)
}

// recordingSink collects published records; block, when set, holds each
// publish until it is closed.
type recordingSink struct {
	mu      sync.Mutex
	records []record.Record
	err     error
	block   chan struct{}
	closed  bool
}

func (s *recordingSink) Publish(_ context.Context, rec record.Record) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) Records() []record.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]record.Record(nil), s.records...)
}

func TestAsync_DeliversInOrder(t *testing.T) {
	inner := &recordingSink{}
	a := NewAsync(inner, 4)

	for i := 0; i < 3; i++ {
		require.NoError(t, a.Publish(context.Background(), record.Record{Temperature: float64(i)}))
	}
	require.NoError(t, a.Close())

	got := inner.Records()
	require.Len(t, got, 3)
	for i, rec := range got {
		assert.Equal(t, float64(i), rec.Temperature)
	}
	assert.True(t, inner.closed)
	assert.Equal(t, AsyncStats{Submitted: 3, Published: 3}, a.Stats())
}

func TestAsync_DropsWhenFull(t *testing.T) {
	inner := &recordingSink{block: make(chan struct{})}
	a := NewAsync(inner, 1)

	// first record is taken by the worker and blocks there, the second
	// fills the queue
	require.NoError(t, a.Publish(context.Background(), record.Record{Temperature: 1}))
	require.Eventually(t, func() bool { return len(a.queue) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, a.Publish(context.Background(), record.Record{Temperature: 2}))

	err := a.Publish(context.Background(), record.Record{Temperature: 3})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, uint64(1), a.Stats().Dropped)

	close(inner.block)
	require.NoError(t, a.Close())
	assert.Len(t, inner.Records(), 2)
}

func TestAsync_CountsFailures(t *testing.T) {
	inner := &recordingSink{err: errors.New("broker gone")}
	a := NewAsync(inner, 0)
	require.NoError(t, a.Publish(context.Background(), record.Record{}))
	require.NoError(t, a.Close())
	assert.Equal(t, uint64(1), a.Stats().Failed)
}

func TestAsync_PublishAfterClose(t *testing.T) {
	a := NewAsync(&recordingSink{}, 1)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close(), "Close is idempotent")
	assert.ErrorIs(t, a.Publish(context.Background(), record.Record{}), ErrClosed)
}

func TestMulti(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{err: errors.New("b failed")}
	m := Multi{a, b}

	err := m.Publish(context.Background(), record.Record{Humidity: 50})
	assert.ErrorContains(t, err, "b failed")
	assert.Len(t, a.Records(), 1)
	assert.Len(t, b.Records(), 1)

	require.NoError(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestLogSink(t *testing.T) {
	s := LogSink{Topic: "dev"}
	assert.NoError(t, s.Publish(context.Background(), record.Record{Temperature: 1, Humidity: 2}))
	assert.NoError(t, s.Close())
}

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewAsync(&recordingSink{}, 1)
	require.NoError(t, RegisterMetrics(reg, a))

	require.NoError(t, a.Publish(context.Background(), record.Record{}))
	require.NoError(t, a.Close())

	families, err := reg.Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, f := range families {
		m := f.GetMetric()[0]
		if m.Counter != nil {
			got[f.GetName()] = m.Counter.GetValue()
		}
	}
	assert.Equal(t, 1.0, got["sensorbridge_publish_submitted_total"])
	assert.Equal(t, 1.0, got["sensorbridge_publish_published_total"])
	assert.Equal(t, 0.0, got["sensorbridge_publish_dropped_total"])

	assert.Error(t, RegisterMetrics(reg, a), "registering twice must fail")
}
