package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/drowsiness.monitor/internal/alert"
	"github.com/banshee-data/drowsiness.monitor/internal/sensor"
)

func testEvent(src alert.Source) alert.Event {
	return alert.New(src, alert.RuleGripPulse, 42, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		sensor.Snapshot{GripValue: 40, PulseIBI: 1100})
}

type recordingSink struct {
	mu     sync.Mutex
	name   string
	events []alert.Event
	err    error
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Publish(_ context.Context, ev alert.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestDispatcher_DeliversToEverySink(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b", err: errors.New("broker down")}
	d := NewDispatcher(nil, 8, a)
	d.AddSink(b)
	assert.Equal(t, []string{"a", "b"}, d.Sinks())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	d.Submit(testEvent(alert.SourceGrip))
	d.Submit(testEvent(alert.SourceBlink))
	require.Eventually(t, func() bool { return a.count() == 2 }, time.Second, time.Millisecond)
	cancel()
	<-done

	st := d.Stats()
	assert.Equal(t, uint64(2), st.Delivered)
	assert.Equal(t, uint64(2), st.Failed)
	assert.Equal(t, "broker down", st.LastErrors["b"])
}

func TestDispatcher_SubmitNeverBlocks(t *testing.T) {
	a := &recordingSink{name: "a"}
	d := NewDispatcher(nil, 2, a)
	for i := 0; i < 5; i++ {
		d.Submit(testEvent(alert.SourceApproach))
	}
	assert.Equal(t, uint64(3), d.Stats().Dropped)

	// a cancelled Run still drains what was queued
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))
	assert.Equal(t, 2, a.count())
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakePublisher struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload.([]byte))
	return newFakeToken(f.err)
}

func TestMQTTSink_Publish(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub, "drowsiness/alerts")
	assert.Equal(t, "mqtt", sink.Name())

	ev := testEvent(alert.SourceCombined)
	require.NoError(t, sink.Publish(context.Background(), ev))
	assert.Equal(t, []string{"drowsiness/alerts/combined"}, pub.topics)

	var got alert.Event
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, alert.RuleGripPulse, got.Rule)

	pub.err = errors.New("not connected")
	assert.ErrorContains(t, sink.Publish(context.Background(), ev), "not connected")
}

func TestMQTTSink_ContextTimeout(t *testing.T) {
	pending := &fakeToken{done: make(chan struct{})}
	sink := NewMQTTSink(publisherFunc(func() mqtt.Token { return pending }), "t")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := sink.Publish(ctx, testEvent(alert.SourceGrip))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type publisherFunc func() mqtt.Token

func (f publisherFunc) Publish(string, byte, bool, interface{}) mqtt.Token { return f() }

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", brokerURL("localhost:1883"))
	assert.Equal(t, "ssl://broker:8883", brokerURL("ssl://broker:8883"))
}

func TestRedisSink_AppendsToStream(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	client, err := DialRedis(ctx, mr.Addr())
	require.NoError(t, err)
	defer client.Close()

	sink := NewRedisSink(client, "drowsiness:alerts", 1000)
	assert.Equal(t, "redis", sink.Name())
	ev := testEvent(alert.SourceGrip)
	require.NoError(t, sink.Publish(ctx, ev))
	require.NoError(t, sink.Publish(ctx, testEvent(alert.SourceBlink)))

	msgs, err := client.XRange(ctx, "drowsiness:alerts", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, ev.ID.String(), msgs[0].Values["id"])
	assert.Equal(t, "grip", msgs[0].Values["source"])
	assert.Equal(t, "42", msgs[0].Values["tick"])

	var decoded alert.Event
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &decoded))
	assert.Equal(t, ev.Snapshot, decoded.Snapshot)
}

func TestDialRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := DialRedis(ctx, addr)
	assert.Error(t, err)
}
