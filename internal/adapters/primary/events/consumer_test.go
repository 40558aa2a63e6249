package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupiterclapton/cenackle-timeline/internal/core/domain"
)

type fakeMsg struct {
	subject  string
	data     []byte
	meta     *jetstream.MsgMetadata
	metaErr  error
	acked    bool
	termed   bool
	nakDelay time.Duration
	naked    bool
}

func (m *fakeMsg) Subject() string      { return m.subject }
func (m *fakeMsg) Data() []byte         { return m.data }
func (m *fakeMsg) Headers() nats.Header { return nats.Header{} }
func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return m.meta, m.metaErr
}
func (m *fakeMsg) Ack() error  { m.acked = true; return nil }
func (m *fakeMsg) Term() error { m.termed = true; return nil }
func (m *fakeMsg) NakWithDelay(d time.Duration) error {
	m.naked, m.nakDelay = true, d
	return nil
}

type recordingHandler struct {
	outcome domain.Outcome
	got     []domain.Delivery
	ctxErr  error
}

func (h *recordingHandler) Handle(ctx context.Context, d domain.Delivery) domain.Outcome {
	h.got = append(h.got, d)
	h.ctxErr = ctx.Err()
	return h.outcome
}

func newMsg(seq, delivered uint64) *fakeMsg {
	return &fakeMsg{
		subject: "edge.created",
		data:    []byte(`{"follower_id":"a","followee_id":"b"}`),
		meta: &jetstream.MsgMetadata{
			Sequence:     jetstream.SequencePair{Stream: seq, Consumer: seq},
			NumDelivered: delivered,
			Timestamp:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestProcessMapsDeliveryAndAcks(t *testing.T) {
	h := &recordingHandler{outcome: domain.OutcomeAck}
	c := NewConsumer(h, ConsumerConfig{}, nil)
	msg := newMsg(42, 1)

	out := c.process(context.Background(), msg)

	assert.Equal(t, domain.OutcomeAck, out)
	assert.True(t, msg.acked)
	require.Len(t, h.got, 1)
	assert.Equal(t, "edge.created", h.got[0].Subject)
	assert.EqualValues(t, 42, h.got[0].Seq)
	assert.EqualValues(t, 1, h.got[0].NumDelivered)
	assert.Equal(t, msg.meta.Timestamp, h.got[0].PublishedAt)
}

func TestProcessDropTerminates(t *testing.T) {
	c := NewConsumer(&recordingHandler{outcome: domain.OutcomeDrop}, ConsumerConfig{}, nil)
	msg := newMsg(1, 1)

	c.process(context.Background(), msg)
	assert.True(t, msg.termed)
	assert.False(t, msg.acked)
}

func TestProcessRetryNaksWithBackoff(t *testing.T) {
	c := NewConsumer(&recordingHandler{outcome: domain.OutcomeRetry}, ConsumerConfig{BackoffBase: time.Second, BackoffMax: 10 * time.Second}, nil)

	msg := newMsg(1, 3)
	c.process(context.Background(), msg)
	assert.True(t, msg.naked)
	assert.Equal(t, 4*time.Second, msg.nakDelay)
}

func TestProcessWithoutMetadataIsDropped(t *testing.T) {
	h := &recordingHandler{outcome: domain.OutcomeAck}
	c := NewConsumer(h, ConsumerConfig{}, nil)
	msg := newMsg(1, 1)
	msg.meta, msg.metaErr = nil, errors.New("not a jetstream message")

	assert.Equal(t, domain.OutcomeDrop, c.process(context.Background(), msg))
	assert.True(t, msg.termed)
	assert.Empty(t, h.got)
}

func TestProcessSurvivesCallerCancellation(t *testing.T) {
	h := &recordingHandler{outcome: domain.OutcomeAck}
	c := NewConsumer(h, ConsumerConfig{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c.process(ctx, newMsg(1, 1))
	assert.NoError(t, h.ctxErr)
}

func TestBackoffIsCapped(t *testing.T) {
	c := NewConsumer(nil, ConsumerConfig{BackoffBase: time.Second, BackoffMax: time.Minute}, nil)
	assert.Equal(t, time.Second, c.backoff(0))
	assert.Equal(t, time.Second, c.backoff(1))
	assert.Equal(t, 2*time.Second, c.backoff(2))
	assert.Equal(t, 32*time.Second, c.backoff(6))
	assert.Equal(t, time.Minute, c.backoff(7))
	assert.Equal(t, time.Minute, c.backoff(500))
}

func TestConfigDefaults(t *testing.T) {
	cfg := ConsumerConfig{AckWait: 10 * time.Second, HandlerTimeout: time.Minute}.withDefaults()
	assert.Equal(t, 9*time.Second, cfg.HandlerTimeout, "handler must finish before redelivery")
	assert.Equal(t, 4, cfg.Workers)
}
