package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-optimizer/internal/domain"
)

type publishedMsg struct {
	channel string
	payload []byte
}

type fakeRedis struct {
	msgs []publishedMsg
	err  error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.msgs = append(f.msgs, publishedMsg{channel: channel, payload: message.([]byte)})
	return redis.NewIntResult(1, nil)
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, Event) error {
	f.calls++
	return errors.New("broker down")
}

func TestBus_DeliversToObserversAndPublishers(t *testing.T) {
	rdb := &fakeRedis{}
	failing := &failingPublisher{}
	bus := NewBus(zap.NewNop(), failing, NewRedisPublisher(rdb))

	var seen []Type
	bus.Subscribe(func(_ context.Context, e Event) { seen = append(seen, e.Type) })

	bus.Emit(context.Background(), Event{Type: ThresholdsApplied, EntityID: "req-1"})

	assert.Equal(t, []Type{ThresholdsApplied}, seen)
	assert.Equal(t, 1, failing.calls)
	require.Len(t, rdb.msgs, 1)
	assert.Equal(t, "optimizer:events:thresholds_applied", rdb.msgs[0].channel)

	var got Event
	require.NoError(t, json.Unmarshal(rdb.msgs[0].payload, &got))
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "req-1", got.EntityID)
	assert.False(t, got.Timestamp.IsZero())
}

func TestBus_DeferHoldsEventsUntilFlush(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var got []Type
	bus.Subscribe(func(_ context.Context, e Event) { got = append(got, e.Type) })

	ctx, flush := Defer(context.Background())
	bus.Emit(ctx, Event{Type: ThresholdsApplied})
	bus.Emit(ctx, Event{Type: ThresholdsRolledBack})
	assert.Empty(t, got)

	flush()
	assert.Equal(t, []Type{ThresholdsApplied, ThresholdsRolledBack}, got)

	// повторный flush ничего не дублирует, обычный Emit доставляет сразу
	flush()
	bus.Emit(context.Background(), Event{Type: DecisionCreated})
	assert.Equal(t, []Type{ThresholdsApplied, ThresholdsRolledBack, DecisionCreated}, got)
}

func TestRedisPublisher_Error(t *testing.T) {
	p := NewRedisPublisher(&fakeRedis{err: errors.New("conn refused")})
	err := p.Publish(context.Background(), Event{Type: AnalysisCompleted})
	assert.ErrorContains(t, err, "conn refused")
}

func TestRedisNotifier(t *testing.T) {
	rdb := &fakeRedis{}
	n := NewRedisNotifier(rdb)
	req := &domain.DecisionRequest{
		ID:        "d-1",
		Type:      domain.DecisionThresholdChange,
		Priority:  domain.PriorityHigh,
		Content:   domain.DecisionContent{Title: "tighten"},
		ExpiresAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	err := n.Notify(context.Background(), req, []domain.OversightUser{{ID: "alice"}, {ID: "bob"}})
	require.NoError(t, err)
	require.Len(t, rdb.msgs, 2)
	assert.Equal(t, "optimizer:notifications:alice", rdb.msgs[0].channel)
	assert.Equal(t, "optimizer:notifications:bob", rdb.msgs[1].channel)

	var notice DecisionNotice
	require.NoError(t, json.Unmarshal(rdb.msgs[0].payload, &notice))
	assert.Equal(t, "d-1", notice.RequestID)
	assert.Equal(t, "tighten", notice.Title)
	assert.Equal(t, domain.PriorityHigh, notice.Priority)
}

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}

	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, p.Publish(context.Background(), Event{ID: "e-1", Type: DecisionResolved, EntityID: "d-1", Timestamp: ts}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("d-1"), w.msgs[0].Key)
	assert.Equal(t, ts, w.msgs[0].Time)
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)
	assert.Equal(t, []byte(DecisionResolved), w.msgs[0].Headers[0].Value)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
