package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-optimizer/internal/domain"
	"github.com/xela07ax/spaceai-optimizer/internal/infra"
)

type recordingSink struct {
	mu    sync.Mutex
	snaps []domain.MetricsSnapshot
}

func (s *recordingSink) PushMetricsSnapshot(snap domain.MetricsSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
}

type fakeBacklog struct {
	key   string
	items []string
	err   error
}

func (f *fakeBacklog) LRange(_ context.Context, key string, _, _ int64) *redis.StringSliceCmd {
	f.key = key
	return redis.NewStringSliceResult(f.items, f.err)
}

func snapshotJSON(ts time.Time, health float64) string {
	return fmt.Sprintf(`{"timestamp":%q,"system":{"health_score":%v},"agents":{"a1":{"response_time":120}}}`,
		ts.Format(time.RFC3339Nano), health)
}

func TestSnapshotIngestor_Handle(t *testing.T) {
	sink := &recordingSink{}
	in := NewSnapshotIngestor(nil, sink, IngestConfig{}, zap.NewNop())
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, in.Handle(snapshotJSON(ts, 88)))
	require.Len(t, sink.snaps, 1)
	assert.Equal(t, 88.0, sink.snaps[0].System.HealthScore)
	assert.Equal(t, 120.0, sink.snaps[0].Agents["a1"].ResponseTime)

	// повтор и запоздавший срез не проходят
	require.NoError(t, in.Handle(snapshotJSON(ts, 10)))
	require.NoError(t, in.Handle(snapshotJSON(ts.Add(-time.Minute), 10)))
	assert.Len(t, sink.snaps, 1)

	assert.Error(t, in.Handle("not json"))
	assert.Error(t, in.Handle(`{"system":{"health_score":1}}`), "timestamp is required")

	accepted, dropped := in.Stats()
	assert.EqualValues(t, 1, accepted)
	assert.EqualValues(t, 4, dropped)
}

func TestSnapshotIngestor_Warmup(t *testing.T) {
	sink := &recordingSink{}
	in := NewSnapshotIngestor(nil, sink, IngestConfig{}, zap.NewNop())
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, in.Handle(snapshotJSON(ts, 50)))

	backlog := &fakeBacklog{items: []string{
		snapshotJSON(ts.Add(2*time.Minute), 70),
		snapshotJSON(ts.Add(-time.Minute), 40), // уже в истории
		"{broken",
		snapshotJSON(ts.Add(time.Minute), 60),
	}}
	in.backlog = backlog

	n, err := in.Warmup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, infra.RedisKeySnapshotBacklog, backlog.key)

	require.Len(t, sink.snaps, 3)
	assert.Equal(t, 60.0, sink.snaps[1].System.HealthScore, "backlog is replayed oldest first")
	assert.Equal(t, 70.0, sink.snaps[2].System.HealthScore)
}

func TestSnapshotIngestor_WarmupError(t *testing.T) {
	in := NewSnapshotIngestor(nil, &recordingSink{}, IngestConfig{BacklogKey: "custom"}, zap.NewNop())
	in.backlog = &fakeBacklog{err: errors.New("connection refused")}

	_, err := in.Warmup(context.Background())
	assert.ErrorContains(t, err, "custom")
}

func TestSnapshotIngestor_WarmupWithoutRedis(t *testing.T) {
	in := NewSnapshotIngestor(nil, &recordingSink{}, IngestConfig{}, zap.NewNop())
	n, err := in.Warmup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
