package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-optimizer/internal/domain"
	"github.com/xela07ax/spaceai-optimizer/internal/infra"
)

// SnapshotSink — куда ингестор складывает разобранные срезы. Реализуется Optimizer.
type SnapshotSink interface {
	PushMetricsSnapshot(snap domain.MetricsSnapshot)
}

type backlogReader interface {
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

type IngestConfig struct {
	Channel        string
	BacklogKey     string
	BacklogSize    int64 // сколько последних срезов читать при переподключении
	ResubscribeGap time.Duration
}

func (c IngestConfig) withDefaults() IngestConfig {
	if c.Channel == "" {
		c.Channel = infra.RedisChanSnapshots
	}
	if c.BacklogKey == "" {
		c.BacklogKey = infra.RedisKeySnapshotBacklog
	}
	if c.BacklogSize <= 0 {
		c.BacklogSize = 100
	}
	if c.ResubscribeGap <= 0 {
		c.ResubscribeGap = time.Second
	}
	return c
}

// SnapshotIngestor слушает канал срезов в Redis и передает их в оптимизатор.
// Срезы не новее последнего принятого отбрасываются: после переподключения
// backlog и живой канал пересекаются.
type SnapshotIngestor struct {
	rdb     *redis.Client
	backlog backlogReader
	sink    SnapshotSink
	cfg     IngestConfig
	logger  *zap.Logger

	mu       sync.Mutex
	lastSeen time.Time
	accepted uint64
	dropped  uint64
}

func NewSnapshotIngestor(rdb *redis.Client, sink SnapshotSink, cfg IngestConfig, logger *zap.Logger) *SnapshotIngestor {
	in := &SnapshotIngestor{
		rdb:    rdb,
		sink:   sink,
		cfg:    cfg.withDefaults(),
		logger: logger.Named("ingest"),
	}
	if rdb != nil {
		in.backlog = rdb
	}
	return in
}

// Run блокируется до отмены ctx. При обрыве подписки переподключается
// и перед чтением канала догоняет историю из backlog.
func (in *SnapshotIngestor) Run(ctx context.Context) {
	listenResilient(ctx, in.rdb, in.logger, in.cfg.Channel, in.cfg.ResubscribeGap,
		func(ctx context.Context) error {
			n, err := in.Warmup(ctx)
			if n > 0 {
				in.logger.Info("history caught up from backlog", zap.Int("snapshots", n))
			}
			return err
		},
		func(payload string) {
			if err := in.Handle(payload); err != nil {
				in.logger.Warn("snapshot rejected", zap.Error(err))
			}
		})
}

// Warmup читает последние срезы из backlog (от старых к новым) и принимает те,
// что новее уже виденных.
func (in *SnapshotIngestor) Warmup(ctx context.Context) (int, error) {
	if in.backlog == nil {
		return 0, nil
	}
	items, err := in.backlog.LRange(ctx, in.cfg.BacklogKey, -in.cfg.BacklogSize, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("read backlog %s: %w", in.cfg.BacklogKey, err)
	}

	snaps := make([]domain.MetricsSnapshot, 0, len(items))
	for _, raw := range items {
		snap, err := decodeSnapshot(raw)
		if err != nil {
			in.logger.Warn("skip malformed backlog entry", zap.Error(err))
			continue
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Timestamp.Before(snaps[j].Timestamp)
	})

	accepted := 0
	for _, snap := range snaps {
		if in.accept(snap) {
			accepted++
		}
	}
	return accepted, nil
}

// Handle разбирает одно сообщение канала.
func (in *SnapshotIngestor) Handle(payload string) error {
	snap, err := decodeSnapshot(payload)
	if err != nil {
		in.mu.Lock()
		in.dropped++
		in.mu.Unlock()
		return err
	}
	in.accept(snap)
	return nil
}

func (in *SnapshotIngestor) accept(snap domain.MetricsSnapshot) bool {
	in.mu.Lock()
	if !snap.Timestamp.After(in.lastSeen) {
		in.dropped++
		in.mu.Unlock()
		return false
	}
	in.lastSeen = snap.Timestamp
	in.accepted++
	in.mu.Unlock()

	in.sink.PushMetricsSnapshot(snap)
	return true
}

// Stats — принятые и отброшенные срезы с момента старта.
func (in *SnapshotIngestor) Stats() (accepted, dropped uint64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.accepted, in.dropped
}

func decodeSnapshot(payload string) (domain.MetricsSnapshot, error) {
	var snap domain.MetricsSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Timestamp.IsZero() {
		return snap, fmt.Errorf("decode snapshot: missing timestamp")
	}
	return snap, nil
}
