package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-optimizer/internal/infra"
)

// Freezer — может ли оптимизатор сейчас что-то менять сам.
type Freezer interface {
	Frozen() (bool, string)
}

type freezeStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// FreezeSwitch — рубильник оператора: пока он включен, автоприменение
// рекомендаций и порогов остановлено. Решения людей исполняются как обычно.
// Состояние лежит в Redis, изменения прилетают через Pub/Sub.
type FreezeSwitch struct {
	mu     sync.RWMutex
	frozen bool
	reason string

	rdb    *redis.Client
	store  freezeStore
	logger *zap.Logger
}

func NewFreezeSwitch(rdb *redis.Client, logger *zap.Logger) *FreezeSwitch {
	f := &FreezeSwitch{rdb: rdb, logger: logger.Named("freeze")}
	if rdb != nil {
		f.store = rdb
	}
	return f
}

// Init загружает текущее состояние при старте и после переподключения.
func (f *FreezeSwitch) Init(ctx context.Context) error {
	if f.store == nil {
		return nil
	}
	val, err := f.store.Get(ctx, infra.RedisKeyFreeze).Result()
	if errors.Is(err, redis.Nil) {
		f.Set(false, "")
		return nil
	}
	if err != nil {
		return err
	}
	f.Apply(val)
	return nil
}

// Listen блокируется до отмены ctx.
func (f *FreezeSwitch) Listen(ctx context.Context) {
	listenResilient(ctx, f.rdb, f.logger, infra.RedisChanFreeze, time.Second, f.Init, f.Apply)
}

// Apply разбирает сигнал формата "on:<причина>" или "off".
func (f *FreezeSwitch) Apply(signal string) {
	state, reason, _ := strings.Cut(signal, ":")
	switch state {
	case "on", "true":
		f.Set(true, reason)
	case "off", "false":
		f.Set(false, "")
	default:
		f.logger.Error("invalid freeze signal", zap.String("payload", signal))
	}
}

func (f *FreezeSwitch) Set(frozen bool, reason string) {
	f.mu.Lock()
	changed := f.frozen != frozen
	f.frozen = frozen
	f.reason = reason
	f.mu.Unlock()

	if changed {
		f.logger.Warn("automatic changes freeze toggled",
			zap.Bool("frozen", frozen), zap.String("reason", reason))
	}
}

func (f *FreezeSwitch) Frozen() (bool, string) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.frozen, f.reason
}
