package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-optimizer/internal/domain"
)

type fakeFreezeStore struct {
	val string
	err error
}

func (f fakeFreezeStore) Get(_ context.Context, _ string) *redis.StringCmd {
	return redis.NewStringResult(f.val, f.err)
}

func TestFreezeSwitch_Apply(t *testing.T) {
	f := NewFreezeSwitch(nil, zap.NewNop())

	f.Apply("on:incident 42")
	frozen, reason := f.Frozen()
	assert.True(t, frozen)
	assert.Equal(t, "incident 42", reason)

	f.Apply("garbage")
	frozen, _ = f.Frozen()
	assert.True(t, frozen, "invalid signal keeps the state")

	f.Apply("off")
	frozen, reason = f.Frozen()
	assert.False(t, frozen)
	assert.Empty(t, reason)
}

func TestFreezeSwitch_Init(t *testing.T) {
	f := NewFreezeSwitch(nil, zap.NewNop())
	ctx := context.Background()

	f.store = fakeFreezeStore{val: "on:maintenance"}
	require.NoError(t, f.Init(ctx))
	frozen, _ := f.Frozen()
	assert.True(t, frozen)

	// ключа нет — рубильник выключен
	f.store = fakeFreezeStore{err: redis.Nil}
	require.NoError(t, f.Init(ctx))
	frozen, _ = f.Frozen()
	assert.False(t, frozen)

	f.store = fakeFreezeStore{err: errors.New("timeout")}
	assert.Error(t, f.Init(ctx))
}

func TestOptimizer_FrozenSkipsAutomaticChanges(t *testing.T) {
	f := newFixture(t, OptimizerConfig{})
	sw := NewFreezeSwitch(nil, zap.NewNop())
	f.opt.UseFreeze(sw)
	sw.Set(true, "release window")

	_, skipped := f.opt.ApplyOptimizations(context.Background(), []domain.OptimizationRecommendation{
		{ID: "r1", Type: domain.RecommendationTrend, RiskLevel: domain.RiskLow, Source: "trend:x"},
	})
	require.Len(t, skipped, 1)
	assert.Equal(t, domain.SkipFrozen, skipped[0].Reason)
	assert.Equal(t, "release window", skipped[0].Detail)
	assert.True(t, f.opt.Health().Frozen)

	// небольшая правка порогов тоже ждет разморозки
	pushRising(f.opt, 5, 1)
	require.NoError(t, f.opt.RunCycle(context.Background()))
	assert.Equal(t, 2000.0, f.opt.GetCurrentThresholds().MaxResponseTime)

	sw.Set(false, "")
	results, _ := f.opt.ApplyOptimizations(context.Background(), []domain.OptimizationRecommendation{
		{ID: "r2", Type: domain.RecommendationTrend, RiskLevel: domain.RiskLow, Source: "trend:x"},
	})
	assert.Len(t, results, 1)
}
