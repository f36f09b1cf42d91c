package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-optimizer/internal/analysis"
	"github.com/xela07ax/spaceai-optimizer/internal/domain"
	"github.com/xela07ax/spaceai-optimizer/internal/events"
	"github.com/xela07ax/spaceai-optimizer/internal/history"
	"github.com/xela07ax/spaceai-optimizer/internal/oversight"
	"github.com/xela07ax/spaceai-optimizer/internal/risk"
)

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, *domain.DecisionRequest, []domain.OversightUser) error {
	return nil
}

type eventLog struct {
	mu    sync.Mutex
	types []events.Type
}

func (l *eventLog) observe(_ context.Context, e events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.types = append(l.types, e.Type)
}

func (l *eventLog) has(t events.Type) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.types {
		if got == t {
			return true
		}
	}
	return false
}

type fixture struct {
	opt        *Optimizer
	bus        *events.Bus
	store      *history.Store
	thresholds *risk.ThresholdEngine
	workflow   *oversight.Workflow
	log        *eventLog
}

func newFixture(t *testing.T, cfg OptimizerConfig) *fixture {
	t.Helper()
	logger := zap.NewNop()
	log := &eventLog{}
	bus := events.NewBus(logger)
	bus.Subscribe(log.observe)

	store := history.NewStore(100)
	thresholds := risk.NewThresholdEngine(domain.DefaultThresholds(), risk.ThresholdConfig{}, bus, logger)
	wf := oversight.NewWorkflow(oversight.Config{}, nopNotifier{}, NewHistoryState(store, thresholds), bus, logger)
	wf.AddUser(domain.OversightUser{ID: "root", Role: domain.RoleAdmin})
	t.Cleanup(wf.Close)

	opt := NewOptimizer(cfg, store,
		analysis.NewTrendAnalyzer(analysis.TrendConfig{}, logger),
		analysis.NewPredictor(0, 0),
		thresholds, wf, bus, nil, logger)
	return &fixture{opt: opt, bus: bus, store: store, thresholds: thresholds, workflow: wf, log: log}
}

// overloadedAgent — один срез: a1 отвечает вдвое дольше лимита (critical)
// и чуть превышает лимит памяти (low).
func overloadedAgent() domain.MetricsSnapshot {
	return domain.MetricsSnapshot{
		Timestamp: time.Now().Add(-time.Minute),
		Agents: map[string]domain.AgentMetrics{
			"a1": {ResponseTime: 4000, SuccessRate: 99, MemoryUsage: 90, CPUUsage: 10},
		},
		System: domain.SystemMetrics{AverageResponseTime: 500, SuccessRate: 99, HealthScore: 70},
	}
}

// pushRising кладет n срезов, где среднее время ответа растет на step за срез.
func pushRising(o *Optimizer, n int, step float64) {
	base := time.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		o.PushMetricsSnapshot(domain.MetricsSnapshot{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			System:    domain.SystemMetrics{AverageResponseTime: 100 + step*float64(i), SuccessRate: 99, HealthScore: 90},
		})
	}
}

func TestOptimizer_AnalysisAndRecommendations(t *testing.T) {
	f := newFixture(t, OptimizerConfig{})
	ctx := context.Background()
	f.opt.PushMetricsSnapshot(overloadedAgent())

	a, err := f.opt.RunAnalysis(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, a.SnapshotCount)
	assert.Equal(t, 70.0, a.HealthScore)
	require.Len(t, a.Bottlenecks, 2)
	assert.Equal(t, domain.SeverityCritical, a.Bottlenecks[0].Severity)
	assert.Nil(t, a.ThresholdProposal, "single snapshot gives only a baseline trend")
	assert.True(t, f.log.has(events.AnalysisCompleted))
	assert.Same(t, a, f.opt.LastAnalysis())

	recs := f.opt.GenerateRecommendations(a)
	require.Len(t, recs, 2)
	assert.Equal(t, domain.SeverityCritical, recs[0].Priority)
	assert.Equal(t, domain.RiskHigh, recs[0].RiskLevel)
	assert.True(t, recs[0].RequiresApproval)
	assert.Equal(t, domain.RiskLow, recs[1].RiskLevel)
	assert.False(t, recs[1].RequiresApproval)
	assert.NotEmpty(t, recs[1].Actions)
}

func TestOptimizer_ApplyPolicy(t *testing.T) {
	f := newFixture(t, OptimizerConfig{})
	ctx := context.Background()
	f.opt.PushMetricsSnapshot(overloadedAgent())

	recs, err := f.opt.GetRecommendations(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	results, skipped := f.opt.ApplyOptimizations(ctx, recs)
	require.Len(t, results, 1)
	require.Len(t, skipped, 1)
	assert.Equal(t, recs[1].ID, results[0].RecommendationID)
	assert.Equal(t, domain.OptimizationActive, results[0].Status)
	assert.Equal(t, domain.SkipApprovalRequired, skipped[0].Reason)
	assert.True(t, f.log.has(events.OptimizationApplied))

	// та же проблема уже лечится
	_, skipped = f.opt.ApplyOptimizations(ctx, recs[1:])
	require.Len(t, skipped, 1)
	assert.Equal(t, domain.SkipAlreadyActive, skipped[0].Reason)
	assert.Equal(t, results[0].ID, skipped[0].Detail)
}

func TestOptimizer_ConcurrencyLimitAndCriticalRisk(t *testing.T) {
	f := newFixture(t, OptimizerConfig{MaxConcurrentOptimizations: 1})
	recs := []domain.OptimizationRecommendation{
		{ID: "r1", Type: domain.RecommendationBottleneck, RiskLevel: domain.RiskLow, Source: "s1"},
		{ID: "r2", Type: domain.RecommendationBottleneck, RiskLevel: domain.RiskLow, Source: "s2"},
		{ID: "r3", Type: domain.RecommendationBottleneck, RiskLevel: domain.RiskCritical, Source: "s3"},
	}

	results, skipped := f.opt.ApplyOptimizations(context.Background(), recs)
	require.Len(t, results, 1)
	assert.Equal(t, "r1", results[0].RecommendationID)
	require.Len(t, skipped, 2)
	assert.Equal(t, domain.SkipConcurrencyLimit, skipped[0].Reason)
	assert.Equal(t, domain.SkipCriticalRisk, skipped[1].Reason)
}

func TestOptimizer_RollbackOptimization(t *testing.T) {
	f := newFixture(t, OptimizerConfig{})
	ctx := context.Background()
	results, _ := f.opt.ApplyOptimizations(ctx, []domain.OptimizationRecommendation{
		{ID: "r1", Type: domain.RecommendationTrend, RiskLevel: domain.RiskLow, Source: "trend:x"},
	})
	require.Len(t, results, 1)
	id := results[0].ID

	res, err := f.opt.RollbackOptimization(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OptimizationRolledBack, res.Status)
	require.NotNil(t, res.RolledBackAt)
	assert.True(t, f.log.has(events.OptimizationRolledBack))

	_, err = f.opt.RollbackOptimization(ctx, id)
	assert.ErrorIs(t, err, ErrOptimizationNotActive)
	_, err = f.opt.RollbackOptimization(ctx, "missing")
	assert.ErrorIs(t, err, ErrOptimizationNotFound)

	// после отката тот же источник снова можно применять
	results, _ = f.opt.ApplyOptimizations(ctx, []domain.OptimizationRecommendation{
		{ID: "r2", Type: domain.RecommendationTrend, RiskLevel: domain.RiskLow, Source: "trend:x"},
	})
	assert.Len(t, results, 1)
}

func TestOptimizer_ApplyRecommendationNeedsDecision(t *testing.T) {
	f := newFixture(t, OptimizerConfig{})
	ctx := context.Background()
	f.opt.PushMetricsSnapshot(overloadedAgent())

	recs, err := f.opt.GetRecommendations(ctx)
	require.NoError(t, err)
	risky := recs[0]

	out, err := f.opt.ApplyRecommendation(ctx, risky.ID)
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.Equal(t, domain.SkipApprovalRequired, out.Reason)
	require.NotEmpty(t, out.DecisionRequestID)

	again, err := f.opt.ApplyRecommendation(ctx, risky.ID)
	require.NoError(t, err)
	assert.Equal(t, out.DecisionRequestID, again.DecisionRequestID, "one open decision per source")

	pending, err := f.opt.GetPendingDecisions("root")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.DecisionOptimizationApproval, pending[0].Type)

	req, err := f.opt.SubmitDecision(ctx, out.DecisionRequestID, "root", true, "go ahead")
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionApproved, req.Status)

	opts := f.opt.Optimizations()
	require.Len(t, opts, 1)
	assert.Equal(t, risky.Source, opts[0].Source)
	assert.Equal(t, domain.OptimizationActive, opts[0].Status)

	_, err = f.opt.ApplyRecommendation(ctx, "missing")
	assert.ErrorIs(t, err, ErrRecommendationNotFound)
}

func TestOptimizer_RunCycleAutoAppliesSmallThresholdChange(t *testing.T) {
	f := newFixture(t, OptimizerConfig{})
	ctx := context.Background()
	// +4 мс за срез: изменение порога около 2%, одобрение не нужно
	pushRising(f.opt, 5, 1)

	require.NoError(t, f.opt.RunCycle(ctx))

	th := f.opt.GetCurrentThresholds()
	assert.InDelta(t, 1960.8, th.MaxResponseTime, 0.01)
	hist := f.opt.GetThresholdHistory()
	require.Len(t, hist, 1)
	assert.Equal(t, domain.ThresholdAutoApplied, hist[0].Status)
	assert.True(t, f.log.has(events.ThresholdsApplied))

	opts := f.opt.Optimizations()
	require.Len(t, opts, 1)
	assert.Equal(t, hist[0].ID, opts[0].ThresholdRequest)
	assert.Zero(t, f.opt.Health().ActiveOptimizations, "threshold changes are not counted as running optimizations")

	// откат оптимизации возвращает и пороги
	_, err := f.opt.RollbackOptimization(ctx, opts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, f.opt.GetCurrentThresholds().MaxResponseTime)
}

func TestOptimizer_RunCycleRoutesLargeThresholdChange(t *testing.T) {
	f := newFixture(t, OptimizerConfig{})
	ctx := context.Background()
	// +10 мс за срез: изменение порога около 17%, нужен человек
	pushRising(f.opt, 5, 10)

	require.NoError(t, f.opt.RunCycle(ctx))
	require.NoError(t, f.opt.RunCycle(ctx))

	assert.Equal(t, 2000.0, f.opt.GetCurrentThresholds().MaxResponseTime)
	require.Len(t, f.thresholds.Pending(), 1, "repeated cycles must not duplicate the request")

	pending, err := f.opt.GetPendingDecisions("root")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.DecisionThresholdChange, pending[0].Type)
	assert.Equal(t, 1, pending[0].RequiredApprovals)

	_, err = f.opt.SubmitDecision(ctx, pending[0].ID, "root", true, "")
	require.NoError(t, err)

	th := f.opt.GetCurrentThresholds()
	assert.Less(t, th.MaxResponseTime, 2000.0)
	assert.Empty(t, f.thresholds.Pending())

	hist := f.opt.GetThresholdHistory()
	require.Len(t, hist, 1)
	assert.Equal(t, domain.ThresholdApproved, hist[0].Status)

	_, err = f.opt.RollbackThresholds(ctx, hist[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, f.opt.GetCurrentThresholds().MaxResponseTime)
	assert.True(t, f.log.has(events.ThresholdsRolledBack))
}

func TestOptimizer_RejectedThresholdDecision(t *testing.T) {
	f := newFixture(t, OptimizerConfig{})
	ctx := context.Background()
	pushRising(f.opt, 5, 10)
	require.NoError(t, f.opt.RunCycle(ctx))

	pending, err := f.opt.GetPendingDecisions("root")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = f.opt.SubmitDecision(ctx, pending[0].ID, "root", false, "too aggressive")
	require.NoError(t, err)

	assert.Equal(t, 2000.0, f.opt.GetCurrentThresholds().MaxResponseTime)
	hist := f.opt.GetThresholdHistory()
	require.Len(t, hist, 1)
	assert.Equal(t, domain.ThresholdRejected, hist[0].Status)
}

func TestOptimizer_GetAnalysisFallsBackWhenThrottled(t *testing.T) {
	f := newFixture(t, OptimizerConfig{Guard: GuardConfig{MinInterval: time.Hour}})
	ctx := context.Background()
	f.opt.PushMetricsSnapshot(overloadedAgent())

	first, err := f.opt.GetAnalysis(ctx)
	require.NoError(t, err)

	_, err = f.opt.RunAnalysis(ctx)
	assert.ErrorIs(t, err, ErrThrottled)

	second, err := f.opt.GetAnalysis(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// плановый цикл при троттлинге просто пропускается
	assert.NoError(t, f.opt.RunCycle(ctx))
}

func TestOptimizer_EmptyHistory(t *testing.T) {
	f := newFixture(t, OptimizerConfig{})
	a, err := f.opt.GetAnalysis(context.Background())
	require.NoError(t, err)
	assert.Zero(t, a.SnapshotCount)
	assert.Empty(t, a.Bottlenecks)
	assert.Empty(t, f.opt.GenerateRecommendations(a))
}

func TestOptimizer_Health(t *testing.T) {
	f := newFixture(t, OptimizerConfig{})
	h := f.opt.Health()
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "closed", h.Circuit)
	assert.Nil(t, h.LastAnalysisAt)

	f.opt.PushMetricsSnapshot(overloadedAgent())
	_, err := f.opt.RunAnalysis(context.Background())
	require.NoError(t, err)

	h = f.opt.Health()
	assert.Equal(t, 1, h.HistorySize)
	assert.NotNil(t, h.LastAnalysisAt)
}

func TestOptimizer_EventsPublishedOutsideThresholdLock(t *testing.T) {
	f := newFixture(t, OptimizerConfig{})
	ctx := context.Background()

	var mu sync.Mutex
	var underLock []events.Type
	f.bus.Subscribe(func(_ context.Context, e events.Event) {
		free := f.opt.lock.TryLock()
		if free {
			f.opt.lock.Unlock()
		}
		mu.Lock()
		defer mu.Unlock()
		if !free {
			underLock = append(underLock, e.Type)
		}
	})

	pushRising(f.opt, 5, 10)
	require.NoError(t, f.opt.RunCycle(ctx))
	pending, err := f.opt.GetPendingDecisions("root")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	_, err = f.opt.SubmitDecision(ctx, pending[0].ID, "root", true, "")
	require.NoError(t, err)

	hist := f.opt.GetThresholdHistory()
	require.Len(t, hist, 1)
	_, err = f.opt.RollbackThresholds(ctx, hist[0].ID)
	require.NoError(t, err)

	for _, typ := range []events.Type{
		events.AnalysisCompleted,
		events.ThresholdsProposed,
		events.ThresholdsApplied,
		events.ThresholdsRolledBack,
	} {
		assert.True(t, f.log.has(typ), typ)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, underLock)
}

func TestOptimizer_StaleThresholdApprovalIsRejected(t *testing.T) {
	f := newFixture(t, OptimizerConfig{})
	ctx := context.Background()
	pushRising(f.opt, 5, 10)
	require.NoError(t, f.opt.RunCycle(ctx))

	pending, err := f.opt.GetPendingDecisions("root")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// пока ждем человека, порог меняет мелкая автокорректировка
	small := f.thresholds.ProposeAdjustments([]domain.PerformanceTrend{{
		Metric: "system.response_time", Direction: domain.TrendUp, ChangePercent: 4, Confidence: 90,
	}})
	require.NotNil(t, small)
	_, err = f.thresholds.Submit(ctx, small)
	require.NoError(t, err)
	changed := f.opt.GetCurrentThresholds().MaxResponseTime

	_, err = f.opt.SubmitDecision(ctx, pending[0].ID, "root", true, "")
	require.NoError(t, err)

	assert.Equal(t, changed, f.opt.GetCurrentThresholds().MaxResponseTime)
	assert.Empty(t, f.thresholds.Pending())
	assert.True(t, f.log.has(events.ThresholdRequestRejected))
}
