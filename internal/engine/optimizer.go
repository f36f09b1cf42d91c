package engine

/*
Файл optimizer.go — ядро оптимизатора и точка входа для потребителей.

Optimizer собирает вместе историю срезов, анализаторы, движок порогов и HITL-воркфлоу.
Один экземпляр создается в main и передается всем, кто с ним работает.

Блокировки:
  - lock (RWMutex): анализ держит read, применение и откат порогов держат write,
    поэтому анализ никогда не видит пороги в середине изменения. События под lock
    не публикуются: изменения порогов идут через events.Defer.
  - mu: рекомендации, результаты оптимизаций и ожидающие одобрения.
*/

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/xela07ax/spaceai-optimizer/internal/analysis"
	"github.com/xela07ax/spaceai-optimizer/internal/domain"
	"github.com/xela07ax/spaceai-optimizer/internal/events"
	"github.com/xela07ax/spaceai-optimizer/internal/history"
	"github.com/xela07ax/spaceai-optimizer/internal/oversight"
	"github.com/xela07ax/spaceai-optimizer/internal/risk"
)

var (
	ErrOptimizationNotFound   = errors.New("optimization not found")
	ErrOptimizationNotActive  = errors.New("optimization is not active")
	ErrRecommendationNotFound = errors.New("recommendation not found")
	ErrNoAnalysis             = errors.New("no analysis available yet")
)

type OptimizerConfig struct {
	AnalysisWindow             time.Duration
	MaxConcurrentOptimizations int
	AutoApply                  bool // применять безопасные рекомендации в RunCycle
	Guard                      GuardConfig
}

func (c OptimizerConfig) withDefaults() OptimizerConfig {
	if c.AnalysisWindow <= 0 {
		c.AnalysisWindow = 24 * time.Hour
	}
	if c.MaxConcurrentOptimizations <= 0 {
		c.MaxConcurrentOptimizations = 3
	}
	return c
}

// ApplyOutcome — ответ потребителю на ApplyRecommendation.
type ApplyOutcome struct {
	Applied           bool                       `json:"applied"`
	Result            *domain.OptimizationResult `json:"result,omitempty"`
	Reason            string                     `json:"reason,omitempty"`
	Detail            string                     `json:"detail,omitempty"`
	DecisionRequestID string                     `json:"decision_request_id,omitempty"`
}

type Optimizer struct {
	cfg        OptimizerConfig
	history    *history.Store
	trends     *analysis.TrendAnalyzer
	predictor  *analysis.Predictor
	thresholds *risk.ThresholdEngine
	workflow   *oversight.Workflow
	emitter    events.Emitter
	metrics    *Metrics
	logger     *zap.Logger
	guard      *Guard[*domain.SystemAnalysis]
	freeze     Freezer
	sf         singleflight.Group
	now        func() time.Time

	lock sync.RWMutex

	mu              sync.Mutex
	lastAnalysis    *domain.SystemAnalysis
	recommendations map[string]domain.OptimizationRecommendation
	proposals       map[string]*domain.ThresholdChangeRequest
	results         map[string]*domain.OptimizationResult
	// awaiting — источник рекомендации → id заявки на решение, чтобы не плодить дубли
	awaiting map[string]string
}

func NewOptimizer(
	cfg OptimizerConfig,
	store *history.Store,
	trends *analysis.TrendAnalyzer,
	predictor *analysis.Predictor,
	thresholds *risk.ThresholdEngine,
	workflow *oversight.Workflow,
	emitter events.Emitter,
	metrics *Metrics,
	logger *zap.Logger,
) *Optimizer {
	cfg = cfg.withDefaults()
	if emitter == nil {
		emitter = events.Nop
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	o := &Optimizer{
		cfg:             cfg,
		history:         store,
		trends:          trends,
		predictor:       predictor,
		thresholds:      thresholds,
		workflow:        workflow,
		emitter:         emitter,
		metrics:         metrics,
		logger:          logger.Named("optimizer"),
		guard:           NewGuard[*domain.SystemAnalysis]("analysis", cfg.Guard, metrics, logger),
		now:             time.Now,
		recommendations: make(map[string]domain.OptimizationRecommendation),
		proposals:       make(map[string]*domain.ThresholdChangeRequest),
		results:         make(map[string]*domain.OptimizationResult),
		awaiting:        make(map[string]string),
	}
	workflow.OnResolved(o.onDecisionResolved)
	o.syncThresholdMetrics()
	return o
}

// UseFreeze подключает рубильник оператора. Вызывать до запуска циклов.
func (o *Optimizer) UseFreeze(f Freezer) {
	o.freeze = f
}

// PushMetricsSnapshot — вход для продюсера метрик.
func (o *Optimizer) PushMetricsSnapshot(snap domain.MetricsSnapshot) {
	o.history.Append(snap)
	o.metrics.HistorySize.Set(float64(o.history.Len()))
}

// RunAnalysis прогоняет полный анализ через Guard. При троттлинге возвращается
// последний успешный результат вместе с ErrThrottled.
func (o *Optimizer) RunAnalysis(ctx context.Context) (*domain.SystemAnalysis, error) {
	return o.guard.Do(ctx, o.analyze)
}

func (o *Optimizer) analyze(ctx context.Context) (*domain.SystemAnalysis, error) {
	result, err := o.collect(ctx)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.lastAnalysis = result
	// живет только предложение последнего анализа
	o.proposals = make(map[string]*domain.ThresholdChangeRequest)
	if p := result.ThresholdProposal; p != nil {
		o.proposals[p.ID] = p
	}
	o.mu.Unlock()

	o.logger.Info("analysis completed",
		zap.String("analysis_id", result.ID),
		zap.Int("snapshots", result.SnapshotCount),
		zap.Int("trends", len(result.Trends)),
		zap.Int("bottlenecks", len(result.Bottlenecks)),
		zap.Int("predicted_issues", len(result.PredictedIssues)))
	o.emitter.Emit(ctx, events.Event{
		Type:      events.AnalysisCompleted,
		EntityID:  result.ID,
		Timestamp: result.GeneratedAt,
		Payload:   result,
	})
	return result, nil
}

// collect считает анализ под read-локом: пороги не меняются, пока он идет.
func (o *Optimizer) collect(ctx context.Context) (*domain.SystemAnalysis, error) {
	o.lock.RLock()
	defer o.lock.RUnlock()

	snaps := o.history.All()
	current := o.thresholds.CurrentThresholds()
	now := o.now()

	var (
		trends      []domain.PerformanceTrend
		bottlenecks []domain.Bottleneck
		patterns    []domain.ErrorPattern
		predicted   []domain.PredictedIssue
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gCtx.Err(); err != nil {
			return err
		}
		trends = o.trends.AnalyzeTrends(snaps, o.cfg.AnalysisWindow)
		return nil
	})
	g.Go(func() error {
		if err := gCtx.Err(); err != nil {
			return err
		}
		var latest *domain.MetricsSnapshot
		if len(snaps) > 0 {
			latest = &snaps[len(snaps)-1]
		}
		bottlenecks = analysis.DetectBottlenecks(latest, current)
		return nil
	})
	g.Go(func() error {
		if err := gCtx.Err(); err != nil {
			return err
		}
		patterns = analysis.AnalyzeErrorPatterns(snaps)
		return nil
	})
	g.Go(func() error {
		if err := gCtx.Err(); err != nil {
			return err
		}
		predicted = o.predictor.PredictIssues(snaps, now)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}

	result := &domain.SystemAnalysis{
		ID:                uuid.New().String(),
		GeneratedAt:       now,
		SnapshotCount:     len(snaps),
		Trends:            trends,
		Bottlenecks:       bottlenecks,
		ErrorPatterns:     patterns,
		PredictedIssues:   predicted,
		Thresholds:        current,
		ThresholdProposal: o.thresholds.ProposeAdjustments(trends),
	}
	if len(snaps) > 0 {
		result.HealthScore = snaps[len(snaps)-1].System.HealthScore
	}
	return result, nil
}

// GetAnalysis отдает свежий анализ; одновременные вызовы схлопываются в один,
// а троттлинг прозрачно заменяется последним успешным результатом.
func (o *Optimizer) GetAnalysis(ctx context.Context) (*domain.SystemAnalysis, error) {
	v, err, _ := o.sf.Do("analysis", func() (interface{}, error) {
		a, err := o.RunAnalysis(ctx)
		if errors.Is(err, ErrThrottled) {
			if a != nil {
				return a, nil
			}
			if last := o.LastAnalysis(); last != nil {
				return last, nil
			}
			return nil, fmt.Errorf("%w: %v", ErrNoAnalysis, err)
		}
		return a, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.SystemAnalysis), nil
}

func (o *Optimizer) LastAnalysis() *domain.SystemAnalysis {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastAnalysis
}

// GenerateRecommendations строит рекомендации и запоминает их для ApplyRecommendation.
func (o *Optimizer) GenerateRecommendations(a *domain.SystemAnalysis) []domain.OptimizationRecommendation {
	recs := buildRecommendations(a, o.cfg.MaxConcurrentOptimizations, o.now())

	o.mu.Lock()
	o.recommendations = make(map[string]domain.OptimizationRecommendation, len(recs))
	for _, r := range recs {
		o.recommendations[r.ID] = r
	}
	o.mu.Unlock()
	return recs
}

// GetRecommendations — рекомендации по актуальному анализу.
func (o *Optimizer) GetRecommendations(ctx context.Context) ([]domain.OptimizationRecommendation, error) {
	a, err := o.GetAnalysis(ctx)
	if err != nil {
		return nil, err
	}
	return o.GenerateRecommendations(a), nil
}

// ApplyOptimizations применяет рекомендации по одной; сбой одной не мешает остальным.
func (o *Optimizer) ApplyOptimizations(ctx context.Context, recs []domain.OptimizationRecommendation) ([]domain.OptimizationResult, []domain.SkippedRecommendation) {
	results := make([]domain.OptimizationResult, 0, len(recs))
	skipped := make([]domain.SkippedRecommendation, 0)

	for _, rec := range recs {
		if reason, detail := o.admit(rec); reason != "" {
			skipped = append(skipped, domain.SkippedRecommendation{RecommendationID: rec.ID, Reason: reason, Detail: detail})
			o.metrics.OptimizationsTotal.WithLabelValues("skipped").Inc()
			continue
		}
		res, err := o.execute(ctx, rec)
		if err != nil {
			skipped = append(skipped, domain.SkippedRecommendation{
				RecommendationID: rec.ID,
				Reason:           domain.SkipExecutionFailed,
				Detail:           err.Error(),
			})
			continue
		}
		results = append(results, *res)
	}
	return results, skipped
}

// admit — политика безопасности автоприменения. Пустая причина — можно применять.
// Корректировки порогов ограничивает сам движок порогов, в лимит они не входят.
func (o *Optimizer) admit(rec domain.OptimizationRecommendation) (string, string) {
	if o.freeze != nil {
		if frozen, reason := o.freeze.Frozen(); frozen {
			return domain.SkipFrozen, reason
		}
	}
	if rec.RequiresApproval {
		return domain.SkipApprovalRequired, ""
	}
	if rec.RiskLevel == domain.RiskCritical {
		return domain.SkipCriticalRisk, ""
	}
	if rec.Type == domain.RecommendationThreshold {
		return "", ""
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	active := 0
	for _, r := range o.results {
		if r.Status != domain.OptimizationActive || r.Type == domain.RecommendationThreshold {
			continue
		}
		active++
		if rec.Source != "" && r.Source == rec.Source {
			return domain.SkipAlreadyActive, r.ID
		}
	}
	if active >= o.cfg.MaxConcurrentOptimizations {
		return domain.SkipConcurrencyLimit, fmt.Sprintf("%d active", active)
	}
	return "", ""
}

func (o *Optimizer) execute(ctx context.Context, rec domain.OptimizationRecommendation) (*domain.OptimizationResult, error) {
	res := &domain.OptimizationResult{
		ID:               uuid.New().String(),
		RecommendationID: rec.ID,
		Type:             rec.Type,
		Source:           rec.Source,
		Status:           domain.OptimizationActive,
		AppliedAt:        o.now(),
	}

	if rec.Type == domain.RecommendationThreshold {
		applied, err := o.submitThresholds(ctx, rec.ThresholdRequestID)
		if err != nil {
			o.metrics.OptimizationsTotal.WithLabelValues("failed").Inc()
			o.logger.Warn("threshold optimization failed",
				zap.String("recommendation_id", rec.ID), zap.Error(err))
			return nil, err
		}
		res.ThresholdRequest = applied.ID
	}

	o.mu.Lock()
	o.results[res.ID] = res
	out := *res
	o.mu.Unlock()

	o.metrics.OptimizationsTotal.WithLabelValues("applied").Inc()
	o.logger.Info("optimization applied",
		zap.String("optimization_id", res.ID),
		zap.String("type", string(rec.Type)),
		zap.String("title", rec.Title))
	o.emitter.Emit(ctx, events.Event{
		Type:      events.OptimizationApplied,
		EntityID:  res.ID,
		Timestamp: res.AppliedAt,
		Payload:   &out,
	})
	return &out, nil
}

// submitThresholds отдает сохраненное предложение движку порогов под write-локом.
func (o *Optimizer) submitThresholds(ctx context.Context, requestID string) (*domain.ThresholdChangeRequest, error) {
	o.mu.Lock()
	proposal, ok := o.proposals[requestID]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("threshold proposal %s: %w", requestID, risk.ErrRequestNotFound)
	}

	dctx, flush := events.Defer(ctx)
	o.lock.Lock()
	submitted, err := o.thresholds.Submit(dctx, proposal)
	o.lock.Unlock()
	flush()
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	delete(o.proposals, requestID)
	o.mu.Unlock()
	o.syncThresholdMetrics()
	return submitted, nil
}

// RollbackOptimization откатывает примененную оптимизацию (и пороги, если она их меняла).
func (o *Optimizer) RollbackOptimization(ctx context.Context, optimizationID string) (*domain.OptimizationResult, error) {
	o.mu.Lock()
	res, ok := o.results[optimizationID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrOptimizationNotFound, optimizationID)
	}
	if res.Status != domain.OptimizationActive {
		status := res.Status
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrOptimizationNotActive, optimizationID, status)
	}
	thresholdRequest := res.ThresholdRequest
	o.mu.Unlock()

	if thresholdRequest != "" {
		if _, err := o.RollbackThresholds(ctx, thresholdRequest); err != nil {
			return nil, fmt.Errorf("rollback optimization %s: %w", optimizationID, err)
		}
	}

	o.mu.Lock()
	at := o.now()
	res.Status = domain.OptimizationRolledBack
	res.RolledBackAt = &at
	out := *res
	o.mu.Unlock()

	o.metrics.OptimizationsTotal.WithLabelValues("rolled_back").Inc()
	o.logger.Warn("optimization rolled back", zap.String("optimization_id", optimizationID))
	o.emitter.Emit(ctx, events.Event{
		Type:      events.OptimizationRolledBack,
		EntityID:  optimizationID,
		Timestamp: at,
		Payload:   &out,
	})
	return &out, nil
}

// Optimizations — все результаты, включая откаченные.
func (o *Optimizer) Optimizations() []domain.OptimizationResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.OptimizationResult, 0, len(o.results))
	for _, r := range o.results {
		out = append(out, *r)
	}
	return out
}

// RunCycle — один плановый проход: анализ, запросы на одобрение рискованного,
// автоприменение безопасного (если включено). Троттлинг — не ошибка.
func (o *Optimizer) RunCycle(ctx context.Context) error {
	a, err := o.RunAnalysis(ctx)
	if errors.Is(err, ErrThrottled) {
		o.logger.Debug("analysis cycle throttled", zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}

	recs := o.GenerateRecommendations(a)
	var auto []domain.OptimizationRecommendation
	for _, rec := range recs {
		switch {
		case rec.RequiresApproval:
			if _, err := o.requestApproval(ctx, rec); err != nil {
				o.logger.Error("failed to request approval",
					zap.String("recommendation_id", rec.ID), zap.Error(err))
			}
		case rec.Type == domain.RecommendationThreshold || o.cfg.AutoApply:
			// безопасная корректировка порогов идет всегда, остальное — только с AutoApply
			auto = append(auto, rec)
		}
	}
	if len(auto) == 0 {
		return nil
	}

	results, skipped := o.ApplyOptimizations(ctx, auto)
	o.logger.Info("analysis cycle finished",
		zap.Int("recommendations", len(recs)),
		zap.Int("applied", len(results)),
		zap.Int("skipped", len(skipped)))
	return nil
}

// ApplyRecommendation — применение одной рекомендации по запросу потребителя.
// Рискованная рекомендация уходит на одобрение, и в ответе будет id заявки.
func (o *Optimizer) ApplyRecommendation(ctx context.Context, recommendationID string) (ApplyOutcome, error) {
	o.mu.Lock()
	rec, ok := o.recommendations[recommendationID]
	o.mu.Unlock()
	if !ok {
		return ApplyOutcome{}, fmt.Errorf("%w: %s", ErrRecommendationNotFound, recommendationID)
	}

	if rec.RequiresApproval {
		decisionID, err := o.requestApproval(ctx, rec)
		if err != nil {
			return ApplyOutcome{}, err
		}
		return ApplyOutcome{Reason: domain.SkipApprovalRequired, DecisionRequestID: decisionID}, nil
	}

	results, skipped := o.ApplyOptimizations(ctx, []domain.OptimizationRecommendation{rec})
	if len(results) == 1 {
		return ApplyOutcome{Applied: true, Result: &results[0]}, nil
	}
	return ApplyOutcome{Reason: skipped[0].Reason, Detail: skipped[0].Detail}, nil
}

// requestApproval создает заявку на решение (или возвращает уже открытую по тому же источнику).
func (o *Optimizer) requestApproval(ctx context.Context, rec domain.OptimizationRecommendation) (string, error) {
	o.mu.Lock()
	if id, ok := o.awaiting[rec.Source]; ok {
		o.mu.Unlock()
		return id, nil
	}
	o.mu.Unlock()

	var (
		req *domain.DecisionRequest
		err error
	)
	if rec.Type == domain.RecommendationThreshold {
		req, err = o.requestThresholdApproval(ctx, rec)
	} else {
		r := rec
		req, err = o.workflow.CreateDecisionRequest(ctx, domain.DecisionOptimizationApproval, domain.DecisionContent{
			Title:        rec.Title,
			Description:  rec.Description,
			Optimization: &r,
		}, severityPriority(rec.Priority))
	}
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	o.awaiting[rec.Source] = req.ID
	o.mu.Unlock()
	o.metrics.PendingDecisions.Set(float64(o.workflow.PendingCount()))
	return req.ID, nil
}

func (o *Optimizer) requestThresholdApproval(ctx context.Context, rec domain.OptimizationRecommendation) (*domain.DecisionRequest, error) {
	pending, err := o.submitThresholds(ctx, rec.ThresholdRequestID)
	if err != nil {
		return nil, err
	}
	priority := domain.PriorityMedium
	if pending.RiskScore > 75 {
		priority = domain.PriorityHigh
	}
	req, err := o.workflow.CreateDecisionRequest(ctx, domain.DecisionThresholdChange, domain.DecisionContent{
		Title:           rec.Title,
		Description:     rec.Description,
		ThresholdChange: pending,
	}, priority)
	if err != nil {
		// Без заявки pending-изменение никто не разрешит
		_ = o.thresholds.Reject(ctx, pending.ID, "decision request could not be created")
		return nil, err
	}
	if err := o.thresholds.LinkDecision(pending.ID, req.ID); err != nil {
		o.logger.Warn("failed to link decision", zap.String("request_id", pending.ID), zap.Error(err))
	}
	return req, nil
}

// onDecisionResolved исполняет решение человека. Вызывается воркфлоу вне его блокировки.
func (o *Optimizer) onDecisionResolved(ctx context.Context, req *domain.DecisionRequest) {
	o.mu.Lock()
	for source, id := range o.awaiting {
		if id == req.ID {
			delete(o.awaiting, source)
		}
	}
	o.mu.Unlock()
	o.metrics.PendingDecisions.Set(float64(o.workflow.PendingCount()))

	logger := o.logger.With(zap.String("decision_id", req.ID), zap.String("status", string(req.Status)))

	switch req.Type {
	case domain.DecisionThresholdChange:
		tc := req.Content.ThresholdChange
		if tc == nil {
			return
		}
		dctx, flush := events.Defer(ctx)
		o.lock.Lock()
		var err error
		if req.Status == domain.DecisionApproved {
			_, err = o.thresholds.Apply(dctx, tc.ID)
		} else {
			err = o.thresholds.Reject(dctx, tc.ID, "decision "+string(req.Status))
		}
		o.lock.Unlock()
		flush()
		if err != nil {
			logger.Error("failed to resolve threshold change", zap.Error(err))
			return
		}
		o.syncThresholdMetrics()

	case domain.DecisionOptimizationApproval:
		if req.Status != domain.DecisionApproved || req.Content.Optimization == nil {
			return
		}
		if _, err := o.execute(ctx, *req.Content.Optimization); err != nil {
			logger.Error("failed to execute approved optimization", zap.Error(err))
		}

	case domain.DecisionEmergencyAction:
		// исполняют внешние потребители по событию decision_resolved
		logger.Info("emergency action resolved")
	}
}

// Consumer API поверх воркфлоу и движка порогов.

func (o *Optimizer) GetPendingDecisions(userID string) ([]*domain.DecisionRequest, error) {
	return o.workflow.GetPendingDecisions(userID)
}

func (o *Optimizer) SubmitDecision(ctx context.Context, requestID, userID string, approved bool, comment string) (*domain.DecisionRequest, error) {
	return o.workflow.SubmitDecision(ctx, requestID, userID, oversight.Decision{Approved: approved, Comment: comment})
}

func (o *Optimizer) GetThresholdHistory() []*domain.ThresholdChangeRequest {
	return o.thresholds.History()
}

func (o *Optimizer) GetCurrentThresholds() domain.AlertThresholds {
	return o.thresholds.CurrentThresholds()
}

func (o *Optimizer) RollbackThresholds(ctx context.Context, requestID string) (*domain.ThresholdChangeRequest, error) {
	dctx, flush := events.Defer(ctx)
	o.lock.Lock()
	req, err := o.thresholds.Rollback(dctx, requestID)
	o.lock.Unlock()
	flush()
	if err != nil {
		return nil, err
	}
	o.syncThresholdMetrics()
	return req, nil
}

func (o *Optimizer) syncThresholdMetrics() {
	th := o.thresholds.CurrentThresholds()
	for _, name := range []string{
		domain.ThresholdMaxResponseTime,
		domain.ThresholdMinSuccessRate,
		domain.ThresholdMaxMemoryUsage,
		domain.ThresholdMaxCPUUsage,
		domain.ThresholdMaxValidationTime,
	} {
		v, _ := th.Get(name)
		o.metrics.ThresholdValue.WithLabelValues(name).Set(v)
	}
}

func severityPriority(s domain.Severity) domain.Priority {
	switch s {
	case domain.SeverityCritical:
		return domain.PriorityHigh
	case domain.SeverityHigh:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

// Health — сводка для /health.
type Health struct {
	Status              string     `json:"status"` // ok | degraded
	Circuit             string     `json:"circuit"`
	HistorySize         int        `json:"history_size"`
	PendingDecisions    int        `json:"pending_decisions"`
	ActiveOptimizations int        `json:"active_optimizations"`
	Frozen              bool       `json:"frozen"`
	LastAnalysisAt      *time.Time `json:"last_analysis_at,omitempty"`
}

func (o *Optimizer) Health() Health {
	state := o.guard.State()
	h := Health{
		Status:           "ok",
		Circuit:          state.String(),
		HistorySize:      o.history.Len(),
		PendingDecisions: o.workflow.PendingCount(),
	}
	if state != gobreaker.StateClosed {
		h.Status = "degraded"
	}
	if o.freeze != nil {
		h.Frozen, _ = o.freeze.Frozen()
	}

	o.mu.Lock()
	for _, r := range o.results {
		// корректировки порогов в счетчик не входят, как и в admit
		if r.Status == domain.OptimizationActive && r.Type != domain.RecommendationThreshold {
			h.ActiveOptimizations++
		}
	}
	if o.lastAnalysis != nil {
		at := o.lastAnalysis.GeneratedAt
		h.LastAnalysisAt = &at
	}
	o.mu.Unlock()
	return h
}
