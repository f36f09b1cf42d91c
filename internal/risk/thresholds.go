package risk

/*
Файл thresholds.go — движок динамических порогов. Он единственный владелец
AlertThresholds: все остальные получают копию через CurrentThresholds.

Жизненный цикл заявки:
  ProposeAdjustments → Submit → (auto_applied | pending → Apply/Reject) → Rollback

Каждое применение фиксирует снимки Before/After, поэтому откат ровно
восстанавливает предыдущие значения, а не "угадывает" их по плану.
*/

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/spaceai-optimizer/internal/domain"
	"github.com/xela07ax/spaceai-optimizer/internal/events"
)

var (
	ErrRequestNotFound    = errors.New("threshold change request not found")
	ErrNoPreviousState    = errors.New("no previous threshold state to restore")
	ErrRollbackConflict   = errors.New("threshold changed by a later request")
	ErrAlreadyRolledBack  = errors.New("threshold change already rolled back")
	ErrNotPending         = errors.New("threshold change request is not pending")
	ErrAutoApplyThrottled = errors.New("auto-apply rate limit exceeded")
	ErrStaleRequest       = errors.New("thresholds changed since the request was assessed")
)

type ThresholdConfig struct {
	ConfidenceFloor          float64       // мин. уверенность тренда, который учитывается
	Sensitivity              float64       // доля изменения тренда, переносимая на порог
	MaxChangePercent         float64       // потолок изменения за одну заявку
	ApprovalThresholdPercent float64       // выше — только через человека
	MinChangePercent         float64       // ниже — шум, не предлагаем
	AutoApplyInterval        time.Duration // не чаще одного автоприменения за интервал
	HistoryLimit             int
}

func (c ThresholdConfig) withDefaults() ThresholdConfig {
	if c.ConfidenceFloor <= 0 {
		c.ConfidenceFloor = 70
	}
	if c.Sensitivity <= 0 {
		c.Sensitivity = 0.5
	}
	if c.MaxChangePercent <= 0 {
		c.MaxChangePercent = 50
	}
	if c.ApprovalThresholdPercent <= 0 {
		c.ApprovalThresholdPercent = 10
	}
	if c.MinChangePercent <= 0 {
		c.MinChangePercent = 1
	}
	if c.AutoApplyInterval <= 0 {
		c.AutoApplyInterval = time.Minute
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 500
	}
	return c
}

// governed — порог и паттерн метрики тренда, который на него влияет.
type governed struct {
	name          string
	pattern       string
	lowerIsBetter bool
	min, max      float64
}

var governedThresholds = []governed{
	{name: domain.ThresholdMaxResponseTime, pattern: "response_time", lowerIsBetter: true, min: 1, max: math.MaxFloat64},
	{name: domain.ThresholdMinSuccessRate, pattern: "success_rate", min: 0, max: 100},
	{name: domain.ThresholdMaxMemoryUsage, pattern: "memory_usage", lowerIsBetter: true, min: 1, max: 100},
	{name: domain.ThresholdMaxCPUUsage, pattern: "cpu_usage", lowerIsBetter: true, min: 1, max: 100},
	{name: domain.ThresholdMaxValidationTime, pattern: "validation_time", lowerIsBetter: true, min: 1, max: math.MaxFloat64},
}

func governedByName(name string) (governed, bool) {
	for _, g := range governedThresholds {
		if g.name == name {
			return g, true
		}
	}
	return governed{}, false
}

type ThresholdEngine struct {
	cfg     ThresholdConfig
	limiter *rate.Limiter
	emitter events.Emitter
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.RWMutex
	current domain.AlertThresholds
	pending map[string]*domain.ThresholdChangeRequest
	// history — применённые и отклонённые заявки в порядке поступления
	history []*domain.ThresholdChangeRequest
}

func NewThresholdEngine(initial domain.AlertThresholds, cfg ThresholdConfig, emitter events.Emitter, logger *zap.Logger) *ThresholdEngine {
	cfg = cfg.withDefaults()
	if emitter == nil {
		emitter = events.Nop
	}
	return &ThresholdEngine{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.AutoApplyInterval), 1),
		emitter: emitter,
		logger:  logger.Named("thresholds"),
		now:     time.Now,
		current: initial,
		pending: make(map[string]*domain.ThresholdChangeRequest),
	}
}

func (e *ThresholdEngine) CurrentThresholds() domain.AlertThresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// Assess проставляет уровень риска и необходимость одобрения по проценту изменения.
func (e *ThresholdEngine) Assess(adj domain.ThresholdAdjustment) domain.ThresholdAdjustment {
	adj.RiskTier = ClassifyRisk(adj.ChangePercent)
	adj.RequiresApproval = math.Abs(adj.ChangePercent) > e.cfg.ApprovalThresholdPercent ||
		adj.RiskTier == domain.RiskCritical
	return adj
}

// ProposeAdjustments строит заявку по трендам. nil — менять нечего.
func (e *ThresholdEngine) ProposeAdjustments(trends []domain.PerformanceTrend) *domain.ThresholdChangeRequest {
	current := e.CurrentThresholds()

	var adjustments []domain.ThresholdAdjustment
	for _, g := range governedThresholds {
		adj, ok := e.adjustmentFor(g, current, trends)
		if ok {
			adjustments = append(adjustments, adj)
		}
	}
	if len(adjustments) == 0 {
		return nil
	}

	req := &domain.ThresholdChangeRequest{
		ID:              uuid.New().String(),
		CreatedAt:       e.now(),
		Adjustments:     adjustments,
		RiskScore:       AggregateRiskScore(adjustments),
		EstimatedImpact: estimateImpact(adjustments),
		RollbackPlan:    rollbackPlan(adjustments),
		Status:          domain.ThresholdAutoApplied,
	}
	if req.RequiresApproval() {
		req.Status = domain.ThresholdPending
	}
	return req
}

func (e *ThresholdEngine) adjustmentFor(g governed, current domain.AlertThresholds, trends []domain.PerformanceTrend) (domain.ThresholdAdjustment, bool) {
	var weighted, confSum float64
	var supporting []string
	for _, t := range trends {
		if t.IsBaseline() || t.Confidence < e.cfg.ConfidenceFloor || !strings.Contains(t.Metric, g.pattern) {
			continue
		}
		weighted += t.ChangePercent * t.Confidence
		confSum += t.Confidence
		label := t.Metric
		if t.AgentID != "" {
			label += "@" + t.AgentID
		}
		supporting = append(supporting, label)
	}
	if confSum == 0 {
		return domain.ThresholdAdjustment{}, false
	}

	avgChange := weighted / confSum
	step := avgChange * e.cfg.Sensitivity
	step = math.Max(-e.cfg.MaxChangePercent, math.Min(e.cfg.MaxChangePercent, step))

	cur, _ := current.Get(g.name)
	if cur == 0 {
		return domain.ThresholdAdjustment{}, false
	}
	var recommended float64
	if g.lowerIsBetter {
		recommended = cur * (1 - step/100)
	} else {
		recommended = cur * (1 + step/100)
	}
	recommended = math.Max(g.min, math.Min(g.max, recommended))
	recommended = math.Round(recommended*100) / 100

	changePct := math.Round(math.Abs(recommended-cur)/cur*10000) / 100
	if changePct < e.cfg.MinChangePercent {
		return domain.ThresholdAdjustment{}, false
	}

	sort.Strings(supporting)
	adj := domain.ThresholdAdjustment{
		ThresholdName:    g.name,
		CurrentValue:     cur,
		RecommendedValue: recommended,
		ChangePercent:    changePct,
		Confidence:       math.Round(confSum/float64(len(supporting))*100) / 100,
		Justification: fmt.Sprintf("%d trend(s) on %s moved %.1f%% on average",
			len(supporting), g.pattern, avgChange),
		SupportingTrends: supporting,
	}
	return e.Assess(adj), true
}

func rollbackPlan(adjustments []domain.ThresholdAdjustment) string {
	parts := make([]string, 0, len(adjustments))
	for _, a := range adjustments {
		parts = append(parts, fmt.Sprintf("%s=%g", a.ThresholdName, a.CurrentValue))
	}
	return "restore " + strings.Join(parts, ", ")
}

// Submit регистрирует заявку: безопасная применяется сразу (с ограничением частоты),
// рискованная встает в очередь pending и ждет Apply/Reject.
func (e *ThresholdEngine) Submit(ctx context.Context, req *domain.ThresholdChangeRequest) (*domain.ThresholdChangeRequest, error) {
	if req == nil || len(req.Adjustments) == 0 {
		return nil, fmt.Errorf("submit: empty threshold change request")
	}
	req = req.Clone()

	if req.RequiresApproval() {
		req.Status = domain.ThresholdPending
		e.mu.Lock()
		e.pending[req.ID] = req
		e.mu.Unlock()

		e.logger.Info("threshold change awaits approval",
			zap.String("request_id", req.ID),
			zap.Int("risk_score", req.RiskScore))
		e.emit(ctx, events.ThresholdsProposed, req)
		return req.Clone(), nil
	}

	if !e.limiter.Allow() {
		return nil, fmt.Errorf("submit %s: %w", req.ID, ErrAutoApplyThrottled)
	}

	e.mu.Lock()
	e.applyLocked(req, domain.ThresholdAutoApplied)
	out := req.Clone()
	e.mu.Unlock()

	e.logger.Info("threshold change auto-applied", zap.String("request_id", req.ID))
	e.emit(ctx, events.ThresholdsApplied, out)
	return out, nil
}

// LinkDecision связывает pending-заявку с заявкой на решение человека.
func (e *ThresholdEngine) LinkDecision(requestID, decisionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	req, ok := e.pending[requestID]
	if !ok {
		return fmt.Errorf("link %s: %w", requestID, ErrRequestNotFound)
	}
	req.DecisionRequestID = decisionID
	return nil
}

// Apply применяет одобренную pending-заявку. Если порог успели поменять после оценки
// риска, заявка отклоняется с ErrStaleRequest: человек одобрял другое изменение.
func (e *ThresholdEngine) Apply(ctx context.Context, requestID string) (*domain.ThresholdChangeRequest, error) {
	e.mu.Lock()
	req, ok := e.pending[requestID]
	if !ok {
		err := e.missing("apply", requestID)
		e.mu.Unlock()
		return nil, err
	}
	if err := e.staleLocked(req); err != nil {
		e.rejectLocked(req, err.Error())
		out := req.Clone()
		e.mu.Unlock()

		e.logger.Warn("stale threshold change rejected",
			zap.String("request_id", requestID), zap.Error(err))
		e.emit(ctx, events.ThresholdRequestRejected, out)
		return nil, fmt.Errorf("apply %s: %w", requestID, err)
	}
	e.applyLocked(req, domain.ThresholdApproved)
	out := req.Clone()
	e.mu.Unlock()

	e.logger.Info("threshold change applied", zap.String("request_id", requestID))
	e.emit(ctx, events.ThresholdsApplied, out)
	return out, nil
}

// Reject закрывает pending-заявку без изменения порогов.
func (e *ThresholdEngine) Reject(ctx context.Context, requestID, reason string) error {
	e.mu.Lock()
	req, ok := e.pending[requestID]
	if !ok {
		err := e.missing("reject", requestID)
		e.mu.Unlock()
		return err
	}
	e.rejectLocked(req, reason)
	out := req.Clone()
	e.mu.Unlock()

	e.logger.Info("threshold change rejected",
		zap.String("request_id", requestID), zap.String("reason", reason))
	e.emit(ctx, events.ThresholdRequestRejected, out)
	return nil
}

// Rollback восстанавливает значения, которые были до применения заявки.
// Если поле успели поменять более поздней заявкой, откат отказывает целиком.
func (e *ThresholdEngine) Rollback(ctx context.Context, requestID string) (*domain.ThresholdChangeRequest, error) {
	e.mu.Lock()
	req := e.findHistoryLocked(requestID)
	if req == nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("rollback %s: %w", requestID, ErrRequestNotFound)
	}

	switch req.Status {
	case domain.ThresholdRolledBack:
		e.mu.Unlock()
		return nil, fmt.Errorf("rollback %s: %w", requestID, ErrAlreadyRolledBack)
	case domain.ThresholdApproved, domain.ThresholdAutoApplied:
	default:
		e.mu.Unlock()
		return nil, fmt.Errorf("rollback %s (status %s): %w", requestID, req.Status, ErrRequestNotFound)
	}
	if req.Before == nil || req.After == nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("rollback %s: %w", requestID, ErrNoPreviousState)
	}

	restored := e.current
	for _, adj := range req.Adjustments {
		now, _ := e.current.Get(adj.ThresholdName)
		applied, _ := req.After.Get(adj.ThresholdName)
		if now != applied {
			e.mu.Unlock()
			return nil, fmt.Errorf("rollback %s: %s is %g, expected %g: %w",
				requestID, adj.ThresholdName, now, applied, ErrRollbackConflict)
		}
		prev, _ := req.Before.Get(adj.ThresholdName)
		_ = restored.Set(adj.ThresholdName, prev)
	}

	e.current = restored
	at := e.now()
	req.Status = domain.ThresholdRolledBack
	req.RolledBackAt = &at
	out := req.Clone()
	e.mu.Unlock()

	e.logger.Warn("threshold change rolled back", zap.String("request_id", requestID))
	e.emit(ctx, events.ThresholdsRolledBack, out)
	return out, nil
}

// Get ищет заявку среди pending и истории.
func (e *ThresholdEngine) Get(requestID string) (*domain.ThresholdChangeRequest, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if req, ok := e.pending[requestID]; ok {
		return req.Clone(), true
	}
	if req := e.findHistoryLocked(requestID); req != nil {
		return req.Clone(), true
	}
	return nil, false
}

// History — завершённые заявки, от старых к новым.
func (e *ThresholdEngine) History() []*domain.ThresholdChangeRequest {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*domain.ThresholdChangeRequest, len(e.history))
	for i, r := range e.history {
		out[i] = r.Clone()
	}
	return out
}

// Pending — заявки, ожидающие решения, от старых к новым.
func (e *ThresholdEngine) Pending() []*domain.ThresholdChangeRequest {
	e.mu.RLock()
	out := make([]*domain.ThresholdChangeRequest, 0, len(e.pending))
	for _, r := range e.pending {
		out = append(out, r.Clone())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (e *ThresholdEngine) applyLocked(req *domain.ThresholdChangeRequest, status domain.ThresholdStatus) {
	before := e.current
	after := e.current
	for _, adj := range req.Adjustments {
		if err := after.Set(adj.ThresholdName, adj.RecommendedValue); err != nil {
			e.logger.Warn("skipping unknown threshold", zap.String("name", adj.ThresholdName))
		}
	}
	e.current = after

	at := e.now()
	req.Before = &before
	req.After = &after
	req.AppliedAt = &at
	req.Status = status
	delete(e.pending, req.ID)
	e.appendHistoryLocked(req)
}

func (e *ThresholdEngine) rejectLocked(req *domain.ThresholdChangeRequest, reason string) {
	delete(e.pending, req.ID)
	req.Status = domain.ThresholdRejected
	req.Reason = reason
	e.appendHistoryLocked(req)
}

// staleLocked сверяет пороги заявки с текущими значениями.
func (e *ThresholdEngine) staleLocked(req *domain.ThresholdChangeRequest) error {
	for _, adj := range req.Adjustments {
		now, err := e.current.Get(adj.ThresholdName)
		if err != nil {
			continue
		}
		if now != adj.CurrentValue {
			return fmt.Errorf("%s is %g, assessed against %g: %w",
				adj.ThresholdName, now, adj.CurrentValue, ErrStaleRequest)
		}
	}
	return nil
}

func (e *ThresholdEngine) appendHistoryLocked(req *domain.ThresholdChangeRequest) {
	e.history = append(e.history, req)
	if over := len(e.history) - e.cfg.HistoryLimit; over > 0 {
		e.history = append([]*domain.ThresholdChangeRequest(nil), e.history[over:]...)
	}
}

func (e *ThresholdEngine) findHistoryLocked(requestID string) *domain.ThresholdChangeRequest {
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].ID == requestID {
			return e.history[i]
		}
	}
	return nil
}

// missing различает "нет такой заявки" и "заявка уже не pending".
func (e *ThresholdEngine) missing(op, requestID string) error {
	if req := e.findHistoryLocked(requestID); req != nil {
		return fmt.Errorf("%s %s (status %s): %w", op, requestID, req.Status, ErrNotPending)
	}
	return fmt.Errorf("%s %s: %w", op, requestID, ErrRequestNotFound)
}

func (e *ThresholdEngine) emit(ctx context.Context, t events.Type, req *domain.ThresholdChangeRequest) {
	e.emitter.Emit(ctx, events.Event{
		Type:      t,
		EntityID:  req.ID,
		Timestamp: e.now(),
		Payload:   req,
	})
}
