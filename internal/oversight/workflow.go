package oversight

/*
Файл workflow.go — Human-in-the-loop для рискованных изменений.

Машина состояний заявки (domain.DecisionRequest.CanTransitionTo):
  pending → approved | rejected | expired
  pending → escalated → pending   (эскалация: urgent, +2 часа, расширенный круг)

Любой отказ терминален. Одобрение — только когда набран кворум без отказов.
Таймер истечения у каждой заявки свой и отменяется при разрешении.
Наблюдатели OnResolved вызываются после снятия блокировки.
*/

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-optimizer/internal/domain"
	"github.com/xela07ax/spaceai-optimizer/internal/events"
)

var (
	ErrRequestNotFound   = errors.New("decision request not found")
	ErrUserNotFound      = errors.New("oversight user not found")
	ErrPermissionDenied  = errors.New("user has no permission for this decision")
	ErrDuplicateDecision = errors.New("user already decided on this request")
)

// Notifier доставляет заявку операторам. Эскалацию можно отличить по req.Escalated.
type Notifier interface {
	Notify(ctx context.Context, req *domain.DecisionRequest, users []domain.OversightUser) error
}

// StateProvider отдает текущее состояние системы для контекста заявки.
type StateProvider interface {
	SystemState() SystemState
}

type SystemState struct {
	HealthScore  float64
	ActiveAlerts int
}

// Decision — голос оператора.
type Decision struct {
	Approved bool
	Comment  string
}

// ResolutionObserver получает копию заявки, перешедшей в терминальный статус.
type ResolutionObserver func(ctx context.Context, req *domain.DecisionRequest)

type Config struct {
	TTL                 map[domain.Priority]time.Duration // переопределение domain.Priority.TTL
	EscalationExtension time.Duration
	HistoryLimit        int
}

func (c Config) withDefaults() Config {
	if c.EscalationExtension <= 0 {
		c.EscalationExtension = 2 * time.Hour
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 1000
	}
	return c
}

func (c Config) ttl(p domain.Priority) time.Duration {
	if d, ok := c.TTL[p]; ok && d > 0 {
		return d
	}
	return p.TTL()
}

type Workflow struct {
	cfg      Config
	notifier Notifier
	state    StateProvider
	emitter  events.Emitter
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	users     map[string]domain.OversightUser
	active    map[string]*domain.DecisionRequest
	history   []*domain.DecisionRequest
	timers    map[string]*time.Timer
	observers []ResolutionObserver
	closed    bool
}

func NewWorkflow(cfg Config, notifier Notifier, state StateProvider, emitter events.Emitter, logger *zap.Logger) *Workflow {
	if emitter == nil {
		emitter = events.Nop
	}
	return &Workflow{
		cfg:      cfg.withDefaults(),
		notifier: notifier,
		state:    state,
		emitter:  emitter,
		logger:   logger.Named("oversight"),
		now:      time.Now,
		users:    make(map[string]domain.OversightUser),
		active:   make(map[string]*domain.DecisionRequest),
		timers:   make(map[string]*time.Timer),
	}
}

func (w *Workflow) AddUser(u domain.OversightUser) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.users[u.ID] = u
}

func (w *Workflow) User(id string) (domain.OversightUser, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	u, ok := w.users[id]
	if !ok {
		return domain.OversightUser{}, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return u, nil
}

// OnResolved регистрирует наблюдателя. Вызывать при сборке сервиса.
func (w *Workflow) OnResolved(o ResolutionObserver) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.observers = append(w.observers, o)
}

// CreateDecisionRequest ставит заявку в очередь и уведомляет тех, кто вправе решать.
func (w *Workflow) CreateDecisionRequest(ctx context.Context, t domain.DecisionType, content domain.DecisionContent, priority domain.Priority) (*domain.DecisionRequest, error) {
	if err := content.Validate(t); err != nil {
		return nil, fmt.Errorf("create %s request: %w", t, err)
	}
	if priority == "" {
		priority = domain.PriorityMedium
	}

	now := w.now()
	req := &domain.DecisionRequest{
		ID:                uuid.New().String(),
		Type:              t,
		Priority:          priority,
		Content:           content,
		RequiredApprovals: requiredApprovals(t, priority, content),
		Status:            domain.DecisionPending,
		CreatedAt:         now,
		ExpiresAt:         now.Add(w.cfg.ttl(priority)),
		Transitions: []domain.StatusTransition{
			{To: domain.DecisionPending, At: now, Reason: "created"},
		},
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, fmt.Errorf("create %s request: workflow closed", t)
	}
	req.Context = w.buildContextLocked(req)
	w.active[req.ID] = req
	w.scheduleLocked(req)
	recipients := w.eligibleLocked(req)
	out := req.Clone()
	w.mu.Unlock()

	w.logger.Info("decision request created",
		zap.String("request_id", out.ID),
		zap.String("type", string(t)),
		zap.String("priority", string(priority)),
		zap.Int("required_approvals", out.RequiredApprovals),
		zap.Int("recipients", len(recipients)))

	w.notify(ctx, out, recipients)
	w.emit(ctx, events.DecisionCreated, out)
	return out, nil
}

// requiredApprovals: аварийные и срочные — двое, крупные изменения порогов — двое, остальное — один.
func requiredApprovals(t domain.DecisionType, p domain.Priority, c domain.DecisionContent) int {
	if t == domain.DecisionEmergencyAction || p == domain.PriorityUrgent {
		return 2
	}
	if t == domain.DecisionThresholdChange && c.ThresholdChange != nil && c.ThresholdChange.RiskScore > 50 {
		return 2
	}
	return 1
}

// SubmitDecision фиксирует голос и, если он решающий, закрывает заявку.
func (w *Workflow) SubmitDecision(ctx context.Context, requestID, userID string, d Decision) (*domain.DecisionRequest, error) {
	w.mu.Lock()
	req, err := w.lookupLocked(requestID)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	user, ok := w.users[userID]
	if !ok {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if req.Status.IsTerminal() {
		w.mu.Unlock()
		return nil, fmt.Errorf("decision %s (%s): %w", requestID, req.Status, domain.ErrAlreadyProcessed)
	}
	if !mayDecide(user, req) {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: user %s, request %s", ErrPermissionDenied, userID, requestID)
	}
	if req.HasDecisionFrom(userID) {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: user %s, request %s", ErrDuplicateDecision, userID, requestID)
	}

	now := w.now()
	req.Approvals = append(req.Approvals, domain.DecisionRecord{
		UserID:    userID,
		Approved:  d.Approved,
		Comment:   d.Comment,
		DecidedAt: now,
	})

	approvals, _ := req.Tally()
	switch {
	case !d.Approved:
		_ = req.Transition(domain.DecisionRejected, now, "rejected by "+userID)
	case approvals >= req.RequiredApprovals:
		_ = req.Transition(domain.DecisionApproved, now, "quorum reached")
	}

	var observers []ResolutionObserver
	if req.Status.IsTerminal() {
		observers = w.archiveLocked(req)
	}
	out := req.Clone()
	w.mu.Unlock()

	w.logger.Info("decision submitted",
		zap.String("request_id", requestID),
		zap.String("user_id", userID),
		zap.Bool("approved", d.Approved),
		zap.String("status", string(out.Status)))

	if out.Status.IsTerminal() {
		w.resolved(ctx, out, observers)
	}
	return out, nil
}

// mayDecide: после эскалации достаточно права на действие без учета уровня риска.
func mayDecide(u domain.OversightUser, req *domain.DecisionRequest) bool {
	if req.Escalated {
		return u.HasAction(req.Type)
	}
	return u.CanDecide(req.Type, req.Context.RiskScope)
}

// Escalate повышает приоритет, продлевает срок и уведомляет администраторов.
func (w *Workflow) Escalate(ctx context.Context, requestID, reason string) (*domain.DecisionRequest, error) {
	w.mu.Lock()
	req, err := w.lookupLocked(requestID)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	now := w.now()
	if err := req.Transition(domain.DecisionEscalated, now, reason); err != nil {
		w.mu.Unlock()
		return nil, fmt.Errorf("escalate %s: %w", requestID, err)
	}
	_ = req.Transition(domain.DecisionPending, now, "escalated")
	req.Escalated = true
	req.Priority = domain.PriorityUrgent
	// срок только продлевается: эскалация не укорачивает жизнь долгой заявки
	if extended := now.Add(w.cfg.EscalationExtension); extended.After(req.ExpiresAt) {
		req.ExpiresAt = extended
	}
	w.scheduleLocked(req)

	var admins []domain.OversightUser
	for _, u := range w.users {
		if u.IsAdmin() {
			admins = append(admins, u)
		}
	}
	sortUsers(admins)
	out := req.Clone()
	w.mu.Unlock()

	w.logger.Warn("decision request escalated",
		zap.String("request_id", requestID),
		zap.String("reason", reason),
		zap.Time("expires_at", out.ExpiresAt))

	w.notify(ctx, out, admins)
	w.emit(ctx, events.DecisionEscalated, out)
	return out, nil
}

// SweepExpired закрывает просроченные заявки, если таймер по какой-то причине не сработал.
func (w *Workflow) SweepExpired(ctx context.Context, now time.Time) int {
	w.mu.Lock()
	var ids []string
	for id, req := range w.active {
		if req.Status == domain.DecisionPending && !now.Before(req.ExpiresAt) {
			ids = append(ids, id)
		}
	}
	w.mu.Unlock()

	sort.Strings(ids)
	expired := 0
	for _, id := range ids {
		if w.expire(ctx, id, now) {
			expired++
		}
	}
	return expired
}

// EscalateStale эскалирует заявки, которым до истечения осталось не больше window,
// а кворум так и не собран. Уже эскалированные не трогает.
func (w *Workflow) EscalateStale(ctx context.Context, window time.Duration, now time.Time) int {
	w.mu.Lock()
	var ids []string
	for id, req := range w.active {
		if req.Status == domain.DecisionPending && !req.Escalated && req.ExpiresAt.Sub(now) <= window {
			ids = append(ids, id)
		}
	}
	w.mu.Unlock()

	sort.Strings(ids)
	escalated := 0
	for _, id := range ids {
		if _, err := w.Escalate(ctx, id, "approval quorum not reached"); err != nil {
			w.logger.Warn("stale escalation skipped", zap.String("request_id", id), zap.Error(err))
			continue
		}
		escalated++
	}
	return escalated
}

func (w *Workflow) expire(ctx context.Context, requestID string, now time.Time) bool {
	w.mu.Lock()
	req, ok := w.active[requestID]
	if !ok || req.Status != domain.DecisionPending {
		w.mu.Unlock()
		return false
	}
	_ = req.Transition(domain.DecisionExpired, now, "timeout")
	observers := w.archiveLocked(req)
	out := req.Clone()
	w.mu.Unlock()

	w.logger.Warn("decision request expired", zap.String("request_id", requestID))
	w.resolved(ctx, out, observers)
	return true
}

// GetPendingDecisions — открытые заявки, по которым пользователь может и еще не голосовал.
// Сначала срочные, внутри приоритета — старые.
func (w *Workflow) GetPendingDecisions(userID string) ([]*domain.DecisionRequest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	user, ok := w.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	out := make([]*domain.DecisionRequest, 0)
	for _, req := range w.active {
		if req.Status != domain.DecisionPending || req.HasDecisionFrom(userID) || !mayDecide(user, req) {
			continue
		}
		out = append(out, req.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() > out[j].Priority.Rank()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Get ищет заявку среди активных и в истории.
func (w *Workflow) Get(requestID string) (*domain.DecisionRequest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	req, err := w.lookupLocked(requestID)
	if err != nil {
		return nil, err
	}
	return req.Clone(), nil
}

// PendingCount — число открытых заявок.
func (w *Workflow) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.active)
}

// Close останавливает все таймеры. Новые заявки после этого не принимаются.
func (w *Workflow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for id, t := range w.timers {
		t.Stop()
		delete(w.timers, id)
	}
}

func (w *Workflow) lookupLocked(requestID string) (*domain.DecisionRequest, error) {
	if req, ok := w.active[requestID]; ok {
		return req, nil
	}
	for i := len(w.history) - 1; i >= 0; i-- {
		if w.history[i].ID == requestID {
			return w.history[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
}

func (w *Workflow) scheduleLocked(req *domain.DecisionRequest) {
	if t, ok := w.timers[req.ID]; ok {
		t.Stop()
	}
	id := req.ID
	delay := req.ExpiresAt.Sub(w.now())
	if delay < 0 {
		delay = 0
	}
	w.timers[id] = time.AfterFunc(delay, func() {
		w.expire(context.Background(), id, w.now())
	})
}

// archiveLocked переносит заявку в историю и возвращает наблюдателей для вызова вне блокировки.
func (w *Workflow) archiveLocked(req *domain.DecisionRequest) []ResolutionObserver {
	if t, ok := w.timers[req.ID]; ok {
		t.Stop()
		delete(w.timers, req.ID)
	}
	delete(w.active, req.ID)
	w.history = append(w.history, req)
	if over := len(w.history) - w.cfg.HistoryLimit; over > 0 {
		w.history = append([]*domain.DecisionRequest(nil), w.history[over:]...)
	}
	return append([]ResolutionObserver(nil), w.observers...)
}

// eligibleLocked — кто получит уведомление о новой заявке.
func (w *Workflow) eligibleLocked(req *domain.DecisionRequest) []domain.OversightUser {
	var out []domain.OversightUser
	for _, u := range w.users {
		if !mayDecide(u, req) {
			continue
		}
		if floor := u.Notifications.MinPriority; floor != "" && req.Priority.Rank() < floor.Rank() {
			continue
		}
		out = append(out, u)
	}
	sortUsers(out)
	return out
}

func (w *Workflow) resolved(ctx context.Context, req *domain.DecisionRequest, observers []ResolutionObserver) {
	w.emit(ctx, events.DecisionResolved, req)
	for _, o := range observers {
		o(ctx, req.Clone())
	}
}

func (w *Workflow) notify(ctx context.Context, req *domain.DecisionRequest, users []domain.OversightUser) {
	if w.notifier == nil || len(users) == 0 {
		return
	}
	if err := w.notifier.Notify(ctx, req, users); err != nil {
		w.logger.Error("failed to notify oversight users",
			zap.String("request_id", req.ID), zap.Error(err))
	}
}

func (w *Workflow) emit(ctx context.Context, t events.Type, req *domain.DecisionRequest) {
	w.emitter.Emit(ctx, events.Event{
		Type:      t,
		EntityID:  req.ID,
		Timestamp: w.now(),
		Payload:   req,
	})
}

func sortUsers(users []domain.OversightUser) {
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
}
