package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Type string

const (
	AnalysisCompleted        Type = "analysis_completed"
	ThresholdsProposed       Type = "thresholds_proposed"
	ThresholdsApplied        Type = "thresholds_applied"
	ThresholdsRolledBack     Type = "thresholds_rolled_back"
	ThresholdRequestRejected Type = "threshold_request_rejected"
	DecisionCreated          Type = "decision_created"
	DecisionResolved         Type = "decision_resolved"
	DecisionEscalated        Type = "decision_escalated"
	OptimizationApplied      Type = "optimization_applied"
	OptimizationRolledBack   Type = "optimization_rolled_back"
)

// Event — уведомление об изменении состояния ядра для внешних потребителей.
type Event struct {
	ID        string      `json:"id"`
	Type      Type        `json:"type"`
	EntityID  string      `json:"entity_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Observer вызывается синхронно внутри Emit.
type Observer func(ctx context.Context, e Event)

// Publisher отправляет событие во внешнюю шину (Redis, Kafka).
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Emitter — то, что нужно компонентам ядра от шины.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// Bus разносит события наблюдателям и внешним паблишерам.
// Наблюдатели регистрируются при сборке сервиса, а не через глобальный event loop.
type Bus struct {
	mu         sync.RWMutex
	observers  []Observer
	publishers []Publisher
	logger     *zap.Logger
}

func NewBus(logger *zap.Logger, publishers ...Publisher) *Bus {
	return &Bus{
		publishers: publishers,
		logger:     logger.Named("events"),
	}
}

func (b *Bus) Subscribe(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Emit доставляет событие. Ошибка одного паблишера логируется и не мешает остальным.
// В контексте из Defer событие только ставится в очередь.
func (b *Bus) Emit(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if q, ok := ctx.Value(deferredKey{}).(*deferred); ok {
		q.add(b, e)
		return
	}
	b.deliver(ctx, e)
}

func (b *Bus) deliver(ctx context.Context, e Event) {
	b.mu.RLock()
	observers := append([]Observer(nil), b.observers...)
	publishers := append([]Publisher(nil), b.publishers...)
	b.mu.RUnlock()

	for _, o := range observers {
		o(ctx, e)
	}
	for _, p := range publishers {
		if err := p.Publish(ctx, e); err != nil {
			b.logger.Warn("event delivery failed",
				zap.String("type", string(e.Type)),
				zap.String("entity_id", e.EntityID),
				zap.Error(err))
		}
	}
}

type deferredKey struct{}

type deferredEvent struct {
	bus *Bus
	e   Event
}

type deferred struct {
	mu     sync.Mutex
	events []deferredEvent
}

func (d *deferred) add(b *Bus, e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, deferredEvent{bus: b, e: e})
}

// Defer откладывает доставку событий, отправленных с возвращенным контекстом,
// до вызова flush. flush вызывают после снятия блокировок.
func Defer(ctx context.Context) (context.Context, func()) {
	d := &deferred{}
	flush := func() {
		d.mu.Lock()
		queued := d.events
		d.events = nil
		d.mu.Unlock()
		for _, q := range queued {
			q.bus.deliver(ctx, q.e)
		}
	}
	return context.WithValue(ctx, deferredKey{}, d), flush
}

type nop struct{}

func (nop) Emit(context.Context, Event) {}

// Nop — пустой Emitter для тестов и для сборки без шины.
var Nop Emitter = nop{}
