package engine

/*
Файл guard.go — предохранитель для анализа. Именно он разрывает цикл
"нашли нагрузку → пересчитали пороги → снова нашли нагрузку".

Правила проверяются строго по порядку:
 1. Circuit Breaker открыт → отдаем кэш. После cool-down gobreaker переходит в half-open
    и пропускает одну пробную попытку; успех закрывает его и обнуляет счетчик ошибок.
 2. Single-flight → если такой анализ уже идет, второй не запускаем.
 3. Минимальный интервал → если последний успешный прогон был недавно, отдаем кэш.

Троттлинг — штатная ситуация, а не ошибка: вызывающий проверяет errors.Is(err, ErrThrottled).
*/

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var ErrThrottled = errors.New("operation throttled")

type ThrottleReason string

const (
	ReasonCircuitOpen ThrottleReason = "circuit_open"
	ReasonInFlight    ThrottleReason = "in_flight"
	ReasonMinInterval ThrottleReason = "min_interval"
)

// ThrottleError — вызов не выполнялся. Значение, которое вернул Guard вместе с ошибкой,
// — последний успешный результат (или нулевое значение, если успешных еще не было).
type ThrottleError struct {
	Operation  string
	Reason     ThrottleReason
	RetryAfter time.Duration
	HasCached  bool
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("%s throttled (%s): retry after %v", e.Operation, e.Reason, e.RetryAfter)
}

func (e *ThrottleError) Is(target error) bool {
	return target == ErrThrottled
}

type GuardConfig struct {
	MinInterval      time.Duration
	FailureThreshold int
	CooldownPeriod   time.Duration
	Timeout          time.Duration
}

func (c GuardConfig) withDefaults() GuardConfig {
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.CooldownPeriod <= 0 {
		c.CooldownPeriod = 5 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Guard оборачивает одну логическую операцию (например, "analysis").
type Guard[T any] struct {
	name    string
	cfg     GuardConfig
	cb      *gobreaker.CircuitBreaker
	running atomic.Bool
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time

	mu          sync.RWMutex
	lastSuccess time.Time
	cached      T
	hasCached   bool
	executions  atomic.Uint64
}

func NewGuard[T any](name string, cfg GuardConfig, metrics *Metrics, logger *zap.Logger) *Guard[T] {
	cfg = cfg.withDefaults()
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	g := &Guard[T]{
		name:    name,
		cfg:     cfg,
		logger:  logger.Named("guard").With(zap.String("operation", name)),
		metrics: metrics,
		now:     time.Now,
	}

	// Настройка предохранителя
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.CooldownPeriod, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			g.metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			g.logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return g
}

// Do выполняет fn, если это разрешают все три правила.
func (g *Guard[T]) Do(ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	// 1. Circuit Breaker
	if g.cb.State() == gobreaker.StateOpen {
		return g.throttled(ReasonCircuitOpen, g.cfg.CooldownPeriod)
	}

	// 2. Single-flight
	if !g.running.CompareAndSwap(false, true) {
		return g.throttled(ReasonInFlight, 0)
	}
	defer g.running.Store(false)

	// 3. Минимальный интервал между успешными прогонами
	if wait := g.untilAllowed(); wait > 0 {
		return g.throttled(ReasonMinInterval, wait)
	}

	start := g.now()
	res, err := g.cb.Execute(func() (interface{}, error) {
		tCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
		g.executions.Add(1)
		return fn(tCtx)
	})
	g.metrics.OperationDuration.WithLabelValues(g.name).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return g.throttled(ReasonCircuitOpen, g.cfg.CooldownPeriod)
		}
		g.metrics.ErrorTotal.WithLabelValues(g.name).Inc()
		g.logger.Error("guarded operation failed", zap.Error(err))
		var zero T
		return zero, err
	}

	value, _ := res.(T)
	g.mu.Lock()
	g.lastSuccess = g.now()
	g.cached = value
	g.hasCached = true
	g.mu.Unlock()
	return value, nil
}

// Cached возвращает последний успешный результат.
func (g *Guard[T]) Cached() (T, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cached, g.hasCached
}

// Executions — сколько раз реально вызывалась обернутая функция.
func (g *Guard[T]) Executions() uint64 {
	return g.executions.Load()
}

func (g *Guard[T]) State() gobreaker.State {
	return g.cb.State()
}

func (g *Guard[T]) untilAllowed() time.Duration {
	if g.cfg.MinInterval == 0 {
		return 0
	}
	g.mu.RLock()
	last := g.lastSuccess
	g.mu.RUnlock()
	if last.IsZero() {
		return 0
	}
	return g.cfg.MinInterval - g.now().Sub(last)
}

func (g *Guard[T]) throttled(reason ThrottleReason, retryAfter time.Duration) (T, error) {
	g.metrics.ThrottledTotal.WithLabelValues(g.name, string(reason)).Inc()
	g.logger.Debug("operation throttled", zap.String("reason", string(reason)))
	cached, ok := g.Cached()
	return cached, &ThrottleError{Operation: g.name, Reason: reason, RetryAfter: retryAfter, HasCached: ok}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}
