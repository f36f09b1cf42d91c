package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/spaceai-optimizer/internal/domain"
	"github.com/xela07ax/spaceai-optimizer/internal/oversight"
)

type ReliabilityConfig struct {
	RatePerSecond    float64
	Burst            int
	Attempts         uint
	CallTimeout      time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

func (c ReliabilityConfig) withDefaults() ReliabilityConfig {
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 20
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.Attempts == 0 {
		c.Attempts = 3
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	return c
}

// ReliableNotifier оборачивает доставку уведомлений: лимитер → Circuit Breaker → ретраи.
type ReliableNotifier struct {
	next    oversight.Notifier
	cfg     ReliabilityConfig
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliableNotifier(next oversight.Notifier, cfg ReliabilityConfig) *ReliableNotifier {
	cfg = cfg.withDefaults()

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "oversight-notifier",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	})

	return &ReliableNotifier{
		next:    next,
		cfg:     cfg,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}
}

func (n *ReliableNotifier) Notify(ctx context.Context, req *domain.DecisionRequest, users []domain.OversightUser) error {
	// 1. Rate Limiter
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify rate limit: %w", err)
	}

	// 2. Circuit Breaker
	_, err := n.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(n.cfg.Attempts),
			retry.DelayType(func(attempt uint, err error, config retry.DelayContext) time.Duration {
				// Получатель сам сказал, когда повторить
				var tErr *ThrottleError
				if errors.As(err, &tErr) && tErr.RetryAfter > 0 {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(attempt, err, config)
			}),
		)

		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, n.cfg.CallTimeout)
			defer cancel()
			return n.next.Notify(tCtx, req, users)
		})
	})
	return err
}

func (n *ReliableNotifier) State() gobreaker.State {
	return n.cb.State()
}
