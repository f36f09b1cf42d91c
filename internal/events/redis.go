package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/spaceai-optimizer/internal/domain"
	"github.com/xela07ax/spaceai-optimizer/internal/infra"
)

// redisPublisher — часть *redis.Client, которая нужна паблишерам.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher транслирует события ядра в каналы optimizer:events:<type>.
type RedisPublisher struct {
	rdb redisPublisher
}

func NewRedisPublisher(rdb redisPublisher) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.Type, err)
	}
	if err := p.rdb.Publish(ctx, infra.EventChannel(string(e.Type)), data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", e.Type, err)
	}
	return nil
}

// DecisionNotice — то, что оператор получает в свой канал.
type DecisionNotice struct {
	RequestID      string              `json:"request_id"`
	Type           domain.DecisionType `json:"type"`
	Priority       domain.Priority     `json:"priority"`
	Title          string              `json:"title"`
	Recommendation string              `json:"recommendation"`
	Escalated      bool                `json:"escalated"`
	ExpiresAt      time.Time           `json:"expires_at"`
}

// RedisNotifier рассылает заявки на решение в персональные каналы операторов.
type RedisNotifier struct {
	rdb redisPublisher
}

func NewRedisNotifier(rdb redisPublisher) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

// Notify останавливается на первой ошибке: повтор целиком безопасен, оператор
// просто получит уведомление еще раз.
func (n *RedisNotifier) Notify(ctx context.Context, req *domain.DecisionRequest, users []domain.OversightUser) error {
	data, err := json.Marshal(DecisionNotice{
		RequestID:      req.ID,
		Type:           req.Type,
		Priority:       req.Priority,
		Title:          req.Content.Title,
		Recommendation: req.Context.Recommendation,
		Escalated:      req.Escalated,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshal notice %s: %w", req.ID, err)
	}
	for _, u := range users {
		if err := n.rdb.Publish(ctx, infra.NotificationChannel(u.ID), data).Err(); err != nil {
			return fmt.Errorf("notify %s about %s: %w", u.ID, req.ID, err)
		}
	}
	return nil
}
