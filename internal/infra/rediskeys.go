package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных оптимизатора в Redis
	RedisNamespace = "optimizer"
)

// Каналы Pub/Sub
const (
	// RedisChanSnapshots — входящие срезы метрик от конвейера (JSON MetricsSnapshot).
	RedisChanSnapshots = RedisNamespace + ":metrics:snapshots"
	// RedisChanEvents — префикс каналов исходящих событий ядра.
	RedisChanEvents = RedisNamespace + ":events"
	// RedisChanNotifications — префикс персональных каналов операторов (HITL).
	RedisChanNotifications = RedisNamespace + ":notifications"
	// RedisChanFreeze — сигналы заморозки автоприменения: "on:<причина>" или "off".
	RedisChanFreeze = RedisNamespace + ":control:freeze"
)

// Ключи
const (
	// RedisKeySnapshotBacklog — список последних срезов (JSON), который продюсер держит
	// обрезанным через LTRIM. Из него история догоняется после переподключения.
	RedisKeySnapshotBacklog = RedisNamespace + ":metrics:backlog"
	// RedisKeyFreeze — текущее состояние заморозки, переживает рестарт инстансов.
	RedisKeyFreeze = RedisNamespace + ":control:freeze_state"
)

// EventChannel — канал конкретного типа события, например optimizer:events:thresholds_applied.
func EventChannel(eventType string) string {
	return fmt.Sprintf("%s:%s", RedisChanEvents, eventType)
}

// NotificationChannel — канал уведомлений оператора.
func NotificationChannel(userID string) string {
	return fmt.Sprintf("%s:%s", RedisChanNotifications, userID)
}
