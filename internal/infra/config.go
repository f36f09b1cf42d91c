package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xela07ax/spaceai-optimizer/internal/domain"
)

// Config — корневая структура конфигурации оптимизатора.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Events     EventsConfig     `mapstructure:"events"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Guard      GuardConfig      `mapstructure:"guard"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
	Oversight  OversightConfig  `mapstructure:"oversight"`
	Optimizer  OptimizerConfig  `mapstructure:"optimizer"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
}

// ServerConfig описывает служебный HTTP-сервер (/health, /metrics).
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig описывает подключение к PostgreSQL и буфер журнала аудита.
// Пустой URL отключает экспорт журнала.
type DatabaseConfig struct {
	URL                string        `mapstructure:"url"`
	MaxConns           int           `mapstructure:"max_conns"`
	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditBatchSize     int           `mapstructure:"audit_batch_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub срезов, событий и уведомлений).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// EventsConfig — куда публикуются события ядра.
type EventsConfig struct {
	RedisPublish bool     `mapstructure:"redis_publish"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"` // пусто — Kafka не используется
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

type AnalysisConfig struct {
	HistoryCapacity     int           `mapstructure:"history_capacity"`
	Window              time.Duration `mapstructure:"window"`
	MinDataPoints       int           `mapstructure:"min_data_points"`
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	BacklogSize         int64         `mapstructure:"backlog_size"`
}

// GuardConfig — троттлинг и предохранитель вокруг анализа.
type GuardConfig struct {
	MinInterval      time.Duration `mapstructure:"min_interval"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

type ThresholdsConfig struct {
	Initial                  InitialThresholds `mapstructure:"initial"`
	ConfidenceFloor          float64           `mapstructure:"confidence_floor"`
	Sensitivity              float64           `mapstructure:"sensitivity"`
	MaxChangePercent         float64           `mapstructure:"max_change_percent"`
	ApprovalThresholdPercent float64           `mapstructure:"approval_threshold_percent"`
	MinChangePercent         float64           `mapstructure:"min_change_percent"`
	AutoApplyInterval        time.Duration     `mapstructure:"auto_apply_interval"`
	HistoryLimit             int               `mapstructure:"history_limit"`
}

type InitialThresholds struct {
	MaxResponseTime   float64 `mapstructure:"max_response_time"`
	MinSuccessRate    float64 `mapstructure:"min_success_rate"`
	MaxMemoryUsage    float64 `mapstructure:"max_memory_usage"`
	MaxCPUUsage       float64 `mapstructure:"max_cpu_usage"`
	MaxValidationTime float64 `mapstructure:"max_validation_time"`
}

func (t InitialThresholds) AlertThresholds() domain.AlertThresholds {
	return domain.AlertThresholds{
		MaxResponseTime:   t.MaxResponseTime,
		MinSuccessRate:    t.MinSuccessRate,
		MaxMemoryUsage:    t.MaxMemoryUsage,
		MaxCPUUsage:       t.MaxCPUUsage,
		MaxValidationTime: t.MaxValidationTime,
	}
}

type OversightConfig struct {
	TTL                 map[string]time.Duration `mapstructure:"ttl"` // приоритет → срок жизни заявки
	EscalationExtension time.Duration            `mapstructure:"escalation_extension"`
	EscalateBefore      time.Duration            `mapstructure:"escalate_before"` // эскалировать, когда до истечения осталось меньше
	HistoryLimit        int                      `mapstructure:"history_limit"`
	Users               []UserConfig             `mapstructure:"users"`

	// Доставка уведомлений
	NotifyRate     float64 `mapstructure:"notify_rate"`
	NotifyAttempts uint    `mapstructure:"notify_attempts"`
}

// UserConfig — оператор из конфига. Права задаются как "action:scope",
// например "threshold_change:high".
type UserConfig struct {
	ID          string   `mapstructure:"id"`
	Name        string   `mapstructure:"name"`
	Role        string   `mapstructure:"role"`
	Permissions []string `mapstructure:"permissions"`
	MinPriority string   `mapstructure:"min_priority"`
}

func (u UserConfig) OversightUser() (domain.OversightUser, error) {
	user := domain.OversightUser{
		ID:   u.ID,
		Name: u.Name,
		Role: u.Role,
		Notifications: domain.NotificationPreferences{
			Chat:        true,
			MinPriority: domain.Priority(u.MinPriority),
		},
	}
	if user.ID == "" {
		return user, errors.New("oversight user without id")
	}
	for _, p := range u.Permissions {
		action, scope, ok := strings.Cut(p, ":")
		if !ok || action == "" || scope == "" {
			return user, fmt.Errorf("user %s: malformed permission %q, want action:scope", u.ID, p)
		}
		user.Permissions = append(user.Permissions, domain.Permission{
			Action:    domain.DecisionType(action),
			RiskScope: domain.RiskTier(scope),
		})
	}
	return user, nil
}

type OptimizerConfig struct {
	AutoApply                  bool `mapstructure:"auto_apply"`
	MaxConcurrentOptimizations int  `mapstructure:"max_concurrent_optimizations"`
}

// SchedulerConfig — интервалы периодических задач.
type SchedulerConfig struct {
	AnalysisInterval   time.Duration `mapstructure:"analysis_interval"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	EscalationInterval time.Duration `mapstructure:"escalation_interval"`
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.audit_buffer_size", 10000)
	v.SetDefault("database.audit_batch_size", 100)
	v.SetDefault("database.audit_flush_interval", 500*time.Millisecond)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("events.redis_publish", true)
	v.SetDefault("events.kafka_topic", "optimizer.events")

	v.SetDefault("analysis.history_capacity", 1000)
	v.SetDefault("analysis.window", 24*time.Hour)
	v.SetDefault("analysis.min_data_points", 3)
	v.SetDefault("analysis.confidence_threshold", 70.0)
	v.SetDefault("analysis.backlog_size", 100)

	v.SetDefault("guard.min_interval", 30*time.Second)
	v.SetDefault("guard.failure_threshold", 3)
	v.SetDefault("guard.cooldown_period", 5*time.Minute)
	v.SetDefault("guard.timeout", 30*time.Second)

	defaults := domain.DefaultThresholds()
	v.SetDefault("thresholds.initial.max_response_time", defaults.MaxResponseTime)
	v.SetDefault("thresholds.initial.min_success_rate", defaults.MinSuccessRate)
	v.SetDefault("thresholds.initial.max_memory_usage", defaults.MaxMemoryUsage)
	v.SetDefault("thresholds.initial.max_cpu_usage", defaults.MaxCPUUsage)
	v.SetDefault("thresholds.initial.max_validation_time", defaults.MaxValidationTime)
	v.SetDefault("thresholds.confidence_floor", 70.0)
	v.SetDefault("thresholds.sensitivity", 0.5)
	v.SetDefault("thresholds.max_change_percent", 50.0)
	v.SetDefault("thresholds.approval_threshold_percent", 10.0)
	v.SetDefault("thresholds.min_change_percent", 1.0)
	v.SetDefault("thresholds.auto_apply_interval", time.Minute)
	v.SetDefault("thresholds.history_limit", 500)

	v.SetDefault("oversight.escalation_extension", 2*time.Hour)
	v.SetDefault("oversight.escalate_before", 30*time.Minute)
	v.SetDefault("oversight.history_limit", 1000)
	v.SetDefault("oversight.notify_rate", 20.0)
	v.SetDefault("oversight.notify_attempts", 3)

	v.SetDefault("optimizer.max_concurrent_optimizations", 3)

	v.SetDefault("scheduler.analysis_interval", time.Minute)
	v.SetDefault("scheduler.sweep_interval", 30*time.Second)
	v.SetDefault("scheduler.escalation_interval", 5*time.Minute)
}
