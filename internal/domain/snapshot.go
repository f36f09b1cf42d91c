package domain

import (
	"sort"
	"time"
)

// MetricsSnapshot — один срез телеметрии конвейера агентов.
// После записи в хранилище истории не изменяется.
type MetricsSnapshot struct {
	Timestamp  time.Time               `json:"timestamp"`
	Agents     map[string]AgentMetrics `json:"agents"`
	System     SystemMetrics           `json:"system"`
	Validation ValidationMetrics       `json:"validation"`
}

// AgentMetrics — показатели одного агента.
type AgentMetrics struct {
	ResponseTime float64   `json:"response_time"` // мс
	SuccessRate  float64   `json:"success_rate"`  // %
	ErrorCount   int       `json:"error_count"`
	Throughput   float64   `json:"throughput"`   // запросов в минуту
	MemoryUsage  float64   `json:"memory_usage"` // %
	CPUUsage     float64   `json:"cpu_usage"`    // %
	LastActivity time.Time `json:"last_activity"`
}

// SystemMetrics — агрегаты по всей системе.
type SystemMetrics struct {
	TotalRequests       int64   `json:"total_requests"`
	ActiveAgents        int     `json:"active_agents"`
	AverageResponseTime float64 `json:"average_response_time"`
	SuccessRate         float64 `json:"success_rate"`
	CriticalEvents      int     `json:"critical_events"`
	HealthScore         float64 `json:"health_score"` // 0-100
}

// ValidationMetrics — результаты валидации сгенерированных артефактов.
type ValidationMetrics struct {
	TotalValidations      int     `json:"total_validations"`
	SuccessfulValidations int     `json:"successful_validations"`
	FailedValidations     int     `json:"failed_validations"`
	SuccessRate           float64 `json:"success_rate"`
	AverageValidationTime float64 `json:"average_validation_time"` // мс
	QualityScore          float64 `json:"quality_score"`
	CompatibilityScore    float64 `json:"compatibility_score"`
}

// Clone возвращает глубокую копию: мапа агентов не должна разделяться с продюсером.
func (s MetricsSnapshot) Clone() MetricsSnapshot {
	out := s
	if s.Agents != nil {
		out.Agents = make(map[string]AgentMetrics, len(s.Agents))
		for id, m := range s.Agents {
			out.Agents[id] = m
		}
	}
	return out
}

// AgentIDs возвращает идентификаторы агентов в детерминированном порядке.
func (s MetricsSnapshot) AgentIDs() []string {
	ids := make([]string, 0, len(s.Agents))
	for id := range s.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
