package domain

import "time"

type TrendDirection string

const (
	TrendUp     TrendDirection = "up"
	TrendDown   TrendDirection = "down"
	TrendStable TrendDirection = "stable"
)

// BaselineMetric — имя тренда-заглушки, когда данных для регрессии недостаточно.
const BaselineMetric = "system_baseline"

type TrendPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Anomaly   bool      `json:"anomaly"`
}

// PerformanceTrend — итог линейной регрессии по одной метрике за окно.
// Создается заново на каждый вызов анализа и больше не меняется.
type PerformanceTrend struct {
	Metric        string         `json:"metric"`
	AgentID       string         `json:"agent_id,omitempty"`
	Direction     TrendDirection `json:"direction"`
	ChangePercent float64        `json:"change_percent"`
	Confidence    float64        `json:"confidence"` // 0-100, из R²
	Slope         float64        `json:"slope"`
	RSquared      float64        `json:"r_squared"`
	TimeWindow    string         `json:"time_window"`
	Points        []TrendPoint   `json:"points"`
}

// IsBaseline сообщает, что тренд — заглушка "данных нет", а не подтвержденная стабильность.
func (t PerformanceTrend) IsBaseline() bool {
	return t.Metric == BaselineMetric
}

// Anomalies считает точки, отмеченные как аномальные.
func (t PerformanceTrend) Anomalies() int {
	n := 0
	for _, p := range t.Points {
		if p.Anomaly {
			n++
		}
	}
	return n
}
