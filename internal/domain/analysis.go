package domain

import "time"

// Severity — общая шкала серьезности для узких мест, паттернов ошибок и рекомендаций.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank — порядок сортировки: critical=1 ... low=4. Неизвестное значение уходит в конец.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 1
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 4
	default:
		return 5
	}
}

type BottleneckType string

const (
	BottleneckResponseTime BottleneckType = "response_time"
	BottleneckReliability  BottleneckType = "reliability"
	BottleneckMemory       BottleneckType = "memory"
	BottleneckCPU          BottleneckType = "cpu"
	BottleneckValidation   BottleneckType = "validation"
)

// SystemTarget — цель узкого места, когда оно относится ко всей системе, а не к агенту.
const SystemTarget = "system"

type Bottleneck struct {
	ID                   string         `json:"id"`
	Type                 BottleneckType `json:"type"`
	Target               string         `json:"target"`
	Severity             Severity       `json:"severity"`
	Description          string         `json:"description"`
	Impact               string         `json:"impact"`
	Urgency              string         `json:"urgency"`
	EstimatedImprovement float64        `json:"estimated_improvement"` // %
	Value                float64        `json:"value"`
	Threshold            float64        `json:"threshold"`
}

type ErrorPattern struct {
	ID               string   `json:"id"`
	ErrorType        string   `json:"error_type"`
	Frequency        int      `json:"frequency"`
	AffectedTargets  []string `json:"affected_targets"`
	CommonConditions []string `json:"common_conditions"`
	Causes           []string `json:"causes"`
	Fixes            []string `json:"fixes"`
	BusinessImpact   Severity `json:"business_impact"`
}

type IssueType string

const (
	IssuePerformanceDegradation IssueType = "performance_degradation"
	IssueSystemOverload         IssueType = "system_overload"
	IssueValidationFailure      IssueType = "validation_failure"
)

// MaxPredictionHorizon — предсказание дальше этого горизонта не выдается.
const MaxPredictionHorizon = 48 * time.Hour

type PredictedIssue struct {
	ID                     string    `json:"id"`
	PredictedAt            time.Time `json:"predicted_at"`
	LikelyOccurrence       time.Time `json:"likely_occurrence"`
	Confidence             float64   `json:"confidence"`
	IssueType              IssueType `json:"issue_type"`
	AffectedComponents     []string  `json:"affected_components"`
	PreventiveActions      []string  `json:"preventive_actions"`
	MonitoringRequirements []string  `json:"monitoring_requirements"`
}

// WithinHorizon проверяет инвариант: событие строго в будущем и не дальше 48 часов.
func (p PredictedIssue) WithinHorizon() bool {
	gap := p.LikelyOccurrence.Sub(p.PredictedAt)
	return gap > 0 && gap <= MaxPredictionHorizon
}

// SystemAnalysis — результат одного цикла анализа.
type SystemAnalysis struct {
	ID                string                  `json:"id"`
	GeneratedAt       time.Time               `json:"generated_at"`
	SnapshotCount     int                     `json:"snapshot_count"`
	HealthScore       float64                 `json:"health_score"`
	Trends            []PerformanceTrend      `json:"trends"`
	Bottlenecks       []Bottleneck            `json:"bottlenecks"`
	ErrorPatterns     []ErrorPattern          `json:"error_patterns"`
	PredictedIssues   []PredictedIssue        `json:"predicted_issues"`
	Thresholds        AlertThresholds         `json:"thresholds"`
	ThresholdProposal *ThresholdChangeRequest `json:"threshold_proposal,omitempty"`
}

// ActiveAlerts — число текущих нарушений порогов уровня high и выше.
func (a *SystemAnalysis) ActiveAlerts() int {
	if a == nil {
		return 0
	}
	n := 0
	for _, b := range a.Bottlenecks {
		if b.Severity.Rank() <= SeverityHigh.Rank() {
			n++
		}
	}
	return n
}
