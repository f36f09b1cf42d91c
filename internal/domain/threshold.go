package domain

import (
	"errors"
	"fmt"
	"time"
)

// Имена управляемых порогов.
const (
	ThresholdMaxResponseTime   = "max_response_time"
	ThresholdMinSuccessRate    = "min_success_rate"
	ThresholdMaxMemoryUsage    = "max_memory_usage"
	ThresholdMaxCPUUsage       = "max_cpu_usage"
	ThresholdMaxValidationTime = "max_validation_time"
)

var ErrUnknownThreshold = errors.New("unknown threshold name")

// AlertThresholds — единственный изменяемый объект конфигурации алертов.
// Владелец — ThresholdEngine, все остальные получают копию.
type AlertThresholds struct {
	MaxResponseTime   float64 `json:"max_response_time"`   // мс
	MinSuccessRate    float64 `json:"min_success_rate"`    // %
	MaxMemoryUsage    float64 `json:"max_memory_usage"`    // %
	MaxCPUUsage       float64 `json:"max_cpu_usage"`       // %
	MaxValidationTime float64 `json:"max_validation_time"` // мс
}

// DefaultThresholds — стартовые значения, если в конфиге ничего не задано.
func DefaultThresholds() AlertThresholds {
	return AlertThresholds{
		MaxResponseTime:   2000,
		MinSuccessRate:    95,
		MaxMemoryUsage:    85,
		MaxCPUUsage:       80,
		MaxValidationTime: 1000,
	}
}

func (t AlertThresholds) Get(name string) (float64, error) {
	switch name {
	case ThresholdMaxResponseTime:
		return t.MaxResponseTime, nil
	case ThresholdMinSuccessRate:
		return t.MinSuccessRate, nil
	case ThresholdMaxMemoryUsage:
		return t.MaxMemoryUsage, nil
	case ThresholdMaxCPUUsage:
		return t.MaxCPUUsage, nil
	case ThresholdMaxValidationTime:
		return t.MaxValidationTime, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownThreshold, name)
}

func (t *AlertThresholds) Set(name string, value float64) error {
	switch name {
	case ThresholdMaxResponseTime:
		t.MaxResponseTime = value
	case ThresholdMinSuccessRate:
		t.MinSuccessRate = value
	case ThresholdMaxMemoryUsage:
		t.MaxMemoryUsage = value
	case ThresholdMaxCPUUsage:
		t.MaxCPUUsage = value
	case ThresholdMaxValidationTime:
		t.MaxValidationTime = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownThreshold, name)
	}
	return nil
}

// RiskTier — бэнд величины предлагаемого изменения.
type RiskTier string

const (
	RiskLow      RiskTier = "low"
	RiskMedium   RiskTier = "medium"
	RiskHigh     RiskTier = "high"
	RiskCritical RiskTier = "critical"
)

// Weight — вклад уровня в агрегированный риск-скор заявки.
func (r RiskTier) Weight() int {
	switch r {
	case RiskLow:
		return 10
	case RiskMedium:
		return 25
	case RiskHigh:
		return 50
	case RiskCritical:
		return 100
	default:
		return 0
	}
}

func (r RiskTier) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

type ThresholdAdjustment struct {
	ThresholdName    string   `json:"threshold_name"`
	CurrentValue     float64  `json:"current_value"`
	RecommendedValue float64  `json:"recommended_value"`
	ChangePercent    float64  `json:"change_percent"`
	Confidence       float64  `json:"confidence"`
	Justification    string   `json:"justification"`
	RiskTier         RiskTier `json:"risk_tier"`
	RequiresApproval bool     `json:"requires_approval"`
	SupportingTrends []string `json:"supporting_trends"`
}

type ThresholdStatus string

const (
	ThresholdPending     ThresholdStatus = "pending"
	ThresholdApproved    ThresholdStatus = "approved"
	ThresholdRejected    ThresholdStatus = "rejected"
	ThresholdAutoApplied ThresholdStatus = "auto_applied"
	ThresholdRolledBack  ThresholdStatus = "rolled_back"
)

type ImpactEstimate struct {
	PerformanceDelta    float64 `json:"performance_delta"`
	AlertFrequencyDelta float64 `json:"alert_frequency_delta"`
	FalsePositiveDelta  float64 `json:"false_positive_delta"`
}

// ThresholdChangeRequest — пачка корректировок, которая применяется или откатывается целиком.
// Before/After фиксируются в момент применения, откат восстанавливает Before.
type ThresholdChangeRequest struct {
	ID                string                `json:"id"`
	CreatedAt         time.Time             `json:"created_at"`
	Adjustments       []ThresholdAdjustment `json:"adjustments"`
	RiskScore         int                   `json:"risk_score"`
	EstimatedImpact   ImpactEstimate        `json:"estimated_impact"`
	Status            ThresholdStatus       `json:"status"`
	RollbackPlan      string                `json:"rollback_plan"`
	Before            *AlertThresholds      `json:"before,omitempty"`
	After             *AlertThresholds      `json:"after,omitempty"`
	AppliedAt         *time.Time            `json:"applied_at,omitempty"`
	RolledBackAt      *time.Time            `json:"rolled_back_at,omitempty"`
	DecisionRequestID string                `json:"decision_request_id,omitempty"`
	Reason            string                `json:"reason,omitempty"`
}

// RequiresApproval — true, если хотя бы одна корректировка требует решения человека.
func (r *ThresholdChangeRequest) RequiresApproval() bool {
	for _, a := range r.Adjustments {
		if a.RequiresApproval {
			return true
		}
	}
	return false
}

// MaxRiskTier — наихудший уровень риска среди корректировок.
func (r *ThresholdChangeRequest) MaxRiskTier() RiskTier {
	tier := RiskLow
	for _, a := range r.Adjustments {
		if a.RiskTier.Rank() > tier.Rank() {
			tier = a.RiskTier
		}
	}
	return tier
}

// Clone копирует заявку вместе со слайсами и снимками порогов.
func (r *ThresholdChangeRequest) Clone() *ThresholdChangeRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Adjustments = make([]ThresholdAdjustment, len(r.Adjustments))
	for i, a := range r.Adjustments {
		a.SupportingTrends = append([]string(nil), a.SupportingTrends...)
		out.Adjustments[i] = a
	}
	if r.Before != nil {
		b := *r.Before
		out.Before = &b
	}
	if r.After != nil {
		a := *r.After
		out.After = &a
	}
	if r.AppliedAt != nil {
		t := *r.AppliedAt
		out.AppliedAt = &t
	}
	if r.RolledBackAt != nil {
		t := *r.RolledBackAt
		out.RolledBackAt = &t
	}
	return &out
}
