package domain

import "time"

type RecommendationType string

const (
	RecommendationBottleneck RecommendationType = "bottleneck"
	RecommendationTrend      RecommendationType = "trend"
	RecommendationThreshold  RecommendationType = "threshold_adjustment"
)

// OptimizationRecommendation — предложенное действие по итогам анализа.
type OptimizationRecommendation struct {
	ID                   string             `json:"id"`
	Type                 RecommendationType `json:"type"`
	Priority             Severity           `json:"priority"`
	Title                string             `json:"title"`
	Description          string             `json:"description"`
	RiskLevel            RiskTier           `json:"risk_level"`
	RequiresApproval     bool               `json:"requires_approval"`
	EstimatedImprovement float64            `json:"estimated_improvement"`
	Actions              []string           `json:"actions"`
	Source               string             `json:"source"`
	ThresholdRequestID   string             `json:"threshold_request_id,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
}

type OptimizationStatus string

const (
	OptimizationActive     OptimizationStatus = "active"
	OptimizationRolledBack OptimizationStatus = "rolled_back"
	OptimizationFailed     OptimizationStatus = "failed"
)

type OptimizationResult struct {
	ID               string             `json:"id"`
	RecommendationID string             `json:"recommendation_id"`
	Type             RecommendationType `json:"type"`
	Source           string             `json:"source,omitempty"`
	Status           OptimizationStatus `json:"status"`
	AppliedAt        time.Time          `json:"applied_at"`
	RolledBackAt     *time.Time         `json:"rolled_back_at,omitempty"`
	Error            string             `json:"error,omitempty"`
	ThresholdRequest string             `json:"threshold_request,omitempty"`
}

// Причины, по которым рекомендация не была применена автоматически.
const (
	SkipApprovalRequired = "approval_required"
	SkipConcurrencyLimit = "concurrent_optimization_limit"
	SkipCriticalRisk     = "critical_risk"
	SkipExecutionFailed  = "execution_failed"
	SkipAlreadyActive    = "already_active"
	SkipFrozen           = "frozen"
)

type SkippedRecommendation struct {
	RecommendationID string `json:"recommendation_id"`
	Reason           string `json:"reason"`
	Detail           string `json:"detail,omitempty"`
}
