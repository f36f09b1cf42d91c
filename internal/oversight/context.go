package oversight

import (
	"fmt"

	"github.com/xela07ax/spaceai-optimizer/internal/domain"
	"github.com/xela07ax/spaceai-optimizer/internal/risk"
)

// Рекомендации, которые видит оператор в контексте заявки.
const (
	RecommendApprove = "approve"
	RecommendReject  = "reject"
	RecommendReview  = "review"
)

// minSimilarDecisions — меньше этого числа закрытых заявок статистике не доверяем.
const minSimilarDecisions = 3

func (w *Workflow) buildContextLocked(req *domain.DecisionRequest) domain.DecisionContext {
	var st SystemState
	if w.state != nil {
		st = w.state.SystemState()
	}
	rate, samples := w.similarRateLocked(req.Type)

	c := domain.DecisionContext{
		SystemHealth:        st.HealthScore,
		ActiveAlerts:        st.ActiveAlerts,
		SimilarDecisionRate: rate,
		PredictedOutcomes:   predictedOutcomes(req.Content),
		RiskScope:           riskScope(req.Type, req.Content),
	}
	c.Recommendation, c.RecommendationReason = recommend(req, st, rate, samples)
	return c
}

// similarRateLocked — доля одобренных среди закрытых заявок того же типа, %.
func (w *Workflow) similarRateLocked(t domain.DecisionType) (float64, int) {
	var approved, decided int
	for _, h := range w.history {
		if h.Type != t {
			continue
		}
		switch h.Status {
		case domain.DecisionApproved:
			approved++
			decided++
		case domain.DecisionRejected:
			decided++
		}
	}
	if decided == 0 {
		return 0, 0
	}
	return float64(approved) / float64(decided) * 100, decided
}

func riskScope(t domain.DecisionType, c domain.DecisionContent) domain.RiskTier {
	switch t {
	case domain.DecisionThresholdChange:
		if c.ThresholdChange != nil {
			scope := risk.RiskScope(c.ThresholdChange.RiskScore)
			if tier := c.ThresholdChange.MaxRiskTier(); tier.Rank() > scope.Rank() {
				scope = tier
			}
			return scope
		}
	case domain.DecisionOptimizationApproval:
		if c.Optimization != nil && c.Optimization.RiskLevel != "" {
			return c.Optimization.RiskLevel
		}
	case domain.DecisionEmergencyAction:
		return domain.RiskCritical
	}
	return domain.RiskMedium
}

func predictedOutcomes(c domain.DecisionContent) []string {
	var out []string
	switch {
	case c.ThresholdChange != nil:
		impact := c.ThresholdChange.EstimatedImpact
		out = append(out,
			fmt.Sprintf("alert frequency %+.1f%%", impact.AlertFrequencyDelta),
			fmt.Sprintf("false positives %+.1f%%", impact.FalsePositiveDelta))
		if impact.PerformanceDelta != 0 {
			out = append(out, fmt.Sprintf("performance %+.1f%%", impact.PerformanceDelta))
		}
	case c.Optimization != nil:
		out = append(out, fmt.Sprintf("estimated improvement %.1f%%", c.Optimization.EstimatedImprovement))
	case c.Emergency != nil:
		out = append(out, fmt.Sprintf("%s on %d target(s)", c.Emergency.Action, len(c.Emergency.Targets)))
	}
	return out
}

func recommend(req *domain.DecisionRequest, st SystemState, rate float64, samples int) (string, string) {
	if req.Type == domain.DecisionEmergencyAction && st.HealthScore > 0 && st.HealthScore < 50 {
		return RecommendApprove, "system health is degraded"
	}
	if tc := req.Content.ThresholdChange; tc != nil && tc.RiskScore > 75 {
		return RecommendReview, fmt.Sprintf("aggregate risk score %d is high", tc.RiskScore)
	}
	if samples >= minSimilarDecisions {
		if rate >= 80 {
			return RecommendApprove, fmt.Sprintf("%.0f%% of similar requests were approved", rate)
		}
		if rate <= 20 {
			return RecommendReject, fmt.Sprintf("only %.0f%% of similar requests were approved", rate)
		}
	}
	return RecommendReview, "not enough history for a confident recommendation"
}
