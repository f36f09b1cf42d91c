package engine

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xela07ax/spaceai-optimizer/internal/domain"
)

// minTrendChange — тренды слабее этого (в %) рекомендаций не порождают.
const minTrendChange = 10

// Метрики, рост которых — деградация. Для остальных деградация — падение.
var higherIsWorse = map[string]bool{
	"response_time":   true,
	"memory_usage":    true,
	"cpu_usage":       true,
	"validation_time": true,
	"error_count":     true,
	"critical_events": true,
}

var bottleneckActions = map[domain.BottleneckType][]string{
	domain.BottleneckResponseTime: {"scale out the agent pool", "enable response caching"},
	domain.BottleneckReliability:  {"enable retries with backoff", "route traffic to healthy agents"},
	domain.BottleneckMemory:       {"recycle agent workers", "reduce batch size"},
	domain.BottleneckCPU:          {"throttle intake rate", "scale out the agent pool"},
	domain.BottleneckValidation:   {"parallelize validation", "cache validation results"},
}

// buildRecommendations собирает рекомендации из узких мест, деградирующих трендов
// и предложения по порогам; сначала важные, не больше limit штук.
func buildRecommendations(a *domain.SystemAnalysis, limit int, now time.Time) []domain.OptimizationRecommendation {
	if a == nil {
		return []domain.OptimizationRecommendation{}
	}
	out := make([]domain.OptimizationRecommendation, 0)

	for _, b := range a.Bottlenecks {
		riskLevel := bottleneckRisk(b.Severity)
		out = append(out, domain.OptimizationRecommendation{
			ID:                   uuid.New().String(),
			Type:                 domain.RecommendationBottleneck,
			Priority:             b.Severity,
			Title:                fmt.Sprintf("Resolve %s bottleneck on %s", b.Type, b.Target),
			Description:          b.Description,
			RiskLevel:            riskLevel,
			RequiresApproval:     riskLevel.Rank() >= domain.RiskHigh.Rank(),
			EstimatedImprovement: b.EstimatedImprovement,
			Actions:              append([]string(nil), bottleneckActions[b.Type]...),
			Source:               b.ID,
			CreatedAt:            now,
		})
	}

	for _, t := range a.Trends {
		if !degrading(t) {
			continue
		}
		change := math.Abs(t.ChangePercent)
		out = append(out, domain.OptimizationRecommendation{
			ID:                   uuid.New().String(),
			Type:                 domain.RecommendationTrend,
			Priority:             trendPriority(change),
			Title:                fmt.Sprintf("Counter degrading %s", trendLabel(t)),
			Description:          fmt.Sprintf("%s moved %.1f%% %s over %s", t.Metric, change, t.Direction, t.TimeWindow),
			RiskLevel:            domain.RiskLow,
			EstimatedImprovement: math.Round(change/2*100) / 100,
			Actions:              []string{"investigate recent changes", "increase monitoring resolution"},
			Source:               "trend:" + trendLabel(t),
			CreatedAt:            now,
		})
	}

	if p := a.ThresholdProposal; p != nil {
		tier := p.MaxRiskTier()
		names := make([]string, 0, len(p.Adjustments))
		for _, adj := range p.Adjustments {
			names = append(names, adj.ThresholdName)
		}
		out = append(out, domain.OptimizationRecommendation{
			ID:                   uuid.New().String(),
			Type:                 domain.RecommendationThreshold,
			Priority:             tierSeverity(tier),
			Title:                "Adjust alert thresholds",
			Description:          fmt.Sprintf("adjust %s (risk score %d)", strings.Join(names, ", "), p.RiskScore),
			RiskLevel:            tier,
			RequiresApproval:     p.RequiresApproval(),
			EstimatedImprovement: p.EstimatedImpact.PerformanceDelta,
			Actions:              []string{p.RollbackPlan},
			Source:               "thresholds",
			ThresholdRequestID:   p.ID,
			CreatedAt:            now,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.Rank() < out[j].Priority.Rank()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func degrading(t domain.PerformanceTrend) bool {
	if t.IsBaseline() || math.Abs(t.ChangePercent) < minTrendChange {
		return false
	}
	metric := t.Metric
	if i := strings.LastIndex(metric, "."); i >= 0 {
		metric = metric[i+1:]
	}
	if higherIsWorse[metric] {
		return t.Direction == domain.TrendUp
	}
	return t.Direction == domain.TrendDown
}

func trendLabel(t domain.PerformanceTrend) string {
	if t.AgentID != "" {
		return t.Metric + "@" + t.AgentID
	}
	return t.Metric
}

func trendPriority(change float64) domain.Severity {
	switch {
	case change >= 50:
		return domain.SeverityHigh
	case change >= 25:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// bottleneckRisk — чем тяжелее узкое место, тем инвазивнее лечение.
func bottleneckRisk(s domain.Severity) domain.RiskTier {
	switch s {
	case domain.SeverityCritical:
		return domain.RiskHigh
	case domain.SeverityHigh:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func tierSeverity(t domain.RiskTier) domain.Severity {
	switch t {
	case domain.RiskCritical:
		return domain.SeverityCritical
	case domain.RiskHigh:
		return domain.SeverityHigh
	case domain.RiskMedium:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}
