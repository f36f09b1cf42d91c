package risk

import (
	"math"

	"github.com/xela07ax/spaceai-optimizer/internal/domain"
)

// ClassifyRisk раскладывает процент изменения по бэндам.
func ClassifyRisk(changePercent float64) domain.RiskTier {
	pct := math.Abs(changePercent)
	switch {
	case pct <= 5:
		return domain.RiskLow
	case pct <= 15:
		return domain.RiskMedium
	case pct <= 25:
		return domain.RiskHigh
	default:
		return domain.RiskCritical
	}
}

// AggregateRiskScore — сумма весов уровней, не больше 100.
func AggregateRiskScore(adjustments []domain.ThresholdAdjustment) int {
	score := 0
	for _, a := range adjustments {
		score += a.RiskTier.Weight()
	}
	if score > 100 {
		score = 100
	}
	return score
}

// RiskScope переводит агрегированный скор обратно в уровень для проверки прав операторов.
func RiskScope(score int) domain.RiskTier {
	switch {
	case score > 75:
		return domain.RiskCritical
	case score > 50:
		return domain.RiskHigh
	case score > 25:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// tightens — true, если новый порог строже старого (алертов станет больше).
func tightens(g governed, current, recommended float64) bool {
	if g.lowerIsBetter {
		return recommended < current
	}
	return recommended > current
}

// estimateImpact — эвристика, а не модель: ужесточение порога добавляет алертов
// и ложных срабатываний, ослабление убирает.
func estimateImpact(adjustments []domain.ThresholdAdjustment) domain.ImpactEstimate {
	var impact domain.ImpactEstimate
	for _, a := range adjustments {
		g, ok := governedByName(a.ThresholdName)
		if !ok {
			continue
		}
		sign := -1.0
		if tightens(g, a.CurrentValue, a.RecommendedValue) {
			sign = 1.0
		}
		impact.AlertFrequencyDelta += sign * a.ChangePercent * 0.5
		impact.FalsePositiveDelta += sign * a.ChangePercent * 0.2
		impact.PerformanceDelta += a.ChangePercent * 0.1 * a.Confidence / 100
	}
	impact.AlertFrequencyDelta = math.Round(impact.AlertFrequencyDelta*100) / 100
	impact.FalsePositiveDelta = math.Round(impact.FalsePositiveDelta*100) / 100
	impact.PerformanceDelta = math.Round(impact.PerformanceDelta*100) / 100
	return impact
}
