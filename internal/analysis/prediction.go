package analysis

import (
	"fmt"
	"math"
	"time"

	"github.com/xela07ax/spaceai-optimizer/internal/domain"
)

const (
	// PredictionWindow — сколько последних срезов смотрит предсказатель.
	PredictionWindow = 10
	// overloadRequestFloor — ниже этой нагрузки рост запросов перегрузкой не считается.
	overloadRequestFloor = 1000
	declineTrigger       = -2.0
)

// Predictor прогнозирует ближайшие проблемы по упрощенным трендам.
// Намеренно не вызывает TrendAnalyzer, чтобы не было обратной связи между анализами.
type Predictor struct {
	confidenceThreshold float64
	minPoints           int
}

func NewPredictor(confidenceThreshold float64, minPoints int) *Predictor {
	if confidenceThreshold <= 0 {
		confidenceThreshold = DefaultConfidenceThreshold
	}
	if minPoints < 2 {
		minPoints = DefaultMinDataPoints
	}
	return &Predictor{confidenceThreshold: confidenceThreshold, minPoints: minPoints}
}

// PredictIssues возвращает только прогнозы с горизонтом (0, 48ч] и достаточной уверенностью.
func (p *Predictor) PredictIssues(snapshots []domain.MetricsSnapshot, now time.Time) []domain.PredictedIssue {
	recent := snapshots
	if len(recent) > PredictionWindow {
		recent = recent[len(recent)-PredictionWindow:]
	}
	if len(recent) < p.minPoints {
		return []domain.PredictedIssue{}
	}

	success := make([]float64, 0, len(recent))
	requests := make([]float64, 0, len(recent))
	validation := make([]float64, 0, len(recent))
	for _, s := range recent {
		success = append(success, s.System.SuccessRate)
		requests = append(requests, float64(s.System.TotalRequests))
		if s.Validation.TotalValidations > 0 || s.Validation.SuccessRate > 0 {
			validation = append(validation, s.Validation.SuccessRate)
		}
	}

	out := make([]domain.PredictedIssue, 0, 3)

	if t := halfTrend(success); t < declineTrigger {
		out = append(out, domain.PredictedIssue{
			IssueType:              domain.IssuePerformanceDegradation,
			Confidence:             math.Min(95, 60+5*math.Abs(t)),
			LikelyOccurrence:       now.Add(24 * time.Hour),
			AffectedComponents:     []string{"agents", "pipeline"},
			PreventiveActions:      []string{"review failing agents", "raise retry budget", "tighten success rate alerting"},
			MonitoringRequirements: []string{"success rate every 5 minutes", "per-agent error counts"},
		})
	}

	if rising(requests) && requests[len(requests)-1] > overloadRequestFloor {
		out = append(out, domain.PredictedIssue{
			IssueType:              domain.IssueSystemOverload,
			Confidence:             80,
			LikelyOccurrence:       now.Add(6 * time.Hour),
			AffectedComponents:     []string{"system"},
			PreventiveActions:      []string{"scale out agents", "enable request throttling", "pre-warm caches"},
			MonitoringRequirements: []string{"request rate per minute", "CPU and memory per agent"},
		})
	}

	if len(validation) >= p.minPoints {
		if t := halfTrend(validation); t < declineTrigger {
			out = append(out, domain.PredictedIssue{
				IssueType:              domain.IssueValidationFailure,
				Confidence:             math.Min(95, 65+5*math.Abs(t)),
				LikelyOccurrence:       now.Add(2 * time.Hour),
				AffectedComponents:     []string{"validation"},
				PreventiveActions:      []string{"freeze template changes", "run compatibility suite"},
				MonitoringRequirements: []string{"validation success rate", "quality score"},
			})
		}
	}

	filtered := out[:0]
	for i := range out {
		issue := out[i]
		issue.PredictedAt = now
		issue.Confidence = round2(issue.Confidence)
		issue.ID = fmt.Sprintf("prediction_%s_%d", issue.IssueType, now.Unix())
		if issue.Confidence < p.confidenceThreshold || !issue.WithinHorizon() {
			continue
		}
		filtered = append(filtered, issue)
	}
	return filtered
}

// halfTrend — упрощенный тренд: изменение среднего второй половины ряда
// относительно первой, в процентах.
func halfTrend(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mid := len(values) / 2
	first := mean(values[:mid])
	second := mean(values[mid:])
	if first == 0 {
		return 0
	}
	return (second - first) / math.Abs(first) * 100
}

// rising — ряд не убывает и в конце строго выше, чем в начале.
func rising(values []float64) bool {
	if len(values) < 2 {
		return false
	}
	for i := 1; i < len(values); i++ {
		if values[i] < values[i-1] {
			return false
		}
	}
	return values[len(values)-1] > values[0]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
