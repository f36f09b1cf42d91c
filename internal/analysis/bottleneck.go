package analysis

import (
	"fmt"
	"sort"

	"github.com/xela07ax/spaceai-optimizer/internal/domain"
)

// limitCheck описывает одну проверку порога.
type limitCheck struct {
	kind       domain.BottleneckType
	name       string
	value      float64
	limit      float64
	lowerBound bool // success rate: плохо, когда значение НИЖЕ лимита
}

// DetectBottlenecks сравнивает последний срез с порогами.
// Без среза возвращает пустой список, ошибок не бывает.
func DetectBottlenecks(snap *domain.MetricsSnapshot, th domain.AlertThresholds) []domain.Bottleneck {
	if snap == nil {
		return []domain.Bottleneck{}
	}

	out := make([]domain.Bottleneck, 0)
	sys := snap.System
	out = appendViolations(out, domain.SystemTarget, []limitCheck{
		{kind: domain.BottleneckResponseTime, name: "average response time", value: sys.AverageResponseTime, limit: th.MaxResponseTime},
		{kind: domain.BottleneckReliability, name: "success rate", value: sys.SuccessRate, limit: th.MinSuccessRate, lowerBound: true},
		{kind: domain.BottleneckValidation, name: "validation time", value: snap.Validation.AverageValidationTime, limit: th.MaxValidationTime},
	})

	for _, id := range snap.AgentIDs() {
		m := snap.Agents[id]
		checks := []limitCheck{
			{kind: domain.BottleneckResponseTime, name: "response time", value: m.ResponseTime, limit: th.MaxResponseTime},
			{kind: domain.BottleneckMemory, name: "memory usage", value: m.MemoryUsage, limit: th.MaxMemoryUsage},
			{kind: domain.BottleneckCPU, name: "CPU usage", value: m.CPUUsage, limit: th.MaxCPUUsage},
		}
		// У агента без трафика success rate не определен
		if m.Throughput > 0 || m.ErrorCount > 0 {
			checks = append(checks, limitCheck{kind: domain.BottleneckReliability, name: "success rate", value: m.SuccessRate, limit: th.MinSuccessRate, lowerBound: true})
		}
		out = appendViolations(out, id, checks)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() < out[j].Severity.Rank()
	})
	return out
}

func appendViolations(out []domain.Bottleneck, target string, checks []limitCheck) []domain.Bottleneck {
	for _, c := range checks {
		if b, ok := evaluate(target, c); ok {
			out = append(out, b)
		}
	}
	return out
}

func evaluate(target string, c limitCheck) (domain.Bottleneck, bool) {
	// Отсутствующая метрика или невалидный порог — не нарушение
	if !finite(c.value) || !finite(c.limit) || c.limit <= 0 {
		return domain.Bottleneck{}, false
	}

	var severity domain.Severity
	var improvement float64

	if c.lowerBound {
		if c.value >= c.limit {
			return domain.Bottleneck{}, false
		}
		deficit := c.limit - c.value
		severity = deficitSeverity(deficit)
		improvement = deficit
	} else {
		if c.value <= c.limit {
			return domain.Bottleneck{}, false
		}
		severity = ratioSeverity(c.value / c.limit)
		improvement = (c.value - c.limit) / c.value * 100
	}

	scope := "system"
	if target != domain.SystemTarget {
		scope = "agent " + target
	}

	return domain.Bottleneck{
		ID:                   fmt.Sprintf("bottleneck_%s_%s", c.kind, target),
		Type:                 c.kind,
		Target:               target,
		Severity:             severity,
		Description:          fmt.Sprintf("%s %s is %.1f, threshold %.1f", scope, c.name, c.value, c.limit),
		Impact:               impactText(c.kind, severity),
		Urgency:              urgencyFor(severity),
		EstimatedImprovement: round2(improvement),
		Value:                c.value,
		Threshold:            c.limit,
	}, true
}

func ratioSeverity(ratio float64) domain.Severity {
	switch {
	case ratio > 1.5:
		return domain.SeverityCritical
	case ratio > 1.2:
		return domain.SeverityHigh
	case ratio > 1.1:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// deficitSeverity — для success rate считаем в процентных пунктах ниже лимита.
func deficitSeverity(deficit float64) domain.Severity {
	switch {
	case deficit > 20:
		return domain.SeverityCritical
	case deficit > 10:
		return domain.SeverityHigh
	case deficit > 5:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func urgencyFor(s domain.Severity) string {
	switch s {
	case domain.SeverityCritical:
		return "immediate"
	case domain.SeverityHigh:
		return "within_hour"
	case domain.SeverityMedium:
		return "within_day"
	default:
		return "scheduled"
	}
}

func impactText(kind domain.BottleneckType, s domain.Severity) string {
	switch kind {
	case domain.BottleneckResponseTime:
		return fmt.Sprintf("%s latency impact on pipeline throughput", s)
	case domain.BottleneckReliability:
		return fmt.Sprintf("%s impact: failed requests require retries or produce broken output", s)
	case domain.BottleneckMemory:
		return fmt.Sprintf("%s risk of memory exhaustion and agent restarts", s)
	case domain.BottleneckCPU:
		return fmt.Sprintf("%s CPU saturation slows every stage on the host", s)
	case domain.BottleneckValidation:
		return fmt.Sprintf("%s validation delay holds back delivery", s)
	default:
		return string(s)
	}
}
