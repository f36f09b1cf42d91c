package analysis

import (
	"sort"

	"github.com/xela07ax/spaceai-optimizer/internal/domain"
)

// ErrorWindow — сколько последних срезов учитывается при поиске паттернов ошибок.
const ErrorWindow = 24

// AnalyzeErrorPatterns агрегирует критические события и ошибки агентов.
// Нулевая сумма по типу не дает паттерна.
func AnalyzeErrorPatterns(snapshots []domain.MetricsSnapshot) []domain.ErrorPattern {
	recent := snapshots
	if len(recent) > ErrorWindow {
		recent = recent[len(recent)-ErrorWindow:]
	}

	var critical, validationFailed int
	agentErrors := make(map[string]int)
	for _, s := range recent {
		if s.System.CriticalEvents > 0 {
			critical += s.System.CriticalEvents
		}
		if s.Validation.FailedValidations > 0 {
			validationFailed += s.Validation.FailedValidations
		}
		for id, m := range s.Agents {
			if m.ErrorCount > 0 {
				agentErrors[id] += m.ErrorCount
			}
		}
	}

	patterns := make([]domain.ErrorPattern, 0, 3)

	if critical > 0 {
		patterns = append(patterns, domain.ErrorPattern{
			ID:               "pattern_critical_events",
			ErrorType:        "critical_events",
			Frequency:        critical,
			AffectedTargets:  []string{domain.SystemTarget},
			CommonConditions: []string{"high request load", "degraded agent health"},
			Causes:           []string{"unhandled agent failures", "upstream service outages"},
			Fixes:            []string{"inspect critical event log", "restart failing agents", "enable request shedding"},
			BusinessImpact:   impactBand(critical),
		})
	}

	if len(agentErrors) > 0 {
		total := 0
		affected := make([]string, 0, len(agentErrors))
		for id, n := range agentErrors {
			total += n
			affected = append(affected, id)
		}
		sort.Strings(affected)
		patterns = append(patterns, domain.ErrorPattern{
			ID:               "pattern_agent_errors",
			ErrorType:        "agent_errors",
			Frequency:        total,
			AffectedTargets:  affected,
			CommonConditions: []string{"long response times", "resource pressure on agent host"},
			Causes:           []string{"model provider timeouts", "invalid intermediate output", "memory pressure"},
			Fixes:            []string{"increase agent timeouts", "add retries with backoff", "scale out affected agents"},
			BusinessImpact:   impactBand(total),
		})
	}

	if validationFailed > 0 {
		patterns = append(patterns, domain.ErrorPattern{
			ID:               "pattern_validation_failures",
			ErrorType:        "validation_failures",
			Frequency:        validationFailed,
			AffectedTargets:  []string{"validation"},
			CommonConditions: []string{"template changes", "new client compatibility rules"},
			Causes:           []string{"markup incompatible with target clients", "quality score below gate"},
			Fixes:            []string{"review recent template changes", "tighten generation constraints"},
			BusinessImpact:   impactBand(validationFailed),
		})
	}

	return patterns
}

func impactBand(freq int) domain.Severity {
	switch {
	case freq >= 50:
		return domain.SeverityCritical
	case freq >= 20:
		return domain.SeverityHigh
	case freq >= 5:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}
