package engine

import (
	"github.com/xela07ax/spaceai-optimizer/internal/analysis"
	"github.com/xela07ax/spaceai-optimizer/internal/domain"
	"github.com/xela07ax/spaceai-optimizer/internal/history"
	"github.com/xela07ax/spaceai-optimizer/internal/oversight"
)

type thresholdSource interface {
	CurrentThresholds() domain.AlertThresholds
}

// HistoryState отдает воркфлоу обстановку по последнему срезу.
// Не зависит от Optimizer, поэтому воркфлоу можно собрать раньше него.
type HistoryState struct {
	store      *history.Store
	thresholds thresholdSource
}

func NewHistoryState(store *history.Store, thresholds thresholdSource) *HistoryState {
	return &HistoryState{store: store, thresholds: thresholds}
}

func (s *HistoryState) SystemState() oversight.SystemState {
	latest, ok := s.store.Latest()
	if !ok {
		return oversight.SystemState{}
	}
	alerts := 0
	for _, b := range analysis.DetectBottlenecks(&latest, s.thresholds.CurrentThresholds()) {
		if b.Severity.Rank() <= domain.SeverityHigh.Rank() {
			alerts++
		}
	}
	return oversight.SystemState{HealthScore: latest.System.HealthScore, ActiveAlerts: alerts}
}
