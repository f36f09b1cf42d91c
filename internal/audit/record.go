package audit

import (
	"time"

	"github.com/xela07ax/spaceai-optimizer/internal/domain"
	"github.com/xela07ax/spaceai-optimizer/internal/events"
)

// Record — строка журнала: что произошло, с какой сущностью и в каком она статусе.
type Record struct {
	ID         string      `json:"id"`
	Kind       string      `json:"kind"`      // тип события: thresholds_applied, decision_resolved...
	EntityID   string      `json:"entity_id"` // id заявки, решения или оптимизации
	Status     string      `json:"status"`
	Payload    interface{} `json:"payload"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// FromEvent переводит событие шины в запись журнала.
func FromEvent(e events.Event) Record {
	return Record{
		ID:         e.ID,
		Kind:       string(e.Type),
		EntityID:   e.EntityID,
		Status:     statusOf(e.Payload),
		Payload:    e.Payload,
		RecordedAt: e.Timestamp,
	}
}

func statusOf(payload interface{}) string {
	switch p := payload.(type) {
	case *domain.ThresholdChangeRequest:
		return string(p.Status)
	case *domain.DecisionRequest:
		return string(p.Status)
	case *domain.OptimizationResult:
		return string(p.Status)
	case *domain.SystemAnalysis:
		return "completed"
	default:
		return ""
	}
}
