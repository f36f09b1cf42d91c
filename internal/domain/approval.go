package domain

import (
	"errors"
	"time"
)

// Статусы State Machine
type DecisionStatus string

const (
	DecisionPending   DecisionStatus = "pending"
	DecisionApproved  DecisionStatus = "approved"
	DecisionRejected  DecisionStatus = "rejected"
	DecisionExpired   DecisionStatus = "expired"
	DecisionEscalated DecisionStatus = "escalated"
)

// IsTerminal — из терминального статуса переходов нет.
func (s DecisionStatus) IsTerminal() bool {
	return s == DecisionApproved || s == DecisionRejected || s == DecisionExpired
}

var (
	ErrInvalidTransition = errors.New("invalid decision status transition")
	ErrAlreadyProcessed  = errors.New("decision request already processed")
)

type DecisionType string

const (
	DecisionThresholdChange      DecisionType = "threshold_change"
	DecisionOptimizationApproval DecisionType = "optimization_approval"
	DecisionEmergencyAction      DecisionType = "emergency_action"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// TTL — сколько заявка ждет решения до истечения.
func (p Priority) TTL() time.Duration {
	switch p {
	case PriorityUrgent:
		return 2 * time.Hour
	case PriorityHigh:
		return 8 * time.Hour
	case PriorityLow:
		return 72 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Rank — чем больше, тем срочнее. Неизвестный приоритет считается medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	default:
		return 2
	}
}

// EmergencyAction — ручное аварийное действие над конвейером.
type EmergencyAction struct {
	Action      string   `json:"action"`
	Targets     []string `json:"targets"`
	Description string   `json:"description"`
}

// DecisionContent — вариант-тип содержимого заявки. Заполнено ровно одно поле,
// соответствующее DecisionRequest.Type.
type DecisionContent struct {
	Title           string                      `json:"title"`
	Description     string                      `json:"description"`
	ThresholdChange *ThresholdChangeRequest     `json:"threshold_change,omitempty"`
	Optimization    *OptimizationRecommendation `json:"optimization,omitempty"`
	Emergency       *EmergencyAction            `json:"emergency,omitempty"`
}

var ErrContentMismatch = errors.New("decision content does not match decision type")

// Validate проверяет, что заполнен вариант, соответствующий типу.
func (c DecisionContent) Validate(t DecisionType) error {
	switch t {
	case DecisionThresholdChange:
		if c.ThresholdChange == nil {
			return ErrContentMismatch
		}
	case DecisionOptimizationApproval:
		if c.Optimization == nil {
			return ErrContentMismatch
		}
	case DecisionEmergencyAction:
		if c.Emergency == nil {
			return ErrContentMismatch
		}
	default:
		return ErrContentMismatch
	}
	return nil
}

// DecisionContext — снимок обстановки на момент создания заявки, чтобы оператор
// видел, на каком фоне принимается решение.
type DecisionContext struct {
	SystemHealth         float64  `json:"system_health"`
	ActiveAlerts         int      `json:"active_alerts"`
	SimilarDecisionRate  float64  `json:"similar_decision_success_rate"`
	PredictedOutcomes    []string `json:"predicted_outcomes"`
	Recommendation       string   `json:"recommendation"` // approve / reject / review
	RecommendationReason string   `json:"recommendation_reason"`
	RiskScope            RiskTier `json:"risk_scope"`
}

type DecisionRecord struct {
	UserID    string    `json:"user_id"`
	Approved  bool      `json:"approved"`
	Comment   string    `json:"comment,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

type StatusTransition struct {
	From   DecisionStatus `json:"from"`
	To     DecisionStatus `json:"to"`
	At     time.Time      `json:"at"`
	Reason string         `json:"reason,omitempty"`
}

type DecisionRequest struct {
	ID                string             `json:"id"`
	Type              DecisionType       `json:"type"`
	Priority          Priority           `json:"priority"`
	Content           DecisionContent    `json:"content"`
	Context           DecisionContext    `json:"context"`
	RequiredApprovals int                `json:"required_approvals"`
	Approvals         []DecisionRecord   `json:"approvals"`
	Status            DecisionStatus     `json:"status"`
	Escalated         bool               `json:"escalated"`
	Transitions       []StatusTransition `json:"transitions"`

	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// CanTransitionTo проверяет правила конечного автомата
func (d *DecisionRequest) CanTransitionTo(next DecisionStatus) error {
	if d.Status.IsTerminal() {
		return ErrAlreadyProcessed
	}
	if next == d.Status {
		return ErrInvalidTransition
	}
	// escalated - промежуточный статус, из него возвращаемся в pending
	if d.Status == DecisionEscalated && next != DecisionPending {
		return ErrInvalidTransition
	}
	return nil
}

// Transition меняет статус и пишет переход в журнал.
func (d *DecisionRequest) Transition(next DecisionStatus, at time.Time, reason string) error {
	if err := d.CanTransitionTo(next); err != nil {
		return err
	}
	d.Transitions = append(d.Transitions, StatusTransition{From: d.Status, To: next, At: at, Reason: reason})
	d.Status = next
	if next.IsTerminal() {
		resolved := at
		d.ResolvedAt = &resolved
	}
	return nil
}

func (d *DecisionRequest) HasDecisionFrom(userID string) bool {
	for _, a := range d.Approvals {
		if a.UserID == userID {
			return true
		}
	}
	return false
}

// Tally возвращает число одобрений и отказов.
func (d *DecisionRequest) Tally() (approvals, rejections int) {
	for _, a := range d.Approvals {
		if a.Approved {
			approvals++
		} else {
			rejections++
		}
	}
	return approvals, rejections
}

// Clone отдает копию наружу, чтобы вызывающий не мутировал состояние воркфлоу.
func (d *DecisionRequest) Clone() *DecisionRequest {
	if d == nil {
		return nil
	}
	out := *d
	out.Approvals = append([]DecisionRecord(nil), d.Approvals...)
	out.Transitions = append([]StatusTransition(nil), d.Transitions...)
	out.Context.PredictedOutcomes = append([]string(nil), d.Context.PredictedOutcomes...)
	if d.ResolvedAt != nil {
		t := *d.ResolvedAt
		out.ResolvedAt = &t
	}
	out.Content.ThresholdChange = d.Content.ThresholdChange.Clone()
	if d.Content.Optimization != nil {
		o := *d.Content.Optimization
		o.Actions = append([]string(nil), d.Content.Optimization.Actions...)
		out.Content.Optimization = &o
	}
	if d.Content.Emergency != nil {
		e := *d.Content.Emergency
		e.Targets = append([]string(nil), d.Content.Emergency.Targets...)
		out.Content.Emergency = &e
	}
	return &out
}
