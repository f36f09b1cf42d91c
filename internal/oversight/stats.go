package oversight

import (
	"time"

	"github.com/xela07ax/spaceai-optimizer/internal/domain"
)

// Stats — сводка по работе операторов.
type Stats struct {
	Total           int                         `json:"total"`
	Pending         int                         `json:"pending"`
	Approved        int                         `json:"approved"`
	Rejected        int                         `json:"rejected"`
	Expired         int                         `json:"expired"`
	Escalated       int                         `json:"escalated"`
	ApprovalRate    float64                     `json:"approval_rate"`
	AverageLatency  time.Duration               `json:"average_latency"`
	ByType          map[domain.DecisionType]int `json:"by_type"`
	DecisionsByUser map[string]int              `json:"decisions_by_user"`
}

func (w *Workflow) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Stats{
		Pending:         len(w.active),
		ByType:          make(map[domain.DecisionType]int),
		DecisionsByUser: make(map[string]int),
	}
	count := func(req *domain.DecisionRequest) {
		s.Total++
		s.ByType[req.Type]++
		if req.Escalated {
			s.Escalated++
		}
		for _, a := range req.Approvals {
			s.DecisionsByUser[a.UserID]++
		}
	}
	for _, req := range w.active {
		count(req)
	}

	var latency time.Duration
	var resolvedByHumans int
	for _, req := range w.history {
		count(req)
		switch req.Status {
		case domain.DecisionApproved:
			s.Approved++
		case domain.DecisionRejected:
			s.Rejected++
		case domain.DecisionExpired:
			s.Expired++
			continue
		}
		if req.ResolvedAt != nil {
			latency += req.ResolvedAt.Sub(req.CreatedAt)
			resolvedByHumans++
		}
	}
	if decided := s.Approved + s.Rejected; decided > 0 {
		s.ApprovalRate = float64(s.Approved) / float64(decided) * 100
	}
	if resolvedByHumans > 0 {
		s.AverageLatency = latency / time.Duration(resolvedByHumans)
	}
	return s
}
