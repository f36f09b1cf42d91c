package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionRequest_Transitions(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	req := &DecisionRequest{Status: DecisionPending}

	require.NoError(t, req.Transition(DecisionEscalated, at, "no quorum"))
	// из escalated — только обратно в pending
	assert.ErrorIs(t, req.Transition(DecisionApproved, at, ""), ErrInvalidTransition)
	require.NoError(t, req.Transition(DecisionPending, at, "escalated"))
	assert.ErrorIs(t, req.Transition(DecisionPending, at, ""), ErrInvalidTransition)

	require.NoError(t, req.Transition(DecisionRejected, at, "rejected by bob"))
	require.NotNil(t, req.ResolvedAt)
	assert.Equal(t, at, *req.ResolvedAt)
	assert.Len(t, req.Transitions, 3)

	// терминальный статус единственный
	assert.ErrorIs(t, req.Transition(DecisionApproved, at, ""), ErrAlreadyProcessed)
	assert.ErrorIs(t, req.Transition(DecisionExpired, at, ""), ErrAlreadyProcessed)
}

func TestDecisionRequest_TallyAndClone(t *testing.T) {
	req := &DecisionRequest{
		Approvals: []DecisionRecord{{UserID: "a", Approved: true}, {UserID: "b", Approved: false}},
		Content:   DecisionContent{Optimization: &OptimizationRecommendation{ID: "r", Actions: []string{"x"}}},
	}
	approvals, rejections := req.Tally()
	assert.Equal(t, 1, approvals)
	assert.Equal(t, 1, rejections)
	assert.True(t, req.HasDecisionFrom("b"))
	assert.False(t, req.HasDecisionFrom("c"))

	cp := req.Clone()
	cp.Approvals[0].Approved = false
	cp.Content.Optimization.Actions[0] = "y"
	assert.True(t, req.Approvals[0].Approved)
	assert.Equal(t, "x", req.Content.Optimization.Actions[0])
}

func TestDecisionContent_Validate(t *testing.T) {
	c := DecisionContent{ThresholdChange: &ThresholdChangeRequest{}}
	assert.NoError(t, c.Validate(DecisionThresholdChange))
	assert.ErrorIs(t, c.Validate(DecisionOptimizationApproval), ErrContentMismatch)
	assert.ErrorIs(t, c.Validate(DecisionEmergencyAction), ErrContentMismatch)
	assert.ErrorIs(t, c.Validate("unknown"), ErrContentMismatch)
}

func TestAlertThresholds_GetSet(t *testing.T) {
	th := DefaultThresholds()
	v, err := th.Get(ThresholdMinSuccessRate)
	require.NoError(t, err)
	assert.Equal(t, 95.0, v)

	require.NoError(t, th.Set(ThresholdMaxCPUUsage, 70))
	assert.Equal(t, 70.0, th.MaxCPUUsage)

	_, err = th.Get("max_disk")
	assert.ErrorIs(t, err, ErrUnknownThreshold)
	assert.ErrorIs(t, th.Set("max_disk", 1), ErrUnknownThreshold)
}

func TestThresholdChangeRequest_Aggregates(t *testing.T) {
	req := &ThresholdChangeRequest{
		Adjustments: []ThresholdAdjustment{
			{RiskTier: RiskLow},
			{RiskTier: RiskHigh, RequiresApproval: true, SupportingTrends: []string{"agent.cpu_usage@a1"}},
		},
		Before: &AlertThresholds{MaxCPUUsage: 80},
	}
	assert.True(t, req.RequiresApproval())
	assert.Equal(t, RiskHigh, req.MaxRiskTier())

	cp := req.Clone()
	cp.Before.MaxCPUUsage = 1
	cp.Adjustments[1].SupportingTrends[0] = "changed"
	assert.Equal(t, 80.0, req.Before.MaxCPUUsage)
	assert.Equal(t, "agent.cpu_usage@a1", req.Adjustments[1].SupportingTrends[0])
}

func TestPriority(t *testing.T) {
	assert.Equal(t, 2*time.Hour, PriorityUrgent.TTL())
	assert.Equal(t, 24*time.Hour, PriorityMedium.TTL())
	assert.Greater(t, PriorityUrgent.Rank(), PriorityHigh.Rank())
	assert.Equal(t, PriorityMedium.Rank(), Priority("").Rank())
}
