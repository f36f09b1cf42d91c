package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/spaceai-optimizer/internal/audit"
)

func TestBuildInsert(t *testing.T) {
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []audit.Record{
		{ID: "a", Kind: "thresholds_applied", EntityID: "req-1", Status: "approved", Payload: map[string]int{"x": 1}, RecordedAt: ts},
		{ID: "b", Kind: "decision_resolved", EntityID: "d-1", Status: "rejected", RecordedAt: ts},
	}

	query, args, err := buildInsert(records)
	require.NoError(t, err)
	assert.Equal(t,
		"INSERT INTO optimizer_audit (id, kind, entity_id, status, payload, recorded_at) VALUES "+
			"($1, $2, $3, $4, $5, $6), ($7, $8, $9, $10, $11, $12)",
		query)
	require.Len(t, args, 12)
	assert.Equal(t, "a", args[0])
	assert.Equal(t, []byte(`{"x":1}`), args[4])
	assert.Equal(t, []byte("null"), args[10])
	assert.Equal(t, ts, args[11])
}

func TestBuildInsert_BadPayload(t *testing.T) {
	_, _, err := buildInsert([]audit.Record{{ID: "bad", Payload: make(chan int)}})
	assert.Error(t, err)
}
