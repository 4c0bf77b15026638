package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardrail-labs/trustgate/pkg/ladder"
	"github.com/guardrail-labs/trustgate/pkg/policy"
	"github.com/guardrail-labs/trustgate/pkg/trust"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestConfidenceEventRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []trust.Event{
		{ID: "e1", AgentID: "bot1", Kind: trust.TestsPassed, Success: true,
			Before: 0.50, After: 0.62, RecordedAt: base.Add(-2 * time.Hour),
			Metadata: map[string]any{"pr": "42"}},
		{ID: "e2", AgentID: "bot1", Kind: trust.HumanRejection, Success: false,
			Before: 0.62, After: 0.48, RecordedAt: base.Add(-time.Hour)},
		{ID: "e3", AgentID: "bot2", Kind: "", Success: true,
			Before: 0.50, After: 0.55, RecordedAt: base},
	}
	for _, ev := range events {
		require.NoError(t, store.AppendConfidenceEvent(ctx, ev))
	}

	got, err := store.ConfidenceEvents(ctx, "bot1", base.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2, "bot2 rows must not leak into bot1's history")

	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, "e2", got[1].ID)
	assert.Equal(t, trust.TestsPassed, got[0].Kind)
	assert.True(t, got[0].Success)
	assert.InDelta(t, 0.62, got[0].After, 1e-9)
	assert.Equal(t, map[string]any{"pr": "42"}, got[0].Metadata)
	assert.False(t, got[1].Success)
	assert.True(t, got[0].RecordedAt.Before(got[1].RecordedAt))
}

func TestConfidenceEventsSinceSpansAgents(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendConfidenceEvent(ctx, trust.Event{
		ID: "old", AgentID: "bot1", Success: true,
		Before: 0.5, After: 0.6, RecordedAt: base.Add(-40 * 24 * time.Hour)}))
	require.NoError(t, store.AppendConfidenceEvent(ctx, trust.Event{
		ID: "a", AgentID: "bot1", Success: true,
		Before: 0.5, After: 0.6, RecordedAt: base.Add(-time.Hour)}))
	require.NoError(t, store.AppendConfidenceEvent(ctx, trust.Event{
		ID: "b", AgentID: "bot2", Success: false,
		Before: 0.5, After: 0.4, RecordedAt: base}))

	got, err := store.ConfidenceEventsSince(ctx, base.Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2, "events outside the window are excluded")
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestPermissionEventRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	granted := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ev := policy.PermissionEvent{
		ID:                "p1",
		AgentID:           "bot1",
		EventType:         policy.EventGranted,
		Permission:        ladder.MetricsWrite,
		GrantedBy:         "0102",
		GrantedAt:         granted,
		ExpiresAt:         granted.AddDate(0, 0, 30),
		ConfidenceAtGrant: 0.75,
		Justification:     "trial period complete",
		ApprovalSignature: "sha256:deadbeef",
		Metadata:          map[string]any{"ticket": "OPS-7"},
	}
	require.NoError(t, store.AppendPermissionEvent(ctx, ev))

	require.NoError(t, store.AppendPermissionEvent(ctx, policy.PermissionEvent{
		ID: "p2", AgentID: "bot1", EventType: policy.EventDowngraded,
		Permission: ladder.ReadOnly, GrantedAt: granted.Add(time.Hour),
		Justification: "regression caused",
	}))

	got, err := store.PermissionEvents(ctx, "bot1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, policy.EventGranted, got[0].EventType)
	assert.Equal(t, ladder.MetricsWrite, got[0].Permission)
	assert.Equal(t, "0102", got[0].GrantedBy)
	assert.InDelta(t, 0.75, got[0].ConfidenceAtGrant, 1e-9)
	assert.Equal(t, "sha256:deadbeef", got[0].ApprovalSignature)
	assert.Equal(t, map[string]any{"ticket": "OPS-7"}, got[0].Metadata)
	assert.True(t, got[0].ExpiresAt.Equal(granted.AddDate(0, 0, 30)))

	assert.Equal(t, policy.EventDowngraded, got[1].EventType)
	assert.True(t, got[1].ExpiresAt.IsZero())
}
