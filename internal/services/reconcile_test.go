package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcilePair(t *testing.T) {
	e := newTestEnv(t)
	rel := NewRelationshipService(e.store, e.outbox, &e.cfg.Relationships)
	svc := NewReconcileService(e.store)
	ctx := context.Background()

	_, err := rel.CreateRelationship(asUser("alice"), "alice", "bob", nil)
	require.NoError(t, err)

	result, err := svc.ReconcilePair(ctx, "alice", "alice_bob")
	require.NoError(t, err)
	assert.Equal(t, ReconcileInSync, result)

	result, err = svc.ReconcilePair(ctx, "alice", "nobody_alice")
	require.NoError(t, err)
	assert.Equal(t, ReconcileMissing, result)

	// the newer half wins
	later := time.Now().UTC().Add(time.Minute)
	require.NoError(t, e.raw.Update(ctx, "users/bob/connections/alice_bob", map[string]interface{}{
		"status":    ConnectionAccepted,
		"updatedAt": later,
	}))
	result, err = svc.ReconcilePair(ctx, "alice", "alice_bob")
	require.NoError(t, err)
	assert.Equal(t, ReconcileStatusRepaired, result)

	own, err := rel.GetRelationship(asUser("alice"), "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, ConnectionAccepted, own.Status)
	assert.True(t, own.UpdatedAt.Equal(later))
}

func TestReconcileAll_CreatesMissingMirrors(t *testing.T) {
	e := newTestEnv(t)
	rel := NewRelationshipService(e.store, e.outbox, &e.cfg.Relationships)
	svc := NewReconcileService(e.store)
	ctx := context.Background()

	for _, other := range []string{"bob", "carol"} {
		_, err := rel.CreateRelationship(asUser("alice"), "alice", other, nil)
		require.NoError(t, err)
	}
	require.NoError(t, e.raw.Delete(ctx, "users/carol/connections/alice_carol"))

	report, err := svc.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 1, report.MirrorsCreated)
	assert.Equal(t, 2, report.InSync)

	mirror, err := rel.GetRelationship(asUser("carol"), "carol", "alice")
	require.NoError(t, err)
	assert.Equal(t, "carol", mirror.OwnerUserID)
	assert.Equal(t, "alice", mirror.InitiatorUserID)

	report, err = svc.ReconcileUser(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, 1, report.InSync)
}
