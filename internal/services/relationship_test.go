package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradeya/backend/internal/config"
	"github.com/tradeya/backend/internal/docstore"
	"github.com/tradeya/backend/internal/rules"
)

func newRelationshipService(e *testEnv, store docstore.Store) *RelationshipService {
	return NewRelationshipService(store, e.outbox, &e.cfg.Relationships)
}

func TestCreateRelationship_WritesBothHalves(t *testing.T) {
	e := newTestEnv(t)
	svc := newRelationshipService(e, e.store)

	conn, err := svc.CreateRelationship(asUser("alice"), "alice", "bob", &CreateConnectionRequest{Message: " hi <b>bob</b> "})
	require.NoError(t, err)
	assert.Equal(t, "alice_bob", conn.ID)
	assert.Equal(t, ConnectionPending, conn.Status)
	assert.Equal(t, "hi bob", conn.Message)

	own, err := svc.GetRelationship(asUser("alice"), "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", own.CounterpartUserID)

	mirror, err := svc.GetRelationship(asUser("bob"), "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, "bob", mirror.OwnerUserID)
	assert.Equal(t, "alice", mirror.CounterpartUserID)
	assert.Equal(t, "alice", mirror.InitiatorUserID)
	assert.Equal(t, own.CreatedAt, mirror.CreatedAt)

	assert.Len(t, e.eventsOf(t, EventRelationshipCreated), 1)
}

func TestCreateRelationship_RejectsDuplicatesAndSelf(t *testing.T) {
	e := newTestEnv(t)
	svc := newRelationshipService(e, e.store)

	_, err := svc.CreateRelationship(asUser("alice"), "alice", "alice", nil)
	assert.ErrorIs(t, err, ErrSelfRelationship)

	_, err = svc.CreateRelationship(asUser("alice"), "alice", "bob", nil)
	require.NoError(t, err)

	_, err = svc.CreateRelationship(asUser("alice"), "alice", "bob", nil)
	assert.ErrorIs(t, err, ErrRelationshipExists)

	// the reverse request finds alice's half in bob's subcollection
	_, err = svc.CreateRelationship(asUser("bob"), "bob", "alice", nil)
	assert.ErrorIs(t, err, ErrRelationshipExists)
}

func TestCreateRelationship_CannotActForSomeoneElse(t *testing.T) {
	e := newTestEnv(t)
	svc := newRelationshipService(e, e.store)

	_, err := svc.CreateRelationship(asUser("mallory"), "alice", "bob", nil)
	assert.ErrorIs(t, err, rules.ErrPermissionDenied)
	assert.False(t, e.exists(t, "users/alice/connections/alice_bob"))
}

func TestCreateRelationship_TransactionalRollsBackBothHalves(t *testing.T) {
	e := newTestEnv(t)
	failing := &failingStore{Store: e.store, failPath: "users/bob/connections/alice_bob"}
	svc := newRelationshipService(e, failing)

	_, err := svc.CreateRelationship(asUser("alice"), "alice", "bob", nil)
	assert.ErrorIs(t, err, errInjected)

	assert.False(t, e.exists(t, "users/alice/connections/alice_bob"))
	assert.False(t, e.exists(t, "users/bob/connections/alice_bob"))
	assert.Empty(t, e.eventsOf(t, EventRelationshipCreated))
}

func TestCreateRelationship_DualWriteReportsPartialWrite(t *testing.T) {
	e := newTestEnv(t)
	e.cfg.Relationships.WriteMode = config.WriteModeDualWrite
	failing := &failingStore{Store: e.store, failPath: "users/bob/connections/alice_bob"}
	svc := newRelationshipService(e, failing)

	conn, err := svc.CreateRelationship(asUser("alice"), "alice", "bob", nil)
	require.NotNil(t, conn, "the written half is returned with the partial write")
	assert.Equal(t, "alice_bob", conn.ID)

	var partial *PartialWriteError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, []string{"users/alice/connections/alice_bob"}, partial.Written)
	assert.Equal(t, []string{"users/bob/connections/alice_bob"}, partial.Missing)
	assert.ErrorIs(t, err, errInjected)

	assert.True(t, e.exists(t, "users/alice/connections/alice_bob"))
	assert.False(t, e.exists(t, "users/bob/connections/alice_bob"))
	assert.Len(t, e.eventsOf(t, EventRelationshipPartialWrite), 1)
}

func TestCreateRelationship_DualWriteFailuresReturnNoConnection(t *testing.T) {
	e := newTestEnv(t)
	e.cfg.Relationships.WriteMode = config.WriteModeDualWrite
	svc := newRelationshipService(e, e.store)

	conn, err := svc.CreateRelationship(asUser("alice"), "alice", "bob", nil)
	require.NoError(t, err)
	require.NotNil(t, conn)

	conn, err = svc.CreateRelationship(asUser("alice"), "alice", "bob", nil)
	assert.ErrorIs(t, err, ErrRelationshipExists)
	assert.Nil(t, conn)

	conn, err = svc.CreateRelationship(asUser("mallory"), "carol", "dave", nil)
	assert.ErrorIs(t, err, rules.ErrPermissionDenied)
	assert.Nil(t, conn)

	failing := &failingStore{Store: e.store, failPath: "users/carol/connections/carol_dave"}
	conn, err = newRelationshipService(e, failing).CreateRelationship(asUser("carol"), "carol", "dave", nil)
	assert.ErrorIs(t, err, errInjected)
	assert.Nil(t, conn, "nothing was written")
}

func TestUpdateRelationshipStatus_UpdatesBothHalves(t *testing.T) {
	e := newTestEnv(t)
	svc := newRelationshipService(e, e.store)
	_, err := svc.CreateRelationship(asUser("alice"), "alice", "bob", nil)
	require.NoError(t, err)

	res, err := svc.UpdateRelationshipStatus(asUser("bob"), "bob", "alice", ConnectionAccepted)
	require.NoError(t, err)
	assert.Equal(t, 1, res.MirrorsUpdated)
	assert.False(t, res.MirrorMissing)
	assert.Equal(t, ConnectionAccepted, res.Connection.Status)

	for _, path := range []string{"users/alice/connections/alice_bob", "users/bob/connections/alice_bob"} {
		snap, err := e.raw.Get(context.Background(), path)
		require.NoError(t, err)
		assert.Equal(t, ConnectionAccepted, snap.Data["status"], path)
	}
	assert.Len(t, e.eventsOf(t, EventRelationshipAccepted), 1)
}

func TestUpdateRelationshipStatus_InitiatorCannotAccept(t *testing.T) {
	e := newTestEnv(t)
	svc := newRelationshipService(e, e.store)
	_, err := svc.CreateRelationship(asUser("alice"), "alice", "bob", nil)
	require.NoError(t, err)

	_, err = svc.UpdateRelationshipStatus(asUser("alice"), "alice", "bob", ConnectionAccepted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// withdrawing is a rejection and stays allowed
	_, err = svc.UpdateRelationshipStatus(asUser("alice"), "alice", "bob", ConnectionRejected)
	assert.NoError(t, err)
}

func TestUpdateRelationshipStatus_OnlyFromPending(t *testing.T) {
	e := newTestEnv(t)
	svc := newRelationshipService(e, e.store)
	_, err := svc.CreateRelationship(asUser("alice"), "alice", "bob", nil)
	require.NoError(t, err)
	_, err = svc.UpdateRelationshipStatus(asUser("bob"), "bob", "alice", ConnectionAccepted)
	require.NoError(t, err)

	_, err = svc.UpdateRelationshipStatus(asUser("bob"), "bob", "alice", ConnectionRejected)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.UpdateRelationshipStatus(asUser("bob"), "bob", "alice", "blocked")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdateRelationshipStatus_StrangerIsDenied(t *testing.T) {
	e := newTestEnv(t)
	svc := newRelationshipService(e, e.store)
	_, err := svc.CreateRelationship(asUser("alice"), "alice", "bob", nil)
	require.NoError(t, err)

	_, err = svc.UpdateRelationshipStatus(asUser("mallory"), "bob", "alice", ConnectionAccepted)
	assert.ErrorIs(t, err, rules.ErrPermissionDenied)
}

func TestUpdateRelationshipStatus_MissingMirror(t *testing.T) {
	e := newTestEnv(t)
	svc := newRelationshipService(e, e.store)
	_, err := svc.CreateRelationship(asUser("alice"), "alice", "bob", nil)
	require.NoError(t, err)
	require.NoError(t, e.raw.Delete(context.Background(), "users/alice/connections/alice_bob"))

	res, err := svc.UpdateRelationshipStatus(asUser("bob"), "bob", "alice", ConnectionAccepted)
	require.NoError(t, err)
	assert.True(t, res.MirrorMissing)
	assert.Zero(t, res.MirrorsUpdated)

	snap, err := e.raw.Get(context.Background(), "users/bob/connections/alice_bob")
	require.NoError(t, err)
	assert.Equal(t, ConnectionAccepted, snap.Data["status"])

	missing := e.eventsOf(t, EventRelationshipMirrorMissing)
	require.Len(t, missing, 1)
	var payload RelationshipEvent
	require.NoError(t, missing[0].Decode(&payload))
	assert.Equal(t, "bob", payload.OwnerUserID)
	assert.Equal(t, "alice_bob", payload.ConnectionID)
}

func TestUpdateRelationshipStatus_DeletePolicy(t *testing.T) {
	e := newTestEnv(t)
	e.cfg.Relationships.RejectPolicy = config.RejectPolicyDelete
	svc := newRelationshipService(e, e.store)
	_, err := svc.CreateRelationship(asUser("alice"), "alice", "bob", nil)
	require.NoError(t, err)

	res, err := svc.UpdateRelationshipStatus(asUser("bob"), "bob", "alice", ConnectionRejected)
	require.NoError(t, err)
	assert.True(t, res.Deleted)
	assert.False(t, e.exists(t, "users/alice/connections/alice_bob"))
	assert.False(t, e.exists(t, "users/bob/connections/alice_bob"))
}

func TestRemoveRelationship_DeletesBothHalves(t *testing.T) {
	e := newTestEnv(t)
	svc := newRelationshipService(e, e.store)
	_, err := svc.CreateRelationship(asUser("alice"), "alice", "bob", nil)
	require.NoError(t, err)

	require.NoError(t, svc.RemoveRelationship(asUser("bob"), "bob", "alice"))
	assert.False(t, e.exists(t, "users/alice/connections/alice_bob"))
	assert.False(t, e.exists(t, "users/bob/connections/alice_bob"))
}

func TestListRelationships_FiltersByStatus(t *testing.T) {
	e := newTestEnv(t)
	svc := newRelationshipService(e, e.store)
	for _, other := range []string{"bob", "carol"} {
		_, err := svc.CreateRelationship(asUser("alice"), "alice", other, nil)
		require.NoError(t, err)
	}
	_, err := svc.UpdateRelationshipStatus(asUser("bob"), "bob", "alice", ConnectionAccepted)
	require.NoError(t, err)

	all, err := svc.ListRelationships(asUser("alice"), "alice", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	accepted, err := svc.ListRelationships(asUser("alice"), "alice", ConnectionAccepted)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, "bob", accepted[0].CounterpartUserID)

	_, err = svc.ListRelationships(asUser("mallory"), "alice", "")
	assert.ErrorIs(t, err, rules.ErrPermissionDenied)
}
