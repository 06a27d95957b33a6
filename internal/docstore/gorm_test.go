package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradeya/backend/internal/models"
	"github.com/tradeya/backend/internal/testutil"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

type connection struct {
	ID                string    `json:"id"`
	OwnerUserID       string    `json:"ownerUserId"`
	CounterpartUserID string    `json:"counterpartUserId"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"createdAt"`
}

func newTestStore(t *testing.T) *GormStore {
	return NewGormStore(testutil.NewDB(t))
}

func TestGormStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	path := "users/alice/connections/alice_bob"
	require.NoError(t, store.Create(ctx, path, connection{
		ID: "alice_bob", OwnerUserID: "alice", CounterpartUserID: "bob", Status: "pending", CreatedAt: created,
	}))

	snap, err := store.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "alice_bob", snap.ID)
	assert.Equal(t, path, snap.Path)
	assert.Equal(t, "pending", snap.Data["status"])

	var got connection
	require.NoError(t, snap.DataTo(&got))
	assert.True(t, got.CreatedAt.Equal(created))
	assert.Equal(t, "bob", got.CounterpartUserID)
}

func TestGormStore_CreateExisting(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	path := "trades/t1"
	require.NoError(t, store.Create(ctx, path, map[string]interface{}{"title": "first"}))
	err := store.Create(ctx, path, map[string]interface{}{"title": "second"})
	assert.True(t, errors.Is(err, ErrAlreadyExists), "got %v", err)

	snap, err := store.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "first", snap.Data["title"])
}

func TestGormStore_GetMissing(t *testing.T) {
	_, err := newTestStore(t).Get(context.Background(), "trades/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStore_InvalidPaths(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Get(ctx, "trades")
	assert.ErrorIs(t, err, ErrInvalidPath)
	assert.ErrorIs(t, store.Create(ctx, "users//connections/x", nil), ErrInvalidPath)
	_, err = store.Query(ctx, "users/alice", Query{})
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestGormStore_UpdateMergesFields(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	path := "trades/t1"
	require.NoError(t, store.Create(ctx, path, map[string]interface{}{"title": "guitar lessons", "status": "open"}))
	require.NoError(t, store.Update(ctx, path, map[string]interface{}{"status": "proposed"}))

	snap, err := store.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "proposed", snap.Data["status"])
	assert.Equal(t, "guitar lessons", snap.Data["title"])

	assert.ErrorIs(t, store.Update(ctx, "trades/missing", map[string]interface{}{"a": 1}), ErrNotFound)
}

func TestGormStore_SetUpserts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	path := "users/alice/portfolio/trade_t1"
	require.NoError(t, store.Set(ctx, path, map[string]interface{}{"title": "v1"}))
	first, err := store.Get(ctx, path)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, path, map[string]interface{}{"title": "v2"}))
	second, err := store.Get(ctx, path)
	require.NoError(t, err)

	assert.Equal(t, "v2", second.Data["title"])
	assert.True(t, second.CreateTime.Equal(first.CreateTime), "create time must survive a replace")
}

func TestGormStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	path := "trades/t1"
	require.NoError(t, store.Create(ctx, path, map[string]interface{}{"title": "x"}))
	require.NoError(t, store.Delete(ctx, path))
	require.NoError(t, store.Delete(ctx, path))

	_, err := store.Get(ctx, path)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStore_QueryFiltersSortsLimits(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seed := []struct {
		id, counterpart, status string
		offset                  time.Duration
		xp                      int
	}{
		{"alice_bob", "bob", "accepted", 2 * time.Hour, 10},
		{"carol_alice", "carol", "pending", 1 * time.Hour, 20},
		{"alice_dave", "dave", "accepted", 3 * time.Hour, 20},
	}
	for _, s := range seed {
		require.NoError(t, store.Create(ctx, "users/alice/connections/"+s.id, map[string]interface{}{
			"counterpartUserId": s.counterpart,
			"status":            s.status,
			"createdAt":         base.Add(s.offset),
			"xp":                s.xp,
		}))
	}
	// same group name under a different parent must not leak into Query
	require.NoError(t, store.Create(ctx, "users/bob/connections/alice_bob", map[string]interface{}{
		"counterpartUserId": "alice", "status": "accepted",
	}))

	accepted, err := store.Query(ctx, "users/alice/connections", Query{}.Where("status", "accepted").Order("createdAt", true))
	require.NoError(t, err)
	require.Len(t, accepted, 2)
	assert.Equal(t, "alice_dave", accepted[0].ID)
	assert.Equal(t, "alice_bob", accepted[1].ID)

	byXP, err := store.Query(ctx, "users/alice/connections", Query{}.Where("xp", 20))
	require.NoError(t, err)
	assert.Len(t, byXP, 2)

	limited, err := store.Query(ctx, "users/alice/connections", Query{}.Order("createdAt", false).Take(1))
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "carol_alice", limited[0].ID)

	group, err := store.QueryGroup(ctx, "connections", Query{}.Where("status", "accepted"))
	require.NoError(t, err)
	assert.Len(t, group, 3)
}

func TestGormStore_TransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	boom := errors.New("second write failed")
	err := store.RunTransaction(ctx, func(ctx context.Context, tx Ops) error {
		if err := tx.Create(ctx, "users/alice/connections/alice_bob", map[string]interface{}{"status": "pending"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.Get(ctx, "users/alice/connections/alice_bob")
	assert.ErrorIs(t, err, ErrNotFound, "first write must not survive a failed transaction")
}

func TestGormStore_TransactionCommits(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	err := store.RunTransaction(ctx, func(ctx context.Context, tx Ops) error {
		if err := tx.Create(ctx, "users/alice/connections/alice_bob", map[string]interface{}{"status": "pending"}); err != nil {
			return err
		}
		snap, err := tx.Get(ctx, "users/alice/connections/alice_bob")
		if err != nil {
			return err
		}
		return tx.Create(ctx, "users/bob/connections/alice_bob", snap.Data)
	})
	require.NoError(t, err)

	for _, p := range []string{"users/alice/connections/alice_bob", "users/bob/connections/alice_bob"} {
		_, err := store.Get(ctx, p)
		assert.NoError(t, err, p)
	}
}

func TestGormOps_LocksRowsInTransactions(t *testing.T) {
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "tradeya:tradeya@tcp(127.0.0.1:3306)/tradeya?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)
	assert.True(t, rowLocking(db))

	ctx := context.Background()
	var docs []models.Document

	locked := (&gormOps{db: db, forUpdate: true}).lookup(ctx, "trades/t1").Find(&docs)
	require.NoError(t, locked.Error)
	assert.Contains(t, locked.Statement.SQL.String(), "FOR UPDATE")

	plain := (&gormOps{db: db}).lookup(ctx, "trades/t1").Find(&docs)
	require.NoError(t, plain.Error)
	assert.NotContains(t, plain.Statement.SQL.String(), "FOR UPDATE")
}

func TestGormOps_SQLiteSkipsRowLocks(t *testing.T) {
	db := testutil.NewDB(t)
	assert.False(t, rowLocking(db))

	// reads inside a transaction still see the transaction's own writes
	store := NewGormStore(db)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "trades/t1", map[string]interface{}{"status": "pending-confirmation"}))
	err := store.RunTransaction(ctx, func(ctx context.Context, tx Ops) error {
		if err := tx.Update(ctx, "trades/t1", map[string]interface{}{"status": "completed"}); err != nil {
			return err
		}
		snap, err := tx.Get(ctx, "trades/t1")
		if err != nil {
			return err
		}
		assert.Equal(t, "completed", snap.Data["status"])
		return nil
	})
	require.NoError(t, err)
}

func TestGormStore_Contract(t *testing.T) {
	testStoreContract(t, newTestStore(t))
}
