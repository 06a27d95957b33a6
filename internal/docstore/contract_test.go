package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStoreContract runs the behaviour every backend must share. Each
// subtest writes under its own root collection so one store can serve all.
func testStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		path := "cg_users/alice/connections/alice_bob"
		require.NoError(t, store.Create(ctx, path, map[string]interface{}{
			"counterpartUserId": "bob", "status": "pending", "xp": 3,
			"createdAt": time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		}))

		snap, err := store.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "alice_bob", snap.ID)
		assert.Equal(t, path, snap.Path)
		assert.Equal(t, "pending", snap.Data["status"])
		assert.Equal(t, float64(3), snap.Data["xp"])
		assert.False(t, snap.CreateTime.IsZero())

		err = store.Create(ctx, path, map[string]interface{}{"status": "accepted"})
		assert.ErrorIs(t, err, ErrAlreadyExists)

		_, err = store.Get(ctx, "cg_users/alice/connections/missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update merges fields", func(t *testing.T) {
		path := "upd_trades/t1"
		require.NoError(t, store.Create(ctx, path, map[string]interface{}{"title": "guitar lessons", "status": "open"}))
		require.NoError(t, store.Update(ctx, path, map[string]interface{}{"status": "proposed", "participantId": "bob"}))

		snap, err := store.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "proposed", snap.Data["status"])
		assert.Equal(t, "bob", snap.Data["participantId"])
		assert.Equal(t, "guitar lessons", snap.Data["title"])

		assert.ErrorIs(t, store.Update(ctx, "upd_trades/missing", map[string]interface{}{"a": 1}), ErrNotFound)
	})

	t.Run("set replaces and keeps create time", func(t *testing.T) {
		path := "set_users/alice/portfolio/trade_t1"
		require.NoError(t, store.Set(ctx, path, map[string]interface{}{"title": "v1", "visible": true}))
		first, err := store.Get(ctx, path)
		require.NoError(t, err)

		require.NoError(t, store.Set(ctx, path, map[string]interface{}{"title": "v2"}))
		second, err := store.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "v2", second.Data["title"])
		assert.True(t, second.CreateTime.Equal(first.CreateTime))
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		path := "del_trades/t1"
		require.NoError(t, store.Create(ctx, path, map[string]interface{}{"title": "x"}))
		require.NoError(t, store.Delete(ctx, path))
		require.NoError(t, store.Delete(ctx, path))
		_, err := store.Get(ctx, path)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("query filters sorts and limits", func(t *testing.T) {
		seed := []struct {
			id, status string
			rank       int
		}{
			{"alice_bob", "accepted", 2},
			{"carol_alice", "pending", 1},
			{"alice_dave", "accepted", 3},
		}
		for _, s := range seed {
			require.NoError(t, store.Create(ctx, "q_users/alice/qconnections/"+s.id, map[string]interface{}{
				"status": s.status, "rank": s.rank,
			}))
		}
		require.NoError(t, store.Create(ctx, "q_users/bob/qconnections/alice_bob", map[string]interface{}{
			"status": "accepted", "rank": 9,
		}))

		accepted, err := store.Query(ctx, "q_users/alice/qconnections", Query{}.Where("status", "accepted").Order("rank", true))
		require.NoError(t, err)
		require.Len(t, accepted, 2)
		assert.Equal(t, "alice_dave", accepted[0].ID)
		assert.Equal(t, "alice_bob", accepted[1].ID)

		byRank, err := store.Query(ctx, "q_users/alice/qconnections", Query{}.Where("rank", 1))
		require.NoError(t, err)
		require.Len(t, byRank, 1)
		assert.Equal(t, "carol_alice", byRank[0].ID)

		limited, err := store.Query(ctx, "q_users/alice/qconnections", Query{}.Order("rank", false).Take(1))
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, "carol_alice", limited[0].ID)

		group, err := store.QueryGroup(ctx, "qconnections", Query{}.Where("status", "accepted"))
		require.NoError(t, err)
		assert.Len(t, group, 3)
	})

	t.Run("transaction rolls back", func(t *testing.T) {
		boom := errors.New("second write failed")
		err := store.RunTransaction(ctx, func(ctx context.Context, tx Ops) error {
			if err := tx.Create(ctx, "txr_users/alice/connections/alice_bob", map[string]interface{}{"status": "pending"}); err != nil {
				return err
			}
			return boom
		})
		assert.True(t, errors.Is(err, boom), "got %v", err)

		_, err = store.Get(ctx, "txr_users/alice/connections/alice_bob")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("transaction commits", func(t *testing.T) {
		err := store.RunTransaction(ctx, func(ctx context.Context, tx Ops) error {
			if err := tx.Create(ctx, "txc_users/alice/connections/alice_bob", map[string]interface{}{"status": "pending"}); err != nil {
				return err
			}
			snap, err := tx.Get(ctx, "txc_users/alice/connections/alice_bob")
			if err != nil {
				return err
			}
			return tx.Create(ctx, "txc_users/bob/connections/alice_bob", snap.Data)
		})
		require.NoError(t, err)

		for _, p := range []string{"txc_users/alice/connections/alice_bob", "txc_users/bob/connections/alice_bob"} {
			_, err := store.Get(ctx, p)
			assert.NoError(t, err, p)
		}
	})
}
