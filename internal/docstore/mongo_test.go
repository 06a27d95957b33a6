package docstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradeya/backend/internal/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func mockNamespace(mt *mtest.T) string {
	return mt.Coll.Database().Name() + "." + mt.Coll.Name()
}

func storedConnection(id string, data bson.D, created time.Time) bson.D {
	return bson.D{
		{Key: "_id", Value: "users/alice/connections/" + id},
		{Key: "parent", Value: "users/alice/connections"},
		{Key: "group", Value: "connections"},
		{Key: "docId", Value: id},
		{Key: "data", Value: data},
		{Key: "createdAt", Value: created},
		{Key: "updatedAt", Value: created},
	}
}

func TestMongoOps_Mock(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mt.Run("get decodes stored fields", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mockNamespace(mt), mtest.FirstBatch,
			storedConnection("alice_bob", bson.D{
				{Key: "status", Value: "pending"},
				{Key: "xp", Value: int32(3)},
				{Key: "tags", Value: bson.A{"music", "lessons"}},
				{Key: "createdAt", Value: "2024-05-01T10:00:00Z"},
			}, created)))

		snap, err := (&mongoOps{coll: mt.Coll}).Get(ctx, "users/alice/connections/alice_bob")
		require.NoError(mt, err)
		assert.Equal(mt, "alice_bob", snap.ID)
		assert.Equal(mt, "users/alice/connections/alice_bob", snap.Path)
		assert.Equal(mt, "pending", snap.Data["status"])
		assert.Equal(mt, float64(3), snap.Data["xp"])
		assert.Equal(mt, []interface{}{"music", "lessons"}, snap.Data["tags"])
		assert.Equal(mt, "2024-05-01T10:00:00Z", snap.Data["createdAt"])
		assert.True(mt, snap.CreateTime.Equal(created))
	})

	mt.Run("get missing", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mockNamespace(mt), mtest.FirstBatch))

		_, err := (&mongoOps{coll: mt.Coll}).Get(ctx, "users/alice/connections/nobody")
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("create duplicate", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index: 0, Code: 11000, Message: "E11000 duplicate key error",
		}))

		err := (&mongoOps{coll: mt.Coll}).Create(ctx, "users/alice/connections/alice_bob", map[string]interface{}{"status": "pending"})
		assert.ErrorIs(mt, err, ErrAlreadyExists)
	})

	mt.Run("update sets dotted data fields", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))

		err := (&mongoOps{coll: mt.Coll}).Update(ctx, "users/alice/connections/alice_bob", map[string]interface{}{
			"status": "accepted",
		})
		require.NoError(mt, err)

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		assert.Equal(mt, "update", evt.CommandName)
		set := evt.Command.Lookup("updates", "0", "u", "$set").Document()
		assert.Equal(mt, "accepted", set.Lookup("data.status").StringValue())
		_, err = set.LookupErr("data")
		assert.Error(mt, err, "the whole data field must not be replaced")
		_, err = set.LookupErr("updatedAt")
		assert.NoError(mt, err)
	})

	mt.Run("update missing", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))

		err := (&mongoOps{coll: mt.Coll}).Update(ctx, "users/alice/connections/nobody", map[string]interface{}{"status": "accepted"})
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("query pushes filters down", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mockNamespace(mt), mtest.FirstBatch,
			storedConnection("alice_bob", bson.D{
				{Key: "status", Value: "accepted"}, {Key: "xp", Value: int32(3)}, {Key: "rank", Value: int32(1)},
			}, created),
			storedConnection("alice_dave", bson.D{
				{Key: "status", Value: "accepted"}, {Key: "xp", Value: int32(3)}, {Key: "rank", Value: int32(2)},
			}, created.Add(time.Hour)),
		))

		snaps, err := (&mongoOps{coll: mt.Coll}).Query(ctx, "users/alice/connections",
			Query{}.Where("status", "accepted").Where("xp", 3).Order("rank", true))
		require.NoError(mt, err)
		require.Len(mt, snaps, 2)
		assert.Equal(mt, "alice_dave", snaps[0].ID)
		assert.Equal(mt, "alice_bob", snaps[1].ID)

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		filter := evt.Command.Lookup("filter").Document()
		assert.Equal(mt, "users/alice/connections", filter.Lookup("parent").StringValue())
		assert.Equal(mt, "accepted", filter.Lookup("data.status").StringValue())
		assert.Equal(mt, float64(3), filter.Lookup("data.xp").Double())
	})

	mt.Run("group query filters on group", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mockNamespace(mt), mtest.FirstBatch))

		snaps, err := (&mongoOps{coll: mt.Coll}).QueryGroup(ctx, "connections", Query{})
		require.NoError(mt, err)
		assert.Empty(mt, snaps)

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		assert.Equal(mt, "connections", evt.Command.Lookup("filter", "group").StringValue())
	})
}

// TestMongoStore_Contract needs a replica set for transactions, for example
// MONGO_URI=mongodb://localhost:27017/?replicaSet=rs0.
func TestMongoStore_Contract(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}

	ctx := context.Background()
	store, err := NewMongoStore(ctx, &config.MongoConfig{
		URI:        uri,
		Database:   "tradeya_test",
		Collection: fmt.Sprintf("documents_%d", time.Now().UnixNano()),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.coll.Drop(context.Background())
		_ = store.Close()
	})

	testStoreContract(t, store)
}
