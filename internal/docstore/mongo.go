package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tradeya/backend/internal/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps every document in one MongoDB collection keyed by path.
// Transactions require a replica set.
type MongoStore struct {
	mongoOps
	client *mongo.Client
}

type mongoDocument struct {
	Path      string    `bson:"_id"`
	Parent    string    `bson:"parent"`
	Group     string    `bson:"group"`
	DocID     string    `bson:"docId"`
	Data      bson.Raw  `bson:"data"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func NewMongoStore(ctx context.Context, cfg *config.MongoConfig) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "parent", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "group", Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create document indexes: %w", err)
	}

	return &MongoStore{mongoOps: mongoOps{coll: coll}, client: client}, nil
}

func (s *MongoStore) RunTransaction(ctx context.Context, fn TxFunc) error {
	session, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, &s.mongoOps)
	})
	return err
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

type mongoOps struct {
	coll *mongo.Collection
}

func (o *mongoOps) Get(ctx context.Context, path string) (*Snapshot, error) {
	if _, err := ParseDoc(path); err != nil {
		return nil, err
	}
	var doc mongoDocument
	if err := o.coll.FindOne(ctx, bson.M{"_id": path}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return snapshotFromMongo(&doc)
}

func (o *mongoOps) Create(ctx context.Context, path string, data interface{}) error {
	ref, err := ParseDoc(path)
	if err != nil {
		return err
	}
	fields, err := toMap(data)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = o.coll.InsertOne(ctx, bson.M{
		"_id":       ref.Path,
		"parent":    ref.Parent,
		"group":     ref.Collection,
		"docId":     ref.ID,
		"data":      fields,
		"createdAt": now,
		"updatedAt": now,
	})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	}
	return err
}

func (o *mongoOps) Set(ctx context.Context, path string, data interface{}) error {
	ref, err := ParseDoc(path)
	if err != nil {
		return err
	}
	fields, err := toMap(data)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"parent":    ref.Parent,
			"group":     ref.Collection,
			"docId":     ref.ID,
			"data":      fields,
			"updatedAt": now,
		},
		"$setOnInsert": bson.M{"createdAt": now},
	}
	_, err = o.coll.UpdateOne(ctx, bson.M{"_id": path}, update, options.Update().SetUpsert(true))
	return err
}

func (o *mongoOps) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	if _, err := ParseDoc(path); err != nil {
		return err
	}
	patch, err := toMap(fields)
	if err != nil {
		return err
	}

	set := bson.M{"updatedAt": time.Now().UTC()}
	for k, v := range patch {
		set["data."+k] = v
	}
	res, err := o.coll.UpdateOne(ctx, bson.M{"_id": path}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (o *mongoOps) Delete(ctx context.Context, path string) error {
	if _, err := ParseDoc(path); err != nil {
		return err
	}
	_, err := o.coll.DeleteOne(ctx, bson.M{"_id": path})
	return err
}

func (o *mongoOps) Query(ctx context.Context, collectionPath string, q Query) ([]*Snapshot, error) {
	if err := ValidateCollection(collectionPath); err != nil {
		return nil, err
	}
	return o.find(ctx, bson.M{"parent": collectionPath}, q)
}

func (o *mongoOps) QueryGroup(ctx context.Context, group string, q Query) ([]*Snapshot, error) {
	if group == "" {
		return nil, fmt.Errorf("%w: empty collection group", ErrInvalidPath)
	}
	return o.find(ctx, bson.M{"group": group}, q)
}

func (o *mongoOps) find(ctx context.Context, filter bson.M, q Query) ([]*Snapshot, error) {
	for _, f := range q.Filters {
		filter["data."+f.Field] = normalizeValue(f.Value)
	}

	cursor, err := o.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var snaps []*Snapshot
	for cursor.Next(ctx) {
		var doc mongoDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		snap, err := snapshotFromMongo(&doc)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return q.apply(snaps), nil
}

func snapshotFromMongo(doc *mongoDocument) (*Snapshot, error) {
	data := map[string]interface{}{}
	if len(doc.Data) > 0 {
		// relaxed extended JSON keeps numbers as plain JSON numbers
		raw, err := bson.MarshalExtJSON(doc.Data, false, false)
		if err != nil {
			return nil, fmt.Errorf("docstore: decode %s: %w", doc.Path, err)
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("docstore: decode %s: %w", doc.Path, err)
		}
	}
	return &Snapshot{
		ID:         doc.DocID,
		Path:       doc.Path,
		Data:       data,
		CreateTime: doc.CreatedAt,
		UpdateTime: doc.UpdatedAt,
	}, nil
}
