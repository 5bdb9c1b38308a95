package cache

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dyike/TradingAgentsGo/models"
)

// MongoStore is the durable tier. It keeps entries forever; freshness is
// decided at read time from created_at.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(ctx context.Context, coll *mongo.Collection) (*MongoStore, error) {
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "category", Value: 1}, {Key: "symbol", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return nil, err
	}
	return &MongoStore{coll: coll}, nil
}

func (m *MongoStore) Name() string { return "mongo" }

func (m *MongoStore) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	var e models.CacheEntry
	err := m.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&e)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMiss
		}
		return nil, err
	}
	return &e, nil
}

// Put replaces the whole document, so a reader sees either the old or the
// new entry.
func (m *MongoStore) Put(ctx context.Context, entry *models.CacheEntry) error {
	_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": entry.Key}, entry, options.Replace().SetUpsert(true))
	return err
}

func (m *MongoStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := m.coll.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": olderThan}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (m *MongoStore) Count(ctx context.Context) (int64, error) {
	return m.coll.CountDocuments(ctx, bson.M{})
}
