package storage

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dyike/TradingAgentsGo/models"
)

// ReportStore is the durable mirror of the results directory.
type ReportStore interface {
	Save(ctx context.Context, b *models.ReportBundle) error
	ListRecent(ctx context.Context, limit int) ([]*models.ReportBundle, error)
}

// MongoReportStore keeps one document per (ticker, analysis_date, run_id).
type MongoReportStore struct {
	coll *mongo.Collection
}

func NewMongoReportStore(coll *mongo.Collection) *MongoReportStore {
	return &MongoReportStore{coll: coll}
}

// EnsureIndexes creates the unique key and the recency index.
func (s *MongoReportStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "ticker", Value: 1}, {Key: "analysis_date", Value: 1}, {Key: "run_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "completed_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create report indexes: %w", err)
	}
	return nil
}

func reportFilter(b *models.ReportBundle) bson.M {
	return bson.M{"ticker": b.Ticker, "analysis_date": b.AnalysisDate, "run_id": b.RunID}
}

func (s *MongoReportStore) Save(ctx context.Context, b *models.ReportBundle) error {
	_, err := s.coll.ReplaceOne(ctx, reportFilter(b), b, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save report %s: %w", b.RunID, err)
	}
	return nil
}

func (s *MongoReportStore) ListRecent(ctx context.Context, limit int) ([]*models.ReportBundle, error) {
	if limit <= 0 {
		limit = 20
	}
	opts := options.Find().SetSort(bson.D{{Key: "completed_at", Value: -1}}).SetLimit(int64(limit))
	cur, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer cur.Close(ctx)

	var out []*models.ReportBundle
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode reports: %w", err)
	}
	return out, nil
}
