package tracestore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoDBReader implements Reader for MongoDB.
type MongoDBReader struct {
	collection *mongo.Collection
}

// NewMongoDBReader creates a new MongoDB span reader.
func NewMongoDBReader(database *mongo.Database) (*MongoDBReader, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &MongoDBReader{collection: database.Collection("spans")}, nil
}

func (r *MongoDBReader) GetTrace(ctx context.Context, traceID string) ([]*SpanRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}})
	return r.find(ctx, bson.D{{Key: "trace_id", Value: traceID}}, opts)
}

func (r *MongoDBReader) ListRuns(ctx context.Context, q RunQuery) ([]*SpanRecord, error) {
	filter := bson.D{{Key: "entity_kind", Value: "workflow"}}
	if q.Workflow != "" {
		filter = append(filter, bson.E{Key: "workflow_name", Value: q.Workflow})
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "start_time", Value: -1}}).
		SetLimit(int64(clampLimit(q.Limit)))
	return r.find(ctx, filter, opts)
}

func (r *MongoDBReader) find(ctx context.Context, filter bson.D, opts *options.FindOptionsBuilder) ([]*SpanRecord, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query spans: %w", err)
	}
	defer cursor.Close(ctx)

	out := make([]*SpanRecord, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode spans: %w", err)
	}
	return out, nil
}
