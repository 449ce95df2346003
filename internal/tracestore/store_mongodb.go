package tracestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrPartialWrite indicates that a batch write only partially succeeded.
var ErrPartialWrite = errors.New("partial write failure")

// PartialWriteError reports how many records of a bulk insert failed.
type PartialWriteError struct {
	TotalRecords int
	FailedCount  int
	Cause        mongo.BulkWriteException
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial span insert: %d of %d records failed: %v",
		e.FailedCount, e.TotalRecords, e.Cause.Error())
}

func (e *PartialWriteError) Unwrap() error {
	return ErrPartialWrite
}

// MongoDBStore implements Store for MongoDB. Expiry is handled by a TTL index
// on end_time rather than a cleanup loop.
type MongoDBStore struct {
	collection *mongo.Collection
}

// NewMongoDBStore ensures indexes on the spans collection.
func NewMongoDBStore(ctx context.Context, database *mongo.Database, retentionDays int) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}

	collection := database.Collection("spans")

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "trace_id", Value: 1}, {Key: "start_time", Value: 1}}},
		{Keys: bson.D{{Key: "entity_kind", Value: 1}, {Key: "workflow_name", Value: 1}, {Key: "start_time", Value: -1}}},
	}

	// a field can carry only one index when that index is TTL
	endTime := mongo.IndexModel{Keys: bson.D{{Key: "end_time", Value: -1}}}
	if retentionDays > 0 {
		endTime.Options = options.Index().SetExpireAfterSeconds(int32(int64(retentionDays) * 24 * 60 * 60))
	}
	indexes = append(indexes, endTime)

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		slog.Warn("failed to create some MongoDB indexes for spans", "error", err)
	}

	return &MongoDBStore{collection: collection}, nil
}

// WriteBatch inserts records unordered so one duplicate does not stop the rest.
func (s *MongoDBStore) WriteBatch(ctx context.Context, records []*SpanRecord) error {
	if len(records) == 0 {
		return nil
	}

	docs := make([]any, len(records))
	for i, r := range records {
		docs[i] = r
	}

	_, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		var bulkErr mongo.BulkWriteException
		if errors.As(err, &bulkErr) {
			failed := len(bulkErr.WriteErrors)
			slog.Warn("partial span insert failure",
				"total", len(records),
				"failed", failed,
			)
			return &PartialWriteError{
				TotalRecords: len(records),
				FailedCount:  failed,
				Cause:        bulkErr,
			}
		}
		return fmt.Errorf("failed to insert spans: %w", err)
	}
	return nil
}

// Flush is a no-op for MongoDB as writes are synchronous.
func (s *MongoDBStore) Flush(_ context.Context) error {
	return nil
}

// Close is a no-op; the client is owned by the storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}
