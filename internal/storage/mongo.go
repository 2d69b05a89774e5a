package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/siftlabs/kbharvest/internal/types"
)

const (
	resultsCollection  = "extraction_results"
	requestsCollection = "extraction_requests"
)

// MongoStore writes extraction results to MongoDB.
type MongoStore struct {
	client   *mongo.Client
	results  *mongo.Collection
	requests *mongo.Collection
	mu       sync.Mutex
	count    int
	logger   *slog.Logger
}

// NewMongoStore connects to MongoDB and verifies the connection.
func NewMongoStore(uri, database string, logger *slog.Logger) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("connect: %w", err)}
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("ping: %w", err)}
	}

	db := client.Database(database)
	return &MongoStore{
		client:   client,
		results:  db.Collection(resultsCollection),
		requests: db.Collection(requestsCollection),
		logger:   logger.With("component", "mongo_store"),
	}, nil
}

func (s *MongoStore) Name() string { return "mongodb" }

func (s *MongoStore) SaveResults(ctx context.Context, records []ResultRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]any, len(records))
	for i, rec := range records {
		docs[i] = rec
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := s.results.InsertMany(ctx, docs); err != nil {
		return &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("insert results: %w", err)}
	}

	s.count += len(records)
	s.logger.Debug("results stored in mongodb", "count", len(records), "total", s.count)
	return nil
}

func (s *MongoStore) CompleteRequest(ctx context.Context, requestID string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	update := bson.M{"$set": bson.M{
		"isCompleted": true,
		"updatedAt":   time.Now().UTC(),
	}}
	// Upsert keeps standalone runs working without a pre-seeded request row.
	_, err := s.requests.UpdateOne(ctx, bson.M{"_id": requestID}, update,
		options.Update().SetUpsert(true))
	if err != nil {
		return &types.StorageError{Backend: "mongodb", Err: fmt.Errorf("complete request: %w", err)}
	}

	s.logger.Debug("request marked complete", "request_id", requestID)
	return nil
}

func (s *MongoStore) Close() error {
	s.logger.Info("mongodb store closing", "total_results", s.count)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
