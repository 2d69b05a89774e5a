package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/siftlabs/kbharvest/internal/config"
	"github.com/siftlabs/kbharvest/internal/types"
)

// ResultRecord is one persisted extraction result. Field names follow the
// upstream API contract, so records written by any backend can be read back
// by the same consumers.
type ResultRecord struct {
	ID                  string    `bson:"_id"                 json:"id"`
	ExtractionRequestID string    `bson:"extractionRequestId" json:"extractionRequestId"`
	Title               string    `bson:"title"               json:"title"`
	Content             string    `bson:"content"             json:"content"`
	ContentType         string    `bson:"contentType"         json:"contentType"`
	SourceURL           string    `bson:"sourceUrl"           json:"sourceUrl"`
	Author              string    `bson:"author"              json:"author"`
	CreatedAt           time.Time `bson:"createdAt"           json:"createdAt"`
}

// NewRecords converts harvested items into result records for a request.
// Each record gets a fresh UUID; the request ID ties the batch together.
func NewRecords(requestID string, items []*types.KBItem) []ResultRecord {
	now := time.Now().UTC()
	records := make([]ResultRecord, len(items))
	for i, item := range items {
		records[i] = ResultRecord{
			ID:                  uuid.NewString(),
			ExtractionRequestID: requestID,
			Title:               item.Title,
			Content:             item.Content,
			ContentType:         item.ContentType,
			SourceURL:           item.SourceURL,
			Author:              item.Author,
			CreatedAt:           now,
		}
	}
	return records
}

// Store is the interface for all persistence backends.
type Store interface {
	// SaveResults persists a batch of extraction results.
	SaveResults(ctx context.Context, records []ResultRecord) error

	// CompleteRequest marks an extraction request as finished. It is
	// called after SaveResults, and also for requests that produced
	// nothing, so consumers can tell "done, empty" from "still running".
	CompleteRequest(ctx context.Context, requestID string) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the storage backend identifier.
	Name() string
}

// New creates the storage backend named by the configuration.
func New(cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch strings.ToLower(cfg.Storage.Type) {
	case "mongo", "mongodb":
		return NewMongoStore(cfg.Storage.URI, cfg.Storage.Database, logger)
	case "sqlite":
		return NewSQLiteStore(cfg.Storage.URI, logger)
	case "file", "jsonl":
		return NewJSONLStore(cfg.Storage.OutputPath, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}
