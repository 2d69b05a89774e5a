package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/siftlabs/kbharvest/internal/types"
)

// JSONLStore writes results as newline-delimited JSON (one record per
// line, streamed as they arrive). It has no request table; completions
// are recorded as log events only.
type JSONLStore struct {
	path   string
	file   *os.File
	enc    *json.Encoder
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

// NewJSONLStore creates a new JSONL file store, truncating any previous
// output at the same path.
func NewJSONLStore(outputPath string, logger *slog.Logger) (*JSONLStore, error) {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &types.StorageError{Backend: "jsonl", Err: fmt.Errorf("create output dir: %w", err)}
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return nil, &types.StorageError{Backend: "jsonl", Err: fmt.Errorf("create output file: %w", err)}
	}

	return &JSONLStore{
		path:   outputPath,
		file:   f,
		enc:    json.NewEncoder(f),
		logger: logger.With("component", "jsonl_store"),
	}, nil
}

func (s *JSONLStore) Name() string { return "jsonl" }

func (s *JSONLStore) SaveResults(_ context.Context, records []ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		if err := s.enc.Encode(rec); err != nil {
			return &types.StorageError{Backend: "jsonl", Err: fmt.Errorf("encode record: %w", err)}
		}
		s.count++
	}
	return nil
}

func (s *JSONLStore) CompleteRequest(_ context.Context, requestID string) error {
	s.logger.Info("extraction request complete", "request_id", requestID, "results_so_far", s.count)
	return nil
}

func (s *JSONLStore) Close() error {
	s.logger.Info("JSONL written", "path", s.path, "results", s.count)
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
