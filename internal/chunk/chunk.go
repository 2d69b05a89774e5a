// Package chunk splits oversized knowledge items into smaller same-shaped
// records so downstream consumers never see a body above the chunk size.
package chunk

import (
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/siftlabs/kbharvest/internal/types"
)

const (
	DefaultChunkSize    = 2000
	DefaultChunkOverlap = 200
)

// Splitter cuts item bodies that exceed the chunk size into overlapping
// parts. Each part keeps the source item's metadata and gets a numbered
// "(Part N)" title; items that already fit pass through untouched.
type Splitter struct {
	size     int
	splitter textsplitter.RecursiveCharacter
	logger   *slog.Logger
}

// NewSplitter creates a Splitter. Out-of-range arguments fall back to the
// defaults.
func NewSplitter(size, overlap int, logger *slog.Logger) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 10
		}
	}
	return &Splitter{
		size: size,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		),
		logger: logger.With("component", "chunker"),
	}
}

// Split returns the item untouched when its body fits, or its parts
// otherwise. The input item is never mutated.
func (s *Splitter) Split(item *types.KBItem) []*types.KBItem {
	if len(item.Content) <= s.size {
		return []*types.KBItem{item}
	}

	chunks, err := s.splitter.SplitText(item.Content)
	if err != nil || len(chunks) == 0 {
		s.logger.Warn("text split failed, keeping item whole",
			"title", item.Title, "size", len(item.Content), "error", err)
		return []*types.KBItem{item}
	}

	s.logger.Debug("item chunked", "title", item.Title, "parts", len(chunks))
	parts := make([]*types.KBItem, 0, len(chunks))
	for i, chunk := range chunks {
		part := item.Clone()
		part.Title = fmt.Sprintf("%s (Part %d)", item.Title, i+1)
		part.Content = chunk
		parts = append(parts, part)
	}
	return parts
}

// SplitAll applies Split across a batch, preserving order.
func (s *Splitter) SplitAll(items []*types.KBItem) []*types.KBItem {
	out := make([]*types.KBItem, 0, len(items))
	for _, item := range items {
		out = append(out, s.Split(item)...)
	}
	return out
}
