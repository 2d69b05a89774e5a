// Package pipeline post-processes harvested items before they are
// persisted: a small middleware chain where each processor can modify
// or drop an item.
package pipeline

import (
	"log/slog"
	"strings"

	"github.com/siftlabs/kbharvest/internal/types"
)

// Processor transforms an item and returns the (possibly modified)
// item. Return nil to drop the item from the pipeline.
type Processor interface {
	// Name returns the processor's identifier.
	Name() string

	// Process transforms an item. Return nil to drop the item.
	Process(item *types.KBItem) (*types.KBItem, error)
}

// Pipeline chains processors together.
type Pipeline struct {
	processors []Processor
	logger     *slog.Logger
}

// New creates a new Pipeline.
func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		logger: logger.With("component", "pipeline"),
	}
}

// Default returns the pipeline every output path runs: whitespace
// trimming, empty-content dropping, and title capping.
func Default(logger *slog.Logger) *Pipeline {
	p := New(logger)
	p.Use(&Trim{})
	p.Use(&RequireContent{})
	p.Use(&TitleLimit{Max: DefaultTitleLimit})
	return p
}

// Use adds a processor to the pipeline chain.
func (p *Pipeline) Use(proc Processor) {
	p.processors = append(p.processors, proc)
	p.logger.Debug("processor added", "name", proc.Name(), "position", len(p.processors))
}

// Process runs the item through all processors in order. A nil result
// with nil error means the item was dropped.
func (p *Pipeline) Process(item *types.KBItem) (*types.KBItem, error) {
	current := item

	for _, proc := range p.processors {
		result, err := proc.Process(current)
		if err != nil {
			return nil, &types.PipelineError{
				Stage:     proc.Name(),
				SourceURL: item.SourceURL,
				Err:       err,
			}
		}
		if result == nil {
			p.logger.Debug("item dropped", "stage", proc.Name(), "source_url", item.SourceURL)
			return nil, nil
		}
		current = result
	}

	return current, nil
}

// ProcessAll runs a batch through the pipeline, keeping surviving items
// in order. Processor errors drop the item and are logged, not fatal:
// one bad item must not sink the batch.
func (p *Pipeline) ProcessAll(items []*types.KBItem) []*types.KBItem {
	out := make([]*types.KBItem, 0, len(items))
	for _, item := range items {
		result, err := p.Process(item)
		if err != nil {
			p.logger.Warn("pipeline error", "error", err)
			continue
		}
		if result != nil {
			out = append(out, result)
		}
	}
	return out
}

// Len returns the number of processors in the chain.
func (p *Pipeline) Len() int {
	return len(p.processors)
}

// --- Built-in Processors ---

// DefaultTitleLimit caps titles at a length every downstream store
// accepts.
const DefaultTitleLimit = 300

// Trim trims whitespace from the item's text fields.
type Trim struct{}

func (m *Trim) Name() string { return "trim" }

func (m *Trim) Process(item *types.KBItem) (*types.KBItem, error) {
	item.Title = strings.TrimSpace(item.Title)
	item.Content = strings.TrimSpace(item.Content)
	item.Author = strings.TrimSpace(item.Author)
	return item, nil
}

// RequireContent drops items whose content is empty. Extraction already
// skips empty pages; this guards the same rule at the persistence
// boundary for every producer.
type RequireContent struct{}

func (m *RequireContent) Name() string { return "require_content" }

func (m *RequireContent) Process(item *types.KBItem) (*types.KBItem, error) {
	if strings.TrimSpace(item.Content) == "" {
		return nil, nil
	}
	return item, nil
}

// TitleLimit truncates runaway titles, keeping rune boundaries intact.
type TitleLimit struct {
	Max int
}

func (m *TitleLimit) Name() string { return "title_limit" }

func (m *TitleLimit) Process(item *types.KBItem) (*types.KBItem, error) {
	limit := m.Max
	if limit <= 0 {
		limit = DefaultTitleLimit
	}
	runes := []rune(item.Title)
	if len(runes) > limit {
		item.Title = strings.TrimSpace(string(runes[:limit]))
	}
	return item, nil
}
