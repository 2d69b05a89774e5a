// Package kbharvest provides a public SDK for embedding KBHarvest as a library.
//
// Example usage:
//
//	h := kbharvest.New(
//	    kbharvest.WithInstructions("posts about database internals"),
//	    kbharvest.WithOracle("openai", "gpt-4.1-nano"),
//	    kbharvest.WithConcurrency(8),
//	)
//
//	items, err := h.Harvest(ctx, "https://example.com/blog")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, item := range items {
//	    fmt.Println(item.Title, "—", item.SourceURL)
//	}
package kbharvest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/siftlabs/kbharvest/internal/ai"
	"github.com/siftlabs/kbharvest/internal/browser"
	"github.com/siftlabs/kbharvest/internal/config"
	"github.com/siftlabs/kbharvest/internal/drive"
	"github.com/siftlabs/kbharvest/internal/engine"
	"github.com/siftlabs/kbharvest/internal/extract"
	"github.com/siftlabs/kbharvest/internal/types"
)

// KBItem is the harvested knowledge base item returned by Harvest and
// HarvestFolder.
type KBItem = types.KBItem

// ErrCrawlStopped reports an interrupted crawl. Harvest still returns the
// items extracted before cancellation alongside it.
var ErrCrawlStopped = types.ErrCrawlStopped

// Harvester is the high-level API for using KBHarvest as a library.
type Harvester struct {
	cfg          *config.Config
	logger       *slog.Logger
	instructions string

	mu      sync.Mutex
	crawler *engine.Crawler
}

// Option configures a Harvester.
type Option func(*Harvester)

// WithInstructions sets what the harvester should look for, in plain
// language, e.g. "posts about distributed consensus".
func WithInstructions(instructions string) Option {
	return func(h *Harvester) { h.instructions = instructions }
}

// WithOracle selects the LLM backend used for link classification.
// Provider is one of "openai", "ollama" or "custom".
func WithOracle(provider, model string) Option {
	return func(h *Harvester) {
		h.cfg.AI.Provider = provider
		h.cfg.AI.Model = model
	}
}

// WithOracleEndpoint overrides the LLM endpoint URL.
func WithOracleEndpoint(endpoint string) Option {
	return func(h *Harvester) { h.cfg.AI.Endpoint = endpoint }
}

// WithAPIKey sets the LLM API key. Defaults to OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(h *Harvester) { h.cfg.AI.APIKey = key }
}

// WithOracleDelay sets the minimum delay between oracle calls.
func WithOracleDelay(d time.Duration) Option {
	return func(h *Harvester) { h.cfg.AI.RequestDelay = d }
}

// WithThreshold sets the anchor count above which the click probe is
// skipped during link discovery.
func WithThreshold(n int) Option {
	return func(h *Harvester) { h.cfg.Crawl.LinkRichThreshold = n }
}

// WithBatchSize sets the number of URLs per classification batch.
func WithBatchSize(n int) Option {
	return func(h *Harvester) { h.cfg.Crawl.ClassifyBatchSize = n }
}

// WithConcurrency sets the number of parallel extraction contexts.
func WithConcurrency(n int) Option {
	return func(h *Harvester) { h.cfg.Extract.Concurrency = n }
}

// WithMaxRounds caps the number of exploration rounds (0 = unbounded).
func WithMaxRounds(n int) Option {
	return func(h *Harvester) { h.cfg.Crawl.MaxRounds = n }
}

// WithSubdomains widens the crawl scope to sibling subdomains of the seed.
func WithSubdomains() Option {
	return func(h *Harvester) { h.cfg.Crawl.IncludeSubdomains = true }
}

// WithStealth opens pages with stealth patches applied.
func WithStealth() Option {
	return func(h *Harvester) { h.cfg.Browser.Stealth = true }
}

// WithLogger replaces the default stderr logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harvester) { h.logger = logger }
}

// WithConfig replaces the entire configuration. Apply it before other
// options or they will be overwritten.
func WithConfig(cfg *config.Config) Option {
	return func(h *Harvester) { h.cfg = cfg }
}

// New creates a Harvester with the given options.
func New(opts ...Option) *Harvester {
	h := &Harvester{
		cfg:    config.DefaultConfig(),
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.cfg.AI.APIKey == "" {
		h.cfg.AI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return h
}

// Harvest crawls from the seed URL and returns every extracted item. Each
// call runs a fresh browser session and crawl; the Harvester itself is
// reusable.
func (h *Harvester) Harvest(ctx context.Context, seedURL string) ([]*KBItem, error) {
	if err := config.Validate(h.cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := config.ValidateURL(seedURL); err != nil {
		return nil, err
	}

	session, err := browser.NewSession(h.cfg, h.logger)
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			h.logger.Warn("browser shutdown", "error", err)
		}
	}()

	discoverer, err := engine.NewLinkDiscoverer(session, seedURL, h.cfg, h.logger)
	if err != nil {
		return nil, err
	}

	client := ai.NewLLMClient(ai.LLMConfig{
		Provider:    ai.LLMProvider(h.cfg.AI.Provider),
		Endpoint:    h.cfg.AI.Endpoint,
		Model:       h.cfg.AI.Model,
		APIKey:      h.cfg.AI.APIKey,
		MaxTokens:   h.cfg.AI.MaxTokens,
		Temperature: h.cfg.AI.Temperature,
		ForceJSON:   true,
	}, h.logger)

	crawler := engine.New(h.cfg, h.logger)
	crawler.SetDiscoverer(discoverer)
	crawler.SetClassifier(ai.NewClassifier(client, h.cfg.AI.RequestDelay, h.logger))
	crawler.SetExtractor(extract.NewExtractor(session, h.cfg, h.logger))

	h.mu.Lock()
	h.crawler = crawler
	h.mu.Unlock()

	return crawler.Run(ctx, seedURL, h.instructions)
}

// HarvestFolder walks a publicly shared Google Drive folder and returns an
// item per supported document (PDF, DOCX, Google Docs).
func (h *Harvester) HarvestFolder(ctx context.Context, folderURL string) ([]*KBItem, error) {
	if err := config.ValidateURL(folderURL); err != nil {
		return nil, err
	}

	harvester, err := drive.NewHarvester(h.cfg, h.logger)
	if err != nil {
		return nil, err
	}
	return harvester.HarvestFolder(ctx, folderURL)
}

// Stats returns counters from the most recent Harvest call, or nil if no
// crawl has run yet.
func (h *Harvester) Stats() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.crawler == nil {
		return nil
	}
	return h.crawler.Stats().Snapshot()
}
