package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/siftlabs/kbharvest/internal/ai"
	"github.com/siftlabs/kbharvest/internal/browser"
	"github.com/siftlabs/kbharvest/internal/config"
	"github.com/siftlabs/kbharvest/internal/extract"
	"github.com/siftlabs/kbharvest/internal/types"
)

// RunCrawl executes one complete crawl with the default collaborators: a
// fresh browser session shared by discovery, the configured oracle and the
// markdown extractor. This is the entry point used by the worker, the CLI
// and the SDK.
func RunCrawl(ctx context.Context, cfg *config.Config, logger *slog.Logger, seedURL, instructions string) ([]*types.KBItem, error) {
	session, err := browser.NewSession(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("browser shutdown", "error", err)
		}
	}()

	discoverer, err := NewLinkDiscoverer(session, seedURL, cfg, logger)
	if err != nil {
		return nil, err
	}

	client := ai.NewLLMClient(ai.LLMConfig{
		Provider:    ai.LLMProvider(cfg.AI.Provider),
		Endpoint:    cfg.AI.Endpoint,
		Model:       cfg.AI.Model,
		APIKey:      cfg.AI.APIKey,
		MaxTokens:   cfg.AI.MaxTokens,
		Temperature: cfg.AI.Temperature,
		ForceJSON:   true,
	}, logger)
	classifier := ai.NewClassifier(client, cfg.AI.RequestDelay, logger)
	extractor := extract.NewExtractor(session, cfg, logger)

	crawler := New(cfg, logger)
	crawler.SetDiscoverer(discoverer)
	crawler.SetClassifier(classifier)
	crawler.SetExtractor(extractor)
	return crawler.Run(ctx, seedURL, instructions)
}
