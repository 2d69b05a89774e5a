package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/siftlabs/kbharvest/internal/ai"
	"github.com/siftlabs/kbharvest/internal/browser"
	"github.com/siftlabs/kbharvest/internal/config"
	"github.com/siftlabs/kbharvest/internal/engine"
	"github.com/siftlabs/kbharvest/internal/extract"
	"github.com/siftlabs/kbharvest/internal/pipeline"
	"github.com/siftlabs/kbharvest/internal/types"
)

var (
	crawlInstructions string
	crawlOut          string
	crawlProvider     string
	crawlModel        string
	crawlEndpoint     string
	crawlDelay        string
	crawlThreshold    int
	crawlBatchSize    int
	crawlConcurrency  int
	crawlMaxRounds    int
	crawlSubdomains   bool
	crawlStealth      bool
)

// crawlCmd creates the "crawl" subcommand.
func crawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [url]",
		Short: "Crawl a site and harvest posts matching your instructions",
		Long: `Crawl starting from a seed URL, classify every discovered link with the
LLM oracle, and extract the relevant posts as markdown knowledge base items.

The seed is classified first:
  • a post      — extracted directly when it matches the instructions
  • a directory — explored round by round until no new links turn up

Requires an LLM backend: OpenAI (set OPENAI_API_KEY) or a local Ollama.`,
		Args: cobra.ExactArgs(1),
		RunE: runCrawlCmd,
	}

	cmd.Flags().StringVarP(&crawlInstructions, "instructions", "i", "", `what to harvest, e.g. "posts about database internals"`)
	cmd.Flags().StringVarP(&crawlOut, "out", "o", "./output/results.json", "output JSON file")
	cmd.Flags().StringVar(&crawlProvider, "llm", "", "LLM provider: openai, ollama, custom")
	cmd.Flags().StringVar(&crawlModel, "model", "", "LLM model name")
	cmd.Flags().StringVar(&crawlEndpoint, "llm-endpoint", "", "LLM endpoint URL (default: auto)")
	cmd.Flags().StringVar(&crawlDelay, "oracle-delay", "", "minimum delay between oracle calls, e.g. 500ms")
	cmd.Flags().IntVar(&crawlThreshold, "link-threshold", 0, "anchor count above which the click probe is skipped")
	cmd.Flags().IntVar(&crawlBatchSize, "batch-size", 0, "URLs per classification batch")
	cmd.Flags().IntVarP(&crawlConcurrency, "concurrency", "n", 0, "parallel extraction contexts")
	cmd.Flags().IntVar(&crawlMaxRounds, "max-rounds", -1, "cap on exploration rounds (0 = unbounded)")
	cmd.Flags().BoolVar(&crawlSubdomains, "subdomains", false, "treat sibling subdomains as in scope")
	cmd.Flags().BoolVar(&crawlStealth, "stealth", false, "open pages with stealth patches applied")
	_ = cmd.MarkFlagRequired("instructions")

	return cmd
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCrawlOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	seedURL := args[0]
	if err := config.ValidateURL(seedURL); err != nil {
		return fmt.Errorf("invalid URL %q: %w", seedURL, err)
	}

	logger := setupLogger(cfg)

	fmt.Printf("🕸️  KBHarvest Crawl\n")
	fmt.Printf("   Seed:         %s\n", seedURL)
	fmt.Printf("   Instructions: %s\n", crawlInstructions)
	fmt.Printf("   Oracle:       %s/%s\n", cfg.AI.Provider, cfg.AI.Model)

	// Fail fast on a dead oracle — seed classification is fatal anyway,
	// and this way the browser never launches for nothing.
	if err := checkOracle(cfg, logger); err != nil {
		fmt.Printf("   ⚠️  Oracle not reachable: %v\n", err)
		if cfg.AI.Provider == "openai" && cfg.AI.APIKey == "" {
			fmt.Println("   Set OPENAI_API_KEY, or switch backends with --llm ollama")
		}
		return fmt.Errorf("classification oracle unavailable: %w", err)
	}
	fmt.Printf("   ✅ Oracle connected\n\n")

	session, err := browser.NewSession(cfg, logger)
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("browser shutdown", "error", err)
		}
	}()

	discoverer, err := engine.NewLinkDiscoverer(session, seedURL, cfg, logger)
	if err != nil {
		return err
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

	crawler := engine.New(cfg, logger)
	crawler.SetDiscoverer(discoverer)
	crawler.SetClassifier(ai.NewClassifier(client, cfg.AI.RequestDelay, logger))
	crawler.SetExtractor(extract.NewExtractor(session, cfg, logger))

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, stopping crawl...", "signal", sig)
		cancel()
	}()

	start := time.Now()
	items, err := crawler.Run(ctx, seedURL, crawlInstructions)
	interrupted := errors.Is(err, types.ErrCrawlStopped)
	if err != nil && !interrupted {
		return err
	}

	items = pipeline.Default(logger).ProcessAll(items)
	if err := writeItems(crawlOut, items); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	elapsed := time.Since(start)
	stats := crawler.Stats().Snapshot()

	if interrupted {
		fmt.Printf("\n⚠️  Crawl interrupted after %s — partial results kept\n", elapsed.Round(time.Millisecond))
	} else {
		fmt.Printf("\n✅ Crawl complete in %s\n", elapsed.Round(time.Millisecond))
	}
	fmt.Printf("   Rounds:      %v\n", stats["rounds"])
	fmt.Printf("   Links:       %v discovered, %v classified (%v batches, %v failed)\n",
		stats["urls_discovered"], stats["urls_classified"], stats["oracle_batches"], stats["batches_failed"])
	fmt.Printf("   Classified:  %v directories, %v relevant posts, %v skipped\n",
		stats["directories_found"], stats["posts_matched"], stats["posts_skipped"])
	fmt.Printf("   Items:       %d written (%v empty, %v extraction failures)\n",
		len(items), stats["items_empty"], stats["extract_failures"])
	fmt.Printf("   Output:      %s\n", crawlOut)

	return nil
}

// checkOracle does one plain-text round trip before the crawl starts.
// The generous timeout covers Ollama model cold-start.
func checkOracle(cfg *config.Config, logger *slog.Logger) error {
	probe := ai.NewLLMClient(ai.LLMConfig{
		Provider:    ai.LLMProvider(cfg.AI.Provider),
		Endpoint:    cfg.AI.Endpoint,
		Model:       cfg.AI.Model,
		APIKey:      cfg.AI.APIKey,
		MaxTokens:   16,
		Temperature: 0,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reply, err := probe.Generate(ctx, "", "Reply with the single word: ok")
	if err != nil {
		return err
	}
	if strings.TrimSpace(reply) == "" {
		return fmt.Errorf("model %q returned an empty reply", cfg.AI.Model)
	}
	return nil
}

// writeItems writes the item array as indented JSON through a temp-file
// rename, so an interrupted write never leaves a truncated results file.
func writeItems(path string, items []*types.KBItem) error {
	if items == nil {
		items = []*types.KBItem{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// applyCrawlOverrides applies command-line flag values to the config.
func applyCrawlOverrides(cfg *config.Config) {
	if crawlProvider != "" {
		cfg.AI.Provider = crawlProvider
	}
	if crawlModel != "" {
		cfg.AI.Model = crawlModel
	}
	if crawlEndpoint != "" {
		cfg.AI.Endpoint = crawlEndpoint
	}
	if crawlDelay != "" {
		if d, err := time.ParseDuration(crawlDelay); err == nil {
			cfg.AI.RequestDelay = d
		}
	}
	if crawlThreshold > 0 {
		cfg.Crawl.LinkRichThreshold = crawlThreshold
	}
	if crawlBatchSize > 0 {
		cfg.Crawl.ClassifyBatchSize = crawlBatchSize
	}
	if crawlConcurrency > 0 {
		cfg.Extract.Concurrency = crawlConcurrency
	}
	if crawlMaxRounds >= 0 {
		cfg.Crawl.MaxRounds = crawlMaxRounds
	}
	if crawlSubdomains {
		cfg.Crawl.IncludeSubdomains = true
	}
	if crawlStealth {
		cfg.Browser.Stealth = true
	}
}
