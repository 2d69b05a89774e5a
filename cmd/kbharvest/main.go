package main

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/siftlabs/kbharvest/internal/config"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kbharvest",
		Short: "KBHarvest — turn blogs, docs sites and drive folders into a knowledge base",
		Long: `KBHarvest crawls a site with a real (headless) browser, asks an LLM which
links are worth following, and extracts every matching post as a clean
markdown knowledge base item.

Features:
  • Two-tier link discovery: static anchor scan, then a click probe on link-poor pages
  • LLM link classification (directory vs post, relevance to your instructions)
  • Round-based frontier exploration with URL dedup across rounds
  • Isolated-context content extraction to markdown
  • Google Drive folder harvesting (PDF, DOCX, Google Docs)
  • Queue-driven worker with MongoDB, SQLite or JSONL persistence
  • Health and Prometheus metrics endpoints`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(crawlCmd())
	rootCmd.AddCommand(driveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("KBHarvest %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Crawl:\n")
			fmt.Printf("  Link-Rich Threshold: %d\n", cfg.Crawl.LinkRichThreshold)
			fmt.Printf("  Classify Batch Size: %d\n", cfg.Crawl.ClassifyBatchSize)
			fmt.Printf("  Navigation Timeout:  %s\n", cfg.Crawl.NavigationTimeout)
			fmt.Printf("  Probe Wait:          %s\n", cfg.Crawl.ProbeWait)
			fmt.Printf("  Probe Selectors:     %s\n", strings.Join(cfg.Crawl.ProbeSelectors, ", "))
			fmt.Printf("  Include Subdomains:  %v\n", cfg.Crawl.IncludeSubdomains)
			fmt.Printf("  Max Rounds:          %d (0 = unbounded)\n", cfg.Crawl.MaxRounds)
			fmt.Printf("\nBrowser:\n")
			fmt.Printf("  Headless:            %v\n", cfg.Browser.Headless)
			fmt.Printf("  Stealth:             %v\n", cfg.Browser.Stealth)
			fmt.Printf("  User Agent:          %s\n", cfg.Browser.UserAgent)
			fmt.Printf("\nAI:\n")
			fmt.Printf("  Provider:            %s\n", cfg.AI.Provider)
			fmt.Printf("  Model:               %s\n", cfg.AI.Model)
			fmt.Printf("  Endpoint:            %s\n", orAuto(cfg.AI.Endpoint))
			fmt.Printf("  API Key:             %s\n", setOrUnset(cfg.AI.APIKey))
			fmt.Printf("  Request Delay:       %s\n", cfg.AI.RequestDelay)
			fmt.Printf("\nExtract:\n")
			fmt.Printf("  Timeout:             %s\n", cfg.Extract.Timeout)
			fmt.Printf("  Settle Wait:         %s\n", cfg.Extract.SettleWait)
			fmt.Printf("  Concurrency:         %d\n", cfg.Extract.Concurrency)
			fmt.Printf("\nDrive:\n")
			fmt.Printf("  Request Timeout:     %s\n", cfg.Drive.RequestTimeout)
			fmt.Printf("  Max File Size:       %d bytes\n", cfg.Drive.MaxFileSize)
			fmt.Printf("\nQueue:\n")
			fmt.Printf("  URL:                 %s\n", redactURL(cfg.Queue.URL))
			fmt.Printf("  Name:                %s\n", cfg.Queue.Name)
			fmt.Printf("  Reconnect Delay:     %s\n", cfg.Queue.ReconnectDelay)
			fmt.Printf("  Prefetch:            %d\n", cfg.Queue.Prefetch)
			fmt.Printf("\nWorker:\n")
			fmt.Printf("  Health Port:         %d\n", cfg.Worker.HealthPort)
			fmt.Printf("  Chunk Size:          %d\n", cfg.Worker.ChunkSize)
			fmt.Printf("  Chunk Overlap:       %d\n", cfg.Worker.ChunkOverlap)
			fmt.Printf("\nStorage:\n")
			fmt.Printf("  Type:                %s\n", cfg.Storage.Type)
			fmt.Printf("  URI:                 %s\n", redactURL(cfg.Storage.URI))
			fmt.Printf("  Database:            %s\n", cfg.Storage.Database)
			fmt.Printf("  Output Path:         %s\n", cfg.Storage.OutputPath)
			return nil
		},
	}
}

// setupLogger creates a structured logger from the logging config. The
// --verbose flag forces debug level regardless of the configured one.
func setupLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	out := os.Stderr
	if strings.ToLower(cfg.Logging.Output) == "stdout" {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Logging.Format) == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

func orAuto(s string) string {
	if s == "" {
		return "(auto)"
	}
	return s
}

func setOrUnset(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	return "(set)"
}

// redactURL hides credentials embedded in connection URLs.
func redactURL(rawURL string) string {
	if rawURL == "" {
		return "(unset)"
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Redacted()
}
