package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Crawl.LinkRichThreshold < 0 {
		return fmt.Errorf("crawl.link_rich_threshold must be >= 0, got %d", cfg.Crawl.LinkRichThreshold)
	}
	if cfg.Crawl.ClassifyBatchSize < 1 {
		return fmt.Errorf("crawl.classify_batch_size must be >= 1, got %d", cfg.Crawl.ClassifyBatchSize)
	}
	if cfg.Crawl.ClassifyBatchSize > 100 {
		return fmt.Errorf("crawl.classify_batch_size must be <= 100, got %d", cfg.Crawl.ClassifyBatchSize)
	}
	if cfg.Crawl.NavigationTimeout <= 0 {
		return fmt.Errorf("crawl.navigation_timeout must be > 0")
	}
	if cfg.Crawl.ProbeWait <= 0 {
		return fmt.Errorf("crawl.probe_wait must be > 0")
	}
	if cfg.Crawl.ClickTimeout <= 0 {
		return fmt.Errorf("crawl.click_timeout must be > 0")
	}
	if cfg.Crawl.NewTabTimeout <= 0 {
		return fmt.Errorf("crawl.new_tab_timeout must be > 0")
	}
	if cfg.Crawl.MaxRounds < 0 {
		return fmt.Errorf("crawl.max_rounds must be >= 0, got %d", cfg.Crawl.MaxRounds)
	}
	if len(cfg.Crawl.ProbeSelectors) == 0 {
		return fmt.Errorf("crawl.probe_selectors must not be empty")
	}

	validProviders := map[string]bool{
		"openai": true, "ollama": true, "custom": true,
	}
	if !validProviders[cfg.AI.Provider] {
		return fmt.Errorf("ai.provider must be openai/ollama/custom, got %q", cfg.AI.Provider)
	}
	if cfg.AI.MaxTokens < 1 {
		return fmt.Errorf("ai.max_tokens must be >= 1, got %d", cfg.AI.MaxTokens)
	}
	if cfg.AI.Temperature < 0 || cfg.AI.Temperature > 2 {
		return fmt.Errorf("ai.temperature must be in [0, 2], got %g", cfg.AI.Temperature)
	}
	if cfg.AI.RequestDelay < 0 {
		return fmt.Errorf("ai.request_delay must be >= 0")
	}

	if cfg.Extract.Timeout <= 0 {
		return fmt.Errorf("extract.timeout must be > 0")
	}
	if cfg.Extract.Concurrency < 1 {
		return fmt.Errorf("extract.concurrency must be >= 1, got %d", cfg.Extract.Concurrency)
	}
	if cfg.Extract.Concurrency > 64 {
		return fmt.Errorf("extract.concurrency must be <= 64, got %d", cfg.Extract.Concurrency)
	}

	if cfg.Drive.MaxFileSize <= 0 {
		return fmt.Errorf("drive.max_file_size must be > 0")
	}
	if cfg.Drive.RequestTimeout <= 0 {
		return fmt.Errorf("drive.request_timeout must be > 0")
	}

	if cfg.Queue.Prefetch < 0 {
		return fmt.Errorf("queue.prefetch must be >= 0, got %d", cfg.Queue.Prefetch)
	}
	if cfg.Queue.ReconnectDelay <= 0 {
		return fmt.Errorf("queue.reconnect_delay must be > 0")
	}
	if cfg.Queue.Name == "" {
		return fmt.Errorf("queue.name must not be empty")
	}

	if cfg.Worker.HealthPort < 1 || cfg.Worker.HealthPort > 65535 {
		return fmt.Errorf("worker.health_port must be 1-65535, got %d", cfg.Worker.HealthPort)
	}
	if cfg.Worker.ChunkSize < 1 {
		return fmt.Errorf("worker.chunk_size must be >= 1, got %d", cfg.Worker.ChunkSize)
	}
	if cfg.Worker.ChunkOverlap < 0 || cfg.Worker.ChunkOverlap >= cfg.Worker.ChunkSize {
		return fmt.Errorf("worker.chunk_overlap must be in [0, chunk_size), got %d", cfg.Worker.ChunkOverlap)
	}

	validStorageTypes := map[string]bool{
		"mongo": true, "mongodb": true, "sqlite": true, "file": true, "jsonl": true,
	}
	if !validStorageTypes[cfg.Storage.Type] {
		return fmt.Errorf("storage.type %q is not supported (valid: mongo, sqlite, file)", cfg.Storage.Type)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	return nil
}

// ValidateURL checks if a URL string is valid for crawling.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
