package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and CLI flags.
// Priority (highest to lowest): CLI flags > env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	// Set defaults from struct
	setDefaults(v, cfg)

	// Environment variable support
	v.SetEnvPrefix("KBHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Search default locations
		v.SetConfigName("kbharvest")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".kbharvest"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applySecretFallbacks(cfg)

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	return Load(path)
}

// applySecretFallbacks fills credentials from the well-known environment
// variables used by hosted deployments when the config leaves them empty.
func applySecretFallbacks(cfg *Config) {
	if cfg.AI.APIKey == "" {
		cfg.AI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Queue.URL == "" || cfg.Queue.URL == DefaultConfig().Queue.URL {
		if u := os.Getenv("CLOUDAMQP_URL"); u != "" {
			cfg.Queue.URL = u
		} else if u := os.Getenv("AMQP_URL"); u != "" {
			cfg.Queue.URL = u
		}
	}
	if cfg.Storage.URI == "" {
		cfg.Storage.URI = os.Getenv("DATABASE_URL")
	}
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("crawl.link_rich_threshold", cfg.Crawl.LinkRichThreshold)
	v.SetDefault("crawl.classify_batch_size", cfg.Crawl.ClassifyBatchSize)
	v.SetDefault("crawl.navigation_timeout", cfg.Crawl.NavigationTimeout)
	v.SetDefault("crawl.settle_delay", cfg.Crawl.SettleDelay)
	v.SetDefault("crawl.click_timeout", cfg.Crawl.ClickTimeout)
	v.SetDefault("crawl.probe_wait", cfg.Crawl.ProbeWait)
	v.SetDefault("crawl.new_tab_timeout", cfg.Crawl.NewTabTimeout)
	v.SetDefault("crawl.probe_selectors", cfg.Crawl.ProbeSelectors)
	v.SetDefault("crawl.include_subdomains", cfg.Crawl.IncludeSubdomains)
	v.SetDefault("crawl.max_rounds", cfg.Crawl.MaxRounds)

	v.SetDefault("browser.headless", cfg.Browser.Headless)
	v.SetDefault("browser.stealth", cfg.Browser.Stealth)
	v.SetDefault("browser.user_agent", cfg.Browser.UserAgent)

	v.SetDefault("ai.provider", cfg.AI.Provider)
	v.SetDefault("ai.model", cfg.AI.Model)
	v.SetDefault("ai.endpoint", cfg.AI.Endpoint)
	v.SetDefault("ai.max_tokens", cfg.AI.MaxTokens)
	v.SetDefault("ai.temperature", cfg.AI.Temperature)
	v.SetDefault("ai.request_delay", cfg.AI.RequestDelay)

	v.SetDefault("extract.timeout", cfg.Extract.Timeout)
	v.SetDefault("extract.settle_wait", cfg.Extract.SettleWait)
	v.SetDefault("extract.concurrency", cfg.Extract.Concurrency)

	v.SetDefault("drive.request_timeout", cfg.Drive.RequestTimeout)
	v.SetDefault("drive.max_file_size", cfg.Drive.MaxFileSize)
	v.SetDefault("drive.user_agent", cfg.Drive.UserAgent)

	v.SetDefault("queue.url", cfg.Queue.URL)
	v.SetDefault("queue.name", cfg.Queue.Name)
	v.SetDefault("queue.reconnect_delay", cfg.Queue.ReconnectDelay)
	v.SetDefault("queue.prefetch", cfg.Queue.Prefetch)

	v.SetDefault("worker.health_port", cfg.Worker.HealthPort)
	v.SetDefault("worker.chunk_size", cfg.Worker.ChunkSize)
	v.SetDefault("worker.chunk_overlap", cfg.Worker.ChunkOverlap)

	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("storage.uri", cfg.Storage.URI)
	v.SetDefault("storage.database", cfg.Storage.Database)
	v.SetDefault("storage.output_path", cfg.Storage.OutputPath)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)
}
