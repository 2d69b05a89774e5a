package kbharvest

import (
	"testing"
	"time"

	"github.com/siftlabs/kbharvest/internal/config"
)

func TestOptionsApply(t *testing.T) {
	h := New(
		WithInstructions("posts about compilers"),
		WithOracle("ollama", "llama3.2"),
		WithOracleEndpoint("http://localhost:11434"),
		WithOracleDelay(250*time.Millisecond),
		WithThreshold(9),
		WithBatchSize(4),
		WithConcurrency(2),
		WithMaxRounds(3),
		WithSubdomains(),
		WithStealth(),
	)

	if h.instructions != "posts about compilers" {
		t.Errorf("instructions = %q", h.instructions)
	}
	if h.cfg.AI.Provider != "ollama" || h.cfg.AI.Model != "llama3.2" {
		t.Errorf("oracle = %s/%s", h.cfg.AI.Provider, h.cfg.AI.Model)
	}
	if h.cfg.AI.Endpoint != "http://localhost:11434" {
		t.Errorf("endpoint = %q", h.cfg.AI.Endpoint)
	}
	if h.cfg.AI.RequestDelay != 250*time.Millisecond {
		t.Errorf("delay = %s", h.cfg.AI.RequestDelay)
	}
	if h.cfg.Crawl.LinkRichThreshold != 9 {
		t.Errorf("threshold = %d", h.cfg.Crawl.LinkRichThreshold)
	}
	if h.cfg.Crawl.ClassifyBatchSize != 4 {
		t.Errorf("batch size = %d", h.cfg.Crawl.ClassifyBatchSize)
	}
	if h.cfg.Extract.Concurrency != 2 {
		t.Errorf("concurrency = %d", h.cfg.Extract.Concurrency)
	}
	if h.cfg.Crawl.MaxRounds != 3 {
		t.Errorf("max rounds = %d", h.cfg.Crawl.MaxRounds)
	}
	if !h.cfg.Crawl.IncludeSubdomains {
		t.Error("subdomains not enabled")
	}
	if !h.cfg.Browser.Stealth {
		t.Error("stealth not enabled")
	}
}

func TestNewDefaults(t *testing.T) {
	h := New()

	want := config.DefaultConfig()
	if h.cfg.Crawl.LinkRichThreshold != want.Crawl.LinkRichThreshold {
		t.Errorf("threshold = %d, want default %d",
			h.cfg.Crawl.LinkRichThreshold, want.Crawl.LinkRichThreshold)
	}
	if h.logger == nil {
		t.Fatal("logger not set")
	}
	if h.instructions != "" {
		t.Errorf("instructions = %q, want empty", h.instructions)
	}
}

func TestWithConfigThenOverride(t *testing.T) {
	cfg := config.DefaultConfig()
	New(WithConfig(cfg), WithThreshold(7))

	if cfg.Crawl.LinkRichThreshold != 7 {
		t.Errorf("later options should land on the replacement config, threshold = %d",
			cfg.Crawl.LinkRichThreshold)
	}
}

func TestStatsBeforeHarvest(t *testing.T) {
	if got := New().Stats(); got != nil {
		t.Errorf("Stats before any crawl = %v, want nil", got)
	}
}
