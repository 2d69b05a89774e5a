package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/siftlabs/kbharvest/internal/config"
	"github.com/siftlabs/kbharvest/internal/types"
)

// State represents the crawl's current lifecycle state.
type State int32

const (
	StateInit           State = 0
	StateSeedClassified State = 1
	StateExploring      State = 2
	StateDraining       State = 3
	StateExtracting     State = 4
	StateDone           State = 5
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateSeedClassified:
		return "seed_classified"
	case StateExploring:
		return "exploring"
	case StateDraining:
		return "draining"
	case StateExtracting:
		return "extracting"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Stats tracks crawl counters.
type Stats struct {
	Rounds           atomic.Int64
	URLsDiscovered   atomic.Int64
	URLsClassified   atomic.Int64
	OracleBatches    atomic.Int64
	BatchesFailed    atomic.Int64
	DirectoriesFound atomic.Int64
	PostsMatched     atomic.Int64
	PostsSkipped     atomic.Int64
	ItemsExtracted   atomic.Int64
	ItemsEmpty       atomic.Int64
	ExtractFailures  atomic.Int64
	StartTime        time.Time
}

// Snapshot returns a copy of stats safe for reading.
func (s *Stats) Snapshot() map[string]any {
	return map[string]any{
		"rounds":            s.Rounds.Load(),
		"urls_discovered":   s.URLsDiscovered.Load(),
		"urls_classified":   s.URLsClassified.Load(),
		"oracle_batches":    s.OracleBatches.Load(),
		"batches_failed":    s.BatchesFailed.Load(),
		"directories_found": s.DirectoriesFound.Load(),
		"posts_matched":     s.PostsMatched.Load(),
		"posts_skipped":     s.PostsSkipped.Load(),
		"items_extracted":   s.ItemsExtracted.Load(),
		"items_empty":       s.ItemsEmpty.Load(),
		"extract_failures":  s.ExtractFailures.Load(),
		"elapsed":           time.Since(s.StartTime).String(),
	}
}

// Discoverer finds same-domain candidate links on a rendered page.
type Discoverer interface {
	Discover(ctx context.Context, originURL string) ([]string, error)
}

// Classifier is the semantic oracle deciding page type and relevance.
// A batch call's results are positional: result i describes urls[i].
type Classifier interface {
	ClassifyURL(ctx context.Context, rawURL, instructions string) (*types.Classification, error)
	ClassifyBatch(ctx context.Context, urls []string, instructions string) ([]types.Classification, error)
}

// Extractor turns a relevant post URL into a knowledge item. A nil item
// with a nil error means the page had no usable content.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) (*types.KBItem, error)
}

// Crawler drives the two-phase crawl: breadth-expanding exploration of
// directory pages with batched classification, then extraction of every
// relevant post. A Crawler is single-use; create a new one per seed.
type Crawler struct {
	cfg    *config.Config
	logger *slog.Logger

	frontier   *Frontier
	discoverer Discoverer
	classifier Classifier
	extractor  Extractor

	state atomic.Int32
	stats *Stats

	mu         sync.RWMutex
	targets    []*types.Target
	candidates []*types.Target
}

// New creates a Crawler with the given configuration. Collaborators must be
// injected via the Set* methods before Run.
func New(cfg *config.Config, logger *slog.Logger) *Crawler {
	return &Crawler{
		cfg:      cfg,
		logger:   logger.With("component", "crawler"),
		frontier: NewFrontier(),
		stats:    &Stats{},
	}
}

// SetDiscoverer sets the link discovery implementation.
func (c *Crawler) SetDiscoverer(d Discoverer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discoverer = d
}

// SetClassifier sets the classification oracle implementation.
func (c *Crawler) SetClassifier(cl Classifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classifier = cl
}

// SetExtractor sets the content extraction implementation.
func (c *Crawler) SetExtractor(e Extractor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extractor = e
}

// Stats returns the crawl statistics.
func (c *Crawler) Stats() *Stats {
	return c.stats
}

// GetState returns the current lifecycle state.
func (c *Crawler) GetState() State {
	return State(c.state.Load())
}

// Targets returns every URL classified during the run, in classification
// order. Call after Run returns.
func (c *Crawler) Targets() []*types.Target {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.Target, len(c.targets))
	copy(out, c.targets)
	return out
}

// Run executes one full crawl from seed to extracted items. The returned
// slice holds whatever the run could produce; on cancellation it is partial
// and accompanied by an error wrapping ErrCrawlStopped. A failed seed
// classification aborts the run with zero items.
func (c *Crawler) Run(ctx context.Context, seedURL, instructions string) ([]*types.KBItem, error) {
	if State(c.state.Load()) != StateInit {
		return nil, fmt.Errorf("crawler already ran (state %s)", c.GetState())
	}
	if err := config.ValidateURL(seedURL); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidURL, err)
	}

	c.mu.RLock()
	discoverer, classifier, extractor := c.discoverer, c.classifier, c.extractor
	c.mu.RUnlock()
	if discoverer == nil || classifier == nil || extractor == nil {
		return nil, fmt.Errorf("crawler missing collaborators: discoverer=%t classifier=%t extractor=%t",
			discoverer != nil, classifier != nil, extractor != nil)
	}

	c.stats.StartTime = time.Now()
	c.logger.Info("crawl starting", "seed", seedURL)

	// Phase 0: classify the seed. The only fatal failure in a run.
	c.frontier.MarkVisited(seedURL)
	seedCls, err := classifier.ClassifyURL(ctx, seedURL, instructions)
	if err != nil {
		c.setState(StateDone)
		return nil, fmt.Errorf("%w: %w", types.ErrSeedClassification, err)
	}
	c.setState(StateSeedClassified)
	c.record(*seedCls)
	c.logger.Info("seed classified", "type", seedCls.Type, "relevant", seedCls.Relevant)

	// Phase 1: breadth-expanding exploration, one frontier round at a time.
	// Only a directory seed produces a frontier; a lone relevant post seed
	// goes straight to extraction.
	if seedCls.Type == types.LinkTypeDirectory {
		c.setState(StateExploring)
		c.explore(ctx, discoverer, classifier, instructions)
	}

	c.setState(StateDraining)
	if remaining := c.frontier.Len(); remaining > 0 {
		c.logger.Info("abandoning unexplored frontier", "directories", remaining)
	}

	// Phase 2: extract every relevant post.
	c.setState(StateExtracting)
	c.mu.RLock()
	candidates := make([]*types.Target, len(c.candidates))
	copy(candidates, c.candidates)
	c.mu.RUnlock()

	var items []*types.KBItem
	if ctx.Err() == nil {
		items = c.extractAll(ctx, extractor, candidates)
	}

	c.setState(StateDone)
	c.logger.Info("crawl complete", "items", len(items), "stats", c.stats.Snapshot())

	if err := ctx.Err(); err != nil {
		return items, fmt.Errorf("%w: %w", types.ErrCrawlStopped, err)
	}
	return items, nil
}

// explore runs frontier rounds until a round discovers nothing new, the
// frontier empties, or the context is canceled.
func (c *Crawler) explore(ctx context.Context, discoverer Discoverer, classifier Classifier, instructions string) {
	for c.frontier.Len() > 0 {
		if ctx.Err() != nil {
			return
		}
		if limit := c.cfg.Crawl.MaxRounds; limit > 0 && c.stats.Rounds.Load() >= int64(limit) {
			c.logger.Warn("round limit reached", "max_rounds", limit)
			return
		}
		round := c.stats.Rounds.Add(1)

		dirs := c.frontier.Drain()
		c.logger.Info("exploring round", "round", round, "directories", len(dirs))

		discovered := make([]string, 0, 32)
		for _, dir := range dirs {
			links, err := discoverer.Discover(ctx, dir)
			if err != nil {
				c.logger.Warn("link discovery failed", "url", dir, "error", err)
				continue
			}
			for _, link := range links {
				if c.frontier.MarkVisited(link) {
					discovered = append(discovered, link)
				}
			}
		}
		c.stats.URLsDiscovered.Add(int64(len(discovered)))

		if len(discovered) == 0 {
			c.logger.Info("round discovered nothing new", "round", round)
			return
		}
		c.classifyRound(ctx, classifier, discovered, instructions)
	}
}

// classifyRound sends newly discovered URLs to the oracle in fixed-size
// batches and applies the verdicts. A failed batch drops its URLs from the
// run; they stay in the visited-set and are never retried.
func (c *Crawler) classifyRound(ctx context.Context, classifier Classifier, urls []string, instructions string) {
	size := c.cfg.Crawl.ClassifyBatchSize
	for start := 0; start < len(urls); start += size {
		end := start + size
		if end > len(urls) {
			end = len(urls)
		}
		batch := urls[start:end]

		c.stats.OracleBatches.Add(1)
		results, err := classifier.ClassifyBatch(ctx, batch, instructions)
		if err != nil {
			c.stats.BatchesFailed.Add(1)
			c.logger.Warn("batch classification failed, dropping batch", "size", len(batch), "error", err)
			continue
		}
		for _, cls := range results {
			c.record(cls)
		}
	}
}

// record applies one classification verdict: directories feed the frontier,
// relevant posts become extraction candidates, unknowns are kept only for
// bookkeeping.
func (c *Crawler) record(cls types.Classification) {
	target := &types.Target{URL: cls.URL, Type: cls.Type, Relevant: cls.Relevant}

	c.mu.Lock()
	c.targets = append(c.targets, target)
	c.mu.Unlock()
	c.stats.URLsClassified.Add(1)

	switch cls.Type {
	case types.LinkTypeDirectory:
		c.frontier.Push(cls.URL)
		c.stats.DirectoriesFound.Add(1)
	case types.LinkTypePost:
		if cls.Relevant {
			c.mu.Lock()
			c.candidates = append(c.candidates, target)
			c.mu.Unlock()
			c.stats.PostsMatched.Add(1)
		} else {
			c.stats.PostsSkipped.Add(1)
		}
	case types.LinkTypeUnknown:
		// Kept in the visited-set so it is never reclassified.
	}
}

// extractAll fans candidate posts out to the extractor with bounded
// concurrency. Failures and empty pages are logged and skipped; the result
// preserves candidate order.
func (c *Crawler) extractAll(ctx context.Context, extractor Extractor, candidates []*types.Target) []*types.KBItem {
	results := make([]*types.KBItem, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Extract.Concurrency)
	for i, target := range candidates {
		i, target := i, target
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			item, err := extractor.Extract(gctx, target.URL)
			if err != nil {
				c.stats.ExtractFailures.Add(1)
				c.logger.Warn("extraction failed", "url", target.URL, "error", err)
				return nil
			}
			if item == nil {
				c.stats.ItemsEmpty.Add(1)
				c.logger.Debug("page produced no content", "url", target.URL)
				return nil
			}
			target.Item = item
			results[i] = item
			c.stats.ItemsExtracted.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	items := make([]*types.KBItem, 0, len(results))
	for _, item := range results {
		if item != nil {
			items = append(items, item)
		}
	}
	return items
}

func (c *Crawler) setState(s State) {
	c.state.Store(int32(s))
	c.logger.Debug("state transition", "state", s.String())
}
