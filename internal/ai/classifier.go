package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/siftlabs/kbharvest/internal/types"
)

const (
	classifySystem = "You are a helpful assistant that classifies web pages by their URL. Reply with a single JSON object and nothing else."
	batchSystem    = "You are a helpful assistant that classifies web pages in batches. Reply with a single JSON object and nothing else."
)

// Classifier is the semantic oracle client: it decides whether a URL is a
// directory (a page of links) or a post (self-contained content), and whether
// it matches the caller's free-text instructions.
//
// Every call is preceded by a fixed delay to respect upstream rate limits. A
// failed call classifies nothing; callers drop the affected URLs for the rest
// of the run rather than retrying.
type Classifier struct {
	client  *LLMClient
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClassifier creates a classifier on top of an LLM client. delay is the
// fixed pause enforced before each oracle call (0 disables it).
func NewClassifier(client *LLMClient, delay time.Duration, logger *slog.Logger) *Classifier {
	var limiter *rate.Limiter
	if delay > 0 {
		limiter = rate.NewLimiter(rate.Every(delay), 1)
	}
	return &Classifier{
		client:  client,
		limiter: limiter,
		logger:  logger.With("component", "classifier"),
	}
}

// ClassifyURL classifies a single URL against the instructions.
func (c *Classifier) ClassifyURL(ctx context.Context, rawURL, instructions string) (*types.Classification, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(`Classify the following URL.

URL: %s

The user wants: %s

Decide two things:
1. "linkType": "directory" if the page is predominantly a list of links to other content, "post" if it is a self-contained content page, "unknown" if you cannot tell.
2. "matchesWhatTheUserWants": true if the URL plausibly matches what the user wants, else false.

Respond with a JSON object: {"linkType": "...", "matchesWhatTheUserWants": true|false}`, rawURL, instructions)

	reply, err := c.client.Generate(ctx, classifySystem, prompt)
	if err != nil {
		return nil, &types.ClassifyError{BatchSize: 1, Err: err}
	}

	raw, err := oracleJSON(reply)
	if err != nil {
		return nil, &types.ClassifyError{BatchSize: 1, Err: err}
	}

	var verdict struct {
		LinkType string `json:"linkType"`
		Matches  bool   `json:"matchesWhatTheUserWants"`
	}
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, &types.ClassifyError{BatchSize: 1, Err: fmt.Errorf("%w: %v", types.ErrOracleReply, err)}
	}

	c.logger.Debug("url classified",
		"url", rawURL,
		"type", verdict.LinkType,
		"relevant", verdict.Matches,
	)

	return &types.Classification{
		URL:      rawURL,
		Type:     types.ParseLinkType(verdict.LinkType),
		Relevant: verdict.Matches,
	}, nil
}

// ClassifyBatch classifies many URLs in one oracle round-trip. Results are
// positional: the i-th classification belongs to urls[i]; a reply with the
// wrong count fails the whole batch. Per-URL semantics match ClassifyURL.
func (c *Classifier) ClassifyBatch(ctx context.Context, urls []string, instructions string) ([]types.Classification, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var list strings.Builder
	for i, u := range urls {
		fmt.Fprintf(&list, "%d. %s\n", i+1, u)
	}

	prompt := fmt.Sprintf(`Classify every URL in the numbered list below.

%s
The user wants: %s

For each URL decide:
- "linkType": "directory" if the page is predominantly a list of links to other content, "post" if it is a self-contained content page, "unknown" if you cannot tell.
- "matchesWhatTheUserWants": true if the URL plausibly matches what the user wants, else false.

Respond with a JSON object of the form:
{"classifications": [{"link": "<url>", "linkType": "...", "matchesWhatTheUserWants": true|false}, ...]}
Return exactly one entry per listed URL, in the listed order.`, list.String(), instructions)

	reply, err := c.client.Generate(ctx, batchSystem, prompt)
	if err != nil {
		return nil, &types.ClassifyError{BatchSize: len(urls), Err: err}
	}

	raw, err := oracleJSON(reply)
	if err != nil {
		return nil, &types.ClassifyError{BatchSize: len(urls), Err: err}
	}

	var parsed struct {
		Classifications []struct {
			Link     string `json:"link"`
			LinkType string `json:"linkType"`
			Matches  bool   `json:"matchesWhatTheUserWants"`
		} `json:"classifications"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, &types.ClassifyError{BatchSize: len(urls), Err: fmt.Errorf("%w: %v", types.ErrOracleReply, err)}
	}
	if len(parsed.Classifications) != len(urls) {
		return nil, &types.ClassifyError{
			BatchSize: len(urls),
			Err:       fmt.Errorf("%w: got %d classifications for %d urls", types.ErrOracleReply, len(parsed.Classifications), len(urls)),
		}
	}

	out := make([]types.Classification, len(urls))
	for i, pc := range parsed.Classifications {
		// The echoed link is informational; order is the contract.
		out[i] = types.Classification{
			URL:      urls[i],
			Type:     types.ParseLinkType(pc.LinkType),
			Relevant: pc.Matches,
		}
	}

	c.logger.Debug("batch classified", "urls", len(urls))
	return out, nil
}

// wait enforces the fixed pre-call delay.
func (c *Classifier) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// oracleJSON extracts the JSON object from an oracle reply, failing when the
// reply carries none at all.
func oracleJSON(reply string) (string, error) {
	if !strings.Contains(reply, "{") {
		return "", fmt.Errorf("%w: no JSON object in reply", types.ErrOracleReply)
	}
	return extractJSON(reply), nil
}
