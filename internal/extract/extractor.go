// Package extract turns post pages into knowledge items: title, author and
// a markdown body distilled from the page's content blocks.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/siftlabs/kbharvest/internal/browser"
	"github.com/siftlabs/kbharvest/internal/config"
	"github.com/siftlabs/kbharvest/internal/types"
)

// Extractor fetches a page in an isolated browsing context and normalizes
// it into a KBItem. Safe for concurrent use: every call opens and closes
// its own page, so the crawl's traversal state is never disturbed.
type Extractor struct {
	session *browser.Session
	cfg     *config.Config
	logger  *slog.Logger
	conv    *md.Converter

	// Overridable in tests to skip the browser.
	fetch func(ctx context.Context, rawURL string) (string, error)
}

// NewExtractor creates an Extractor backed by the given browser session.
func NewExtractor(session *browser.Session, cfg *config.Config, logger *slog.Logger) *Extractor {
	e := &Extractor{
		session: session,
		cfg:     cfg,
		logger:  logger.With("component", "extractor"),
		conv:    newMarkdownConverter(),
	}
	e.fetch = e.fetchIsolated
	return e
}

// Extract produces the knowledge item for a post URL. It returns (nil, nil)
// when the page renders but yields no content blocks; such pages are
// skipped, not errors.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (*types.KBItem, error) {
	html, err := e.fetch(ctx, rawURL)
	if err != nil {
		return nil, &types.ExtractError{URL: rawURL, Err: err}
	}
	return e.fromHTML(html, rawURL)
}

// fetchIsolated renders the URL on a fresh page and returns its HTML. The
// page is always closed, whatever the outcome.
func (e *Extractor) fetchIsolated(ctx context.Context, rawURL string) (string, error) {
	if e.session == nil {
		return "", types.ErrNotConnected
	}
	page, err := e.session.NewPage()
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			e.logger.Debug("closing extraction page", "url", rawURL, "error", err)
		}
	}()

	page = page.Context(ctx)
	timeout := e.cfg.Extract.Timeout
	if err := page.Timeout(timeout).Navigate(rawURL); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}
	if err := page.Timeout(timeout).WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}
	if err := page.Timeout(timeout).WaitStable(e.cfg.Extract.SettleWait); err != nil {
		// Late-loading widgets keep some pages permanently "unstable";
		// extract whatever has rendered by now.
		e.logger.Debug("page never settled", "url", rawURL, "error", err)
	}
	return page.HTML()
}

// fromHTML distills rendered HTML into a KBItem: author from the article
// metadata, title from the first heading (falling back to the document
// title, then a placeholder), and the body from the best content container.
func (e *Extractor) fromHTML(html, rawURL string) (*types.KBItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &types.ExtractError{URL: rawURL, Err: err}
	}

	var author string
	if content, ok := doc.Find(`meta[property="article:author"]`).Attr("content"); ok {
		author = strings.TrimSpace(content)
	}

	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if title == "" {
		title = "Untitled"
	}

	container := doc.Find("article").First()
	if container.Length() == 0 {
		container = doc.Find("main").First()
	}
	if container.Length() == 0 {
		container = doc.Find("body").First()
	}
	if container.Length() == 0 {
		container = doc.Selection
	}

	parts := collectBlocks(container)
	markdown, err := e.conv.ConvertString(strings.Join(parts, "\n"))
	if err != nil {
		return nil, &types.ExtractError{URL: rawURL, Err: err}
	}
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return nil, nil
	}

	item := types.NewKBItem(title, markdown, rawURL)
	item.Author = author
	return item, nil
}
