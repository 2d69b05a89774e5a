// Package browser owns the headless browser session shared by a crawl.
//
// One Session drives two kinds of pages: a single traversal page, used
// sequentially by link discovery (click probing mutates its navigation
// state, so it is never shared), and throwaway isolated pages minted per
// extraction call.
package browser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/siftlabs/kbharvest/internal/config"
)

// Session wraps one running browser instance.
type Session struct {
	browser *rod.Browser
	page    *rod.Page
	cfg     *config.Config
	logger  *slog.Logger
}

// NewSession launches a browser and prepares the traversal page.
func NewSession(cfg *config.Config, logger *slog.Logger) (*Session, error) {
	s := &Session{
		cfg:    cfg,
		logger: logger.With("component", "browser"),
	}

	launchURL, err := s.launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	s.browser = browser

	page, err := s.NewPage()
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("create traversal page: %w", err)
	}
	s.page = page

	s.logger.Info("browser session ready",
		"headless", cfg.Browser.Headless,
		"stealth", cfg.Browser.Stealth,
	)

	return s, nil
}

// launch starts a Chromium instance with appropriate flags.
func (s *Session) launch() (string, error) {
	l := launcher.New().
		Headless(s.cfg.Browser.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled")

	return l.Launch()
}

// Page returns the shared traversal page. It is owned exclusively by the
// crawl orchestrator for the session's lifetime; extraction code must use
// NewPage instead.
func (s *Session) Page() *rod.Page {
	return s.page
}

// Browser exposes the underlying browser, needed for target bookkeeping
// during click probing.
func (s *Session) Browser() *rod.Browser {
	return s.browser
}

// NewPage opens an isolated page that shares no navigation state with the
// traversal page. The caller owns it and must Close it.
func (s *Session) NewPage() (*rod.Page, error) {
	var (
		page *rod.Page
		err  error
	)
	if s.cfg.Browser.Stealth {
		page, err = stealth.Page(s.browser)
	} else {
		page, err = s.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		return nil, err
	}

	if ua := s.cfg.Browser.UserAgent; ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
			s.logger.Warn("failed to set user agent", "error", err)
		}
	}

	return page, nil
}

// Navigate moves the traversal page to rawURL and waits for it to settle.
func (s *Session) Navigate(ctx context.Context, rawURL string) error {
	page := s.page.Context(ctx)
	if err := page.Timeout(s.cfg.Crawl.NavigationTimeout).Navigate(rawURL); err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	s.settle(page)
	return nil
}

// Render navigates the traversal page to rawURL and returns the rendered
// HTML after the page settles.
func (s *Session) Render(ctx context.Context, rawURL string) (string, error) {
	if err := s.Navigate(ctx, rawURL); err != nil {
		return "", err
	}

	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return html, nil
}

// URL reports the traversal page's current location.
func (s *Session) URL() (string, error) {
	info, err := s.page.Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

// settle waits for loading to finish. Slow pages are tolerated: stability
// is best-effort, navigation already succeeded.
func (s *Session) settle(page *rod.Page) {
	timeout := s.cfg.Crawl.NavigationTimeout
	if err := page.Timeout(timeout).WaitLoad(); err != nil {
		s.logger.Debug("wait load timed out, continuing", "error", err)
	}
	if err := page.Timeout(timeout).WaitStable(s.cfg.Crawl.SettleDelay); err != nil {
		s.logger.Debug("page stability timeout, continuing", "error", err)
	}
}

// Close shuts down the browser and releases all pages.
func (s *Session) Close() error {
	if s.page != nil {
		_ = s.page.Close()
	}
	if s.browser != nil {
		return s.browser.Close()
	}
	return nil
}
