package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/publicsuffix"

	"github.com/siftlabs/kbharvest/internal/browser"
	"github.com/siftlabs/kbharvest/internal/config"
	"github.com/siftlabs/kbharvest/internal/types"
)

const probePollInterval = 100 * time.Millisecond

// isClickableJS filters probe candidates: the element must not live inside
// an anchor (those are covered by the static scan) and must look
// interactive, either structurally or by its computed cursor.
const isClickableJS = `() => {
	if (this.closest("a")) return false;
	if (this.tagName === "BUTTON") return true;
	if (this.getAttribute("role") === "button") return true;
	if (this.hasAttribute("onclick")) return true;
	return window.getComputedStyle(this).cursor === "pointer";
}`

// LinkDiscoverer finds same-domain navigable URLs on a page with a two-tier
// strategy: a cheap static anchor scan, then, only when the page looks
// link-poor, a simulated-click probe of interactive elements. Tier 2 drives
// the shared traversal page, so the page is always restored to the origin
// URL before Discover returns.
type LinkDiscoverer struct {
	session *browser.Session
	cfg     *config.Config
	logger  *slog.Logger
	scope   *scope

	// Overridable in tests to cut the browser out of the loop.
	render func(ctx context.Context, rawURL string) (string, error)
	probe  func(ctx context.Context, originURL string) ([]string, error)
}

// NewLinkDiscoverer creates a discoverer scoped to the domain of baseURL.
func NewLinkDiscoverer(session *browser.Session, baseURL string, cfg *config.Config, logger *slog.Logger) (*LinkDiscoverer, error) {
	sc, err := newScope(baseURL, cfg.Crawl.IncludeSubdomains)
	if err != nil {
		return nil, err
	}
	d := &LinkDiscoverer{
		session: session,
		cfg:     cfg,
		logger:  logger.With("component", "discovery"),
		scope:   sc,
	}
	d.render = d.renderPage
	d.probe = d.probeClickables
	return d, nil
}

// Discover returns the same-domain URLs reachable from originURL. When the
// static scan yields more than the configured threshold of links the page
// is considered link-rich and probing is skipped entirely.
func (d *LinkDiscoverer) Discover(ctx context.Context, originURL string) ([]string, error) {
	html, err := d.render(ctx, originURL)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", originURL, err)
	}

	links, err := anchorLinks(html, originURL, d.scope)
	if err != nil {
		return nil, err
	}
	if len(links) > d.cfg.Crawl.LinkRichThreshold {
		d.logger.Debug("anchor scan sufficient", "url", originURL, "links", len(links))
		return links, nil
	}

	d.logger.Info("anchor scan sparse, probing clickables", "url", originURL, "anchors", len(links))
	probed, err := d.probe(ctx, originURL)
	if err != nil {
		// Tier 2 is best-effort: losing it degrades recall, not correctness.
		d.logger.Warn("click probing failed", "url", originURL, "error", err)
		return links, nil
	}

	seen := make(map[string]struct{}, len(links))
	for _, link := range links {
		seen[hashURL(CanonicalizeURL(link))] = struct{}{}
	}
	for _, link := range probed {
		key := hashURL(CanonicalizeURL(link))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		links = append(links, link)
	}
	return links, nil
}

// renderPage navigates the shared traversal page and returns its HTML.
func (d *LinkDiscoverer) renderPage(ctx context.Context, rawURL string) (string, error) {
	if d.session == nil {
		return "", types.ErrNotConnected
	}
	return d.session.Render(ctx, rawURL)
}

// anchorLinks is the tier-1 static scan: every anchor href on the rendered
// page, resolved against the origin, fragment stripped, filtered to the
// crawl's domain scope. Order follows first appearance in the document.
func anchorLinks(html, originURL string, sc *scope) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", originURL, err)
	}
	base, err := url.Parse(originURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidURL, err)
	}

	seen := make(map[string]struct{})
	var out []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		resolved := abs.String()
		if !sc.allows(resolved) {
			return
		}
		key := hashURL(CanonicalizeURL(resolved))
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, resolved)
	})
	return out, nil
}

// probeClickables is the tier-2 fallback: click every interactive
// non-anchor element and observe where it navigates. The shared page is
// renavigated to the origin before each probe so every element starts from
// the same state, and restored once more before returning.
func (d *LinkDiscoverer) probeClickables(ctx context.Context, originURL string) ([]string, error) {
	if d.session == nil {
		return nil, types.ErrNotConnected
	}
	page := d.session.Page()

	count := len(d.clickables(page))
	if count == 0 {
		return nil, nil
	}
	d.logger.Debug("probing clickable elements", "url", originURL, "count", count)

	var found []string
	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			break
		}
		if err := d.session.Navigate(ctx, originURL); err != nil {
			d.logger.Warn("renavigation failed, aborting probe", "url", originURL, "error", err)
			break
		}
		// Handles from before the navigation are stale; re-enumerate and
		// pick the element at the same position.
		els := d.clickables(page)
		if i >= len(els) {
			break
		}

		dest, err := d.probeElement(ctx, page, els[i], originURL)
		if err != nil {
			d.logger.Debug("probe skipped", "url", originURL, "element", i, "error", err)
			continue
		}
		if dest == "" || !d.scope.allows(dest) {
			continue
		}
		found = append(found, stripFragment(dest))
	}

	if err := d.session.Navigate(ctx, originURL); err != nil {
		d.logger.Warn("failed to restore origin after probing", "url", originURL, "error", err)
	}
	return found, nil
}

// clickables enumerates visible interactive elements matching the
// configured probe selectors.
func (d *LinkDiscoverer) clickables(page *rod.Page) []*rod.Element {
	selector := strings.Join(d.cfg.Crawl.ProbeSelectors, ", ")
	els, err := page.Elements(selector)
	if err != nil {
		d.logger.Debug("element enumeration failed", "selector", selector, "error", err)
		return nil
	}

	keep := make([]*rod.Element, 0, len(els))
	for _, el := range els {
		visible, err := el.Visible()
		if err != nil || !visible {
			continue
		}
		obj, err := el.Eval(isClickableJS)
		if err != nil || !obj.Value.Bool() {
			continue
		}
		keep = append(keep, el)
	}
	return keep
}

// probeElement clicks one element and watches for a navigation effect
// within the probe wait window: a new tab (captured and closed), a URL
// change on the shared page, or nothing.
func (d *LinkDiscoverer) probeElement(ctx context.Context, page *rod.Page, el *rod.Element, originURL string) (string, error) {
	b := d.session.Browser()

	before := make(map[proto.TargetTargetID]struct{})
	pages, err := b.Pages()
	if err != nil {
		return "", fmt.Errorf("list targets: %w", err)
	}
	for _, p := range pages {
		before[p.TargetID] = struct{}{}
	}
	originKey := CanonicalizeURL(originURL)

	if err := el.Timeout(d.cfg.Crawl.ClickTimeout).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return "", fmt.Errorf("click: %w", err)
	}

	deadline := time.Now().Add(d.cfg.Crawl.ProbeWait)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		// A new browsing context is the strongest signal.
		if pages, err := b.Pages(); err == nil {
			for _, p := range pages {
				if _, known := before[p.TargetID]; known {
					continue
				}
				return d.captureNewTab(p), nil
			}
		}

		// Otherwise the click may have navigated the shared page itself.
		if info, err := page.Info(); err == nil && CanonicalizeURL(info.URL) != originKey {
			return info.URL, nil
		}

		time.Sleep(probePollInterval)
	}
	return "", nil
}

// captureNewTab waits for a probe-spawned tab to settle, reads its URL and
// always closes it.
func (d *LinkDiscoverer) captureNewTab(p *rod.Page) string {
	defer func() {
		if err := p.Close(); err != nil {
			d.logger.Debug("closing probe tab", "error", err)
		}
	}()
	if err := p.Timeout(d.cfg.Crawl.NewTabTimeout).WaitLoad(); err != nil {
		d.logger.Debug("probe tab never settled", "error", err)
	}
	info, err := p.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// scope decides whether a discovered URL stays inside the crawl. With
// subdomains disabled the host must match the base host exactly; enabled,
// any host sharing the base's registered domain passes.
type scope struct {
	host       string
	domain     string
	subdomains bool
}

func newScope(baseURL string, includeSubdomains bool) (*scope, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("%w: no host in %q", types.ErrInvalidURL, baseURL)
	}

	sc := &scope{host: host, subdomains: includeSubdomains}
	if dom, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		sc.domain = dom
	} else {
		// IP literals and bare hostnames have no public suffix.
		sc.domain = host
	}
	return sc, nil
}

func (s *scope) allows(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	if !s.subdomains {
		return host == s.host
	}
	dom, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host == s.host
	}
	return dom == s.domain
}

func stripFragment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	return u.String()
}
