package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/siftlabs/kbharvest/internal/config"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func testDiscoverer(t *testing.T, cfg *config.Config, base string) *LinkDiscoverer {
	t.Helper()
	d, err := NewLinkDiscoverer(nil, base, cfg, testLogger)
	if err != nil {
		t.Fatalf("NewLinkDiscoverer: %v", err)
	}
	return d
}

// linkPage builds a page body with n same-domain anchors.
func linkPage(n int) string {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, `<a href="/page-%d">p%d</a>`, i, i)
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

func TestAnchorLinks(t *testing.T) {
	html := `<html><body>
		<a href="/relative">rel</a>
		<a href="https://example.com/absolute">abs</a>
		<a href="https://example.com/absolute#frag">abs again</a>
		<a href="https://other.org/away">offsite</a>
		<a href="mailto:hi@example.com">mail</a>
		<a href="javascript:void(0)">js</a>
		<a href="ftp://example.com/file">ftp</a>
		<a href="#top">top</a>
		<a href="">empty</a>
		<a href="/relative">dup</a>
	</body></html>`

	sc, err := newScope("https://example.com/blog", false)
	if err != nil {
		t.Fatalf("newScope: %v", err)
	}
	got, err := anchorLinks(html, "https://example.com/blog", sc)
	if err != nil {
		t.Fatalf("anchorLinks: %v", err)
	}

	want := []string{
		"https://example.com/relative",
		"https://example.com/absolute",
		"https://example.com/blog", // fragment-only href resolves to the origin
	}
	if len(got) != len(want) {
		t.Fatalf("got %d links %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("link %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDiscoverSkipsProbeWhenLinkRich(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Crawl.LinkRichThreshold = 5

	d := testDiscoverer(t, cfg, "https://example.com")
	probeCalls := 0
	d.render = func(ctx context.Context, rawURL string) (string, error) {
		return linkPage(6), nil // strictly above the threshold
	}
	d.probe = func(ctx context.Context, originURL string) ([]string, error) {
		probeCalls++
		return nil, nil
	}

	links, err := d.Discover(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(links) != 6 {
		t.Errorf("got %d links, want 6", len(links))
	}
	if probeCalls != 0 {
		t.Errorf("probe ran %d times on a link-rich page, want 0", probeCalls)
	}
}

func TestDiscoverProbesAtThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Crawl.LinkRichThreshold = 5

	d := testDiscoverer(t, cfg, "https://example.com")
	probeCalls := 0
	d.render = func(ctx context.Context, rawURL string) (string, error) {
		return linkPage(5), nil // exactly the threshold is still "sparse"
	}
	d.probe = func(ctx context.Context, originURL string) ([]string, error) {
		probeCalls++
		return []string{"https://example.com/hidden"}, nil
	}

	links, err := d.Discover(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if probeCalls != 1 {
		t.Fatalf("probe ran %d times at the threshold, want 1", probeCalls)
	}
	if len(links) != 6 {
		t.Errorf("got %d links, want 5 anchors + 1 probed", len(links))
	}
	if links[5] != "https://example.com/hidden" {
		t.Errorf("probed link = %q, want appended last", links[5])
	}
}

func TestDiscoverMergeDeduplicates(t *testing.T) {
	cfg := config.DefaultConfig()
	d := testDiscoverer(t, cfg, "https://example.com")
	d.render = func(ctx context.Context, rawURL string) (string, error) {
		return `<a href="/page-0">a</a>`, nil
	}
	d.probe = func(ctx context.Context, originURL string) ([]string, error) {
		// Same target the anchor scan already found, plus one new.
		return []string{"https://example.com/page-0/", "https://example.com/fresh"}, nil
	}

	links, err := d.Discover(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(links) != 2 {
		t.Errorf("got %v, want page-0 and fresh only", links)
	}
}

func TestDiscoverProbeFailureKeepsAnchors(t *testing.T) {
	cfg := config.DefaultConfig()
	d := testDiscoverer(t, cfg, "https://example.com")
	d.render = func(ctx context.Context, rawURL string) (string, error) {
		return linkPage(2), nil
	}
	d.probe = func(ctx context.Context, originURL string) ([]string, error) {
		return nil, errors.New("browser crashed")
	}

	links, err := d.Discover(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("probe failure should not fail discovery: %v", err)
	}
	if len(links) != 2 {
		t.Errorf("got %d links, want the 2 anchors", len(links))
	}
}

func TestDiscoverRenderFailure(t *testing.T) {
	cfg := config.DefaultConfig()
	d := testDiscoverer(t, cfg, "https://example.com")
	d.render = func(ctx context.Context, rawURL string) (string, error) {
		return "", errors.New("net::ERR_CONNECTION_REFUSED")
	}

	if _, err := d.Discover(context.Background(), "https://example.com/gone"); err == nil {
		t.Fatal("expected error when the page cannot be rendered")
	}
}

func TestScopeAllows(t *testing.T) {
	cases := []struct {
		base       string
		subdomains bool
		url        string
		want       bool
	}{
		{"https://example.com", false, "https://example.com/x", true},
		{"https://example.com", false, "http://example.com/x", true},
		{"https://example.com", false, "https://EXAMPLE.com/x", true},
		{"https://example.com", false, "https://blog.example.com/x", false},
		{"https://example.com", true, "https://blog.example.com/x", true},
		{"https://example.com", true, "https://example.org/x", false},
		{"https://blog.example.com", false, "https://example.com/x", false},
		{"https://blog.example.com", true, "https://example.com/x", true},
		{"https://example.com", false, "ftp://example.com/x", false},
		{"https://example.com", false, "mailto:hi@example.com", false},
		{"https://example.com", false, "about:blank", false},
		{"http://localhost:8080", false, "http://localhost:8080/x", true},
		{"http://localhost:8080", false, "http://127.0.0.1:8080/x", false},
		{"http://127.0.0.1:9999", true, "http://127.0.0.1:9999/x", true},
	}
	for _, c := range cases {
		sc, err := newScope(c.base, c.subdomains)
		if err != nil {
			t.Fatalf("newScope(%q): %v", c.base, err)
		}
		if got := sc.allows(c.url); got != c.want {
			t.Errorf("scope(%q, subdomains=%t).allows(%q) = %t, want %t",
				c.base, c.subdomains, c.url, got, c.want)
		}
	}
}

func TestNewScopeRejectsHostless(t *testing.T) {
	if _, err := newScope("/no/host", false); err == nil {
		t.Fatal("expected error for URL without host")
	}
}
