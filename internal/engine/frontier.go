package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// Frontier is a thread-safe FIFO of directory pages awaiting exploration,
// combined with the visited set that guarantees each URL is classified at
// most once. The crawl proceeds in rounds: Drain empties the queue into a
// round snapshot, and directories discovered during that round are pushed
// for the next one.
type Frontier struct {
	mu    sync.Mutex
	queue []string
	seen  map[string]struct{}
}

// NewFrontier creates an empty Frontier.
func NewFrontier() *Frontier {
	return &Frontier{
		queue: make([]string, 0, 64),
		seen:  make(map[string]struct{}, 1024),
	}
}

// MarkVisited records a URL in the visited set. It returns true if the URL
// was new and false if it had been marked before. Callers gate
// classification on the return value, so check-and-mark must be atomic.
func (f *Frontier) MarkVisited(rawURL string) bool {
	hash := hashURL(CanonicalizeURL(rawURL))

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[hash]; ok {
		return false
	}
	f.seen[hash] = struct{}{}
	return true
}

// Seen reports whether a URL has been marked visited.
func (f *Frontier) Seen(rawURL string) bool {
	hash := hashURL(CanonicalizeURL(rawURL))

	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.seen[hash]
	return ok
}

// Push appends a directory URL for the next exploration round.
func (f *Frontier) Push(rawURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, rawURL)
}

// Drain removes and returns the entire pending queue in FIFO order. URLs
// pushed while the returned snapshot is being explored land in the next
// round, not this one.
func (f *Frontier) Drain() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	round := f.queue
	f.queue = make([]string, 0, len(round))
	return round
}

// Len returns the number of URLs waiting for the next round.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// VisitedCount returns the number of unique URLs marked visited.
func (f *Frontier) VisitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

// CanonicalizeURL normalizes a URL for deduplication:
// - lowercases scheme and host
// - removes fragment
// - sorts query parameters
// - removes trailing slash (except root)
// - removes default ports (80 for http, 443 for https)
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	host := u.Hostname()
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = host
	}

	if u.RawQuery != "" {
		params := u.Query()
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var sorted []string
		for _, k := range keys {
			vals := params[k]
			sort.Strings(vals)
			for _, v := range vals {
				sorted = append(sorted, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(sorted, "&")
	}

	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}

// hashURL creates a compact 128-bit hash of a canonical URL.
func hashURL(canonicalURL string) string {
	h := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(h[:16])
}
