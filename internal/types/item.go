package types

import "strings"

// Content kind tags attached to harvested items.
const (
	// ContentTypeBlog marks items produced by the crawl path.
	ContentTypeBlog = "blog"

	// ContentTypeBook is the fallback kind for drive files without a MIME type.
	ContentTypeBook = "book"
)

// KBItem is a single harvested knowledge record: a normalized document with a
// markdown body. The JSON field names are the persistence contract shared
// with the queue worker and must not change.
type KBItem struct {
	// Title is the document title, never empty ("Untitled" when the page
	// offers nothing better).
	Title string `json:"title"`

	// Content is the document body as markdown. Items with an empty body
	// are dropped before they are ever emitted.
	Content string `json:"content"`

	// ContentType tags the kind of source: "blog" for crawled pages, the
	// file MIME type (or "book") for drive files.
	ContentType string `json:"content_type"`

	// SourceURL is the page or folder the item was harvested from.
	SourceURL string `json:"source_url"`

	// Author is the document author if one was found, else empty.
	Author string `json:"author,omitempty"`
}

// NewKBItem creates a crawl-sourced item with the default content type.
func NewKBItem(title, content, sourceURL string) *KBItem {
	return &KBItem{
		Title:       title,
		Content:     content,
		ContentType: ContentTypeBlog,
		SourceURL:   sourceURL,
	}
}

// IsEmpty reports whether the item carries no usable body.
func (k *KBItem) IsEmpty() bool {
	return strings.TrimSpace(k.Content) == ""
}

// Clone creates a copy of the item.
func (k *KBItem) Clone() *KBItem {
	clone := *k
	return &clone
}
