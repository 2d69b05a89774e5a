package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// LinkType is the closed set of classification outcomes for a discovered URL.
// It is deliberately not a string: branch points switch on it exhaustively.
type LinkType int

const (
	// LinkTypeUnknown means the oracle could not decide. It is a valid,
	// non-erroring outcome; unknown URLs are neither explored nor extracted.
	LinkTypeUnknown LinkType = iota

	// LinkTypeDirectory marks a page whose primary content is links to
	// other pages. Directories feed the frontier.
	LinkTypeDirectory

	// LinkTypePost marks a self-contained content page eligible for
	// extraction when it is also relevant.
	LinkTypePost
)

// String returns the wire form used in oracle replies and reports.
func (t LinkType) String() string {
	switch t {
	case LinkTypeDirectory:
		return "directory"
	case LinkTypePost:
		return "post"
	case LinkTypeUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("LinkType(%d)", int(t))
	}
}

// ParseLinkType maps an oracle reply string onto a LinkType. Any
// unrecognized value is LinkTypeUnknown, never an error.
func ParseLinkType(s string) LinkType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "directory":
		return LinkTypeDirectory
	case "post":
		return LinkTypePost
	default:
		return LinkTypeUnknown
	}
}

// MarshalJSON encodes the link type as its string form.
func (t LinkType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a string link type, tolerating unknown values.
func (t *LinkType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = ParseLinkType(s)
	return nil
}

// Classification is the oracle's verdict for a single URL.
type Classification struct {
	// URL is the classified URL, echoed for reports.
	URL string `json:"url"`

	// Type is the directory/post/unknown outcome.
	Type LinkType `json:"type"`

	// Relevant reports whether the URL matches the caller's free-text
	// instructions.
	Relevant bool `json:"relevant"`
}

// Target is one URL under consideration by a crawl. A URL gets exactly one
// Target for the lifetime of a run; after classification it is immutable
// except for attaching the extracted item.
type Target struct {
	// URL is the canonical fragment-stripped absolute URL.
	URL string `json:"url"`

	// Type is the classification outcome.
	Type LinkType `json:"type"`

	// Relevant is the oracle's relevance flag.
	Relevant bool `json:"relevant"`

	// Item holds the extracted document, present only after a successful
	// extraction.
	Item *KBItem `json:"item,omitempty"`
}
