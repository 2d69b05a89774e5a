// Package drive harvests text from public Google Drive folders without
// an API key. It scrapes the folder listing pages anonymously, walks
// subfolders, and extracts text from PDF, DOCX, and native Google Doc
// files into the same knowledge-base items the crawler produces.
package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/siftlabs/kbharvest/internal/config"
	"github.com/siftlabs/kbharvest/internal/types"
)

const (
	folderMime = "application/vnd.google-apps.folder"
	gdocMime   = "application/vnd.google-apps.document"
	pdfMime    = "application/pdf"
)

// listingPattern matches the embedded blob Drive folder pages carry
// their file metadata in.
var listingPattern = regexp.MustCompile(`window\['_DRIVE_ivd']\s*=\s*'([^']+)'`)

// entry is one row of a folder listing.
type entry struct {
	ID   string
	Name string
	Mime string
}

// document is one extracted file, before conversion to a KBItem.
type document struct {
	Path   string
	Mime   string
	Text   string
	Author string
}

// Harvester extracts documents from public Drive folders.
type Harvester struct {
	fetch  *fetchClient
	logger *slog.Logger

	// Endpoint builders, overridable in tests.
	folderURL   func(folderID string) string
	downloadURL func(fileID string) string
	exportURL   func(fileID string) string
}

// NewHarvester creates a Drive harvester.
func NewHarvester(cfg *config.Config, logger *slog.Logger) (*Harvester, error) {
	fetch, err := newFetchClient(&cfg.Drive, logger)
	if err != nil {
		return nil, err
	}
	return &Harvester{
		fetch:  fetch,
		logger: logger.With("component", "drive"),
		folderURL: func(folderID string) string {
			return "https://drive.google.com/drive/folders/" + folderID
		},
		downloadURL: func(fileID string) string {
			return "https://drive.google.com/uc?export=download&id=" + fileID
		},
		exportURL: func(fileID string) string {
			return fmt.Sprintf("https://docs.google.com/document/d/%s/export?format=txt", fileID)
		},
	}, nil
}

// HarvestFolder walks a public folder tree and returns one item per
// extractable file. The folder URL becomes every item's source URL;
// titles carry the slash-joined path from the root folder.
func (h *Harvester) HarvestFolder(ctx context.Context, folderURL string) ([]*types.KBItem, error) {
	folderURL = strings.TrimRight(folderURL, "/")

	var docs []document
	if err := h.walk(ctx, folderURL, "", &docs); err != nil {
		return nil, err
	}

	items := make([]*types.KBItem, 0, len(docs))
	for _, doc := range docs {
		if strings.TrimSpace(doc.Text) == "" {
			h.logger.Debug("skipping empty document", "path", doc.Path)
			continue
		}
		item := types.NewKBItem(doc.Path, doc.Text, folderURL)
		item.ContentType = doc.Mime
		if item.ContentType == "" {
			item.ContentType = types.ContentTypeBook
		}
		item.Author = doc.Author
		if item.Author == "" {
			item.Author = "Unknown"
		}
		items = append(items, item)
	}

	h.logger.Info("folder harvested", "folder", folderURL, "files", len(docs), "items", len(items))
	return items, nil
}

// walk lists one folder and recurses into subfolders. Listing failures
// abort the walk; per-file extraction failures skip the file.
func (h *Harvester) walk(ctx context.Context, folderURL, prefix string, docs *[]document) error {
	entries, err := h.listFolder(ctx, folderURL)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		path := prefix + e.Name
		if e.Mime == folderMime {
			if err := h.walk(ctx, h.folderURL(e.ID), path+"/", docs); err != nil {
				return err
			}
			continue
		}

		doc, err := h.extractFile(ctx, e, path)
		if err != nil {
			h.logger.Warn("could not extract file", "path", path, "error", err)
			continue
		}
		if doc == nil {
			h.logger.Debug("skipping unsupported file", "path", path, "mime", e.Mime)
			continue
		}
		*docs = append(*docs, *doc)
	}
	return nil
}

// listFolder scrapes the metadata blob out of a folder page.
func (h *Harvester) listFolder(ctx context.Context, folderURL string) ([]entry, error) {
	res, err := h.fetch.get(ctx, folderURL)
	if err != nil {
		return nil, &types.DriveError{Path: folderURL, Err: err}
	}

	m := listingPattern.FindSubmatch(res.Body)
	if m == nil {
		return nil, &types.DriveError{
			Path: folderURL,
			Err:  errors.New("listing blob not found, folder may not be public"),
		}
	}

	raw := decodeJSEscapes(html.UnescapeString(string(m[1])))

	var blob []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		return nil, &types.DriveError{Path: folderURL, Err: fmt.Errorf("parse listing blob: %w", err)}
	}
	if len(blob) == 0 {
		return nil, &types.DriveError{Path: folderURL, Err: errors.New("listing blob is empty")}
	}

	// First element holds the rows; null means an empty folder.
	var rows [][]any
	if err := json.Unmarshal(blob[0], &rows); err != nil {
		if string(blob[0]) == "null" {
			return nil, nil
		}
		return nil, &types.DriveError{Path: folderURL, Err: fmt.Errorf("parse listing rows: %w", err)}
	}

	entries := make([]entry, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		id, _ := row[0].(string)
		name, _ := row[2].(string)
		mime, _ := row[5].(string)
		if id == "" || name == "" {
			continue
		}
		entries = append(entries, entry{ID: id, Name: name, Mime: mime})
	}
	return entries, nil
}

// extractFile downloads one file and extracts its text. A nil document
// with nil error means the type is unsupported.
func (h *Harvester) extractFile(ctx context.Context, e entry, path string) (*document, error) {
	lower := strings.ToLower(e.Name)

	switch {
	case e.Mime == pdfMime || strings.HasSuffix(lower, ".pdf"):
		data, err := h.fetch.fetchBinary(ctx, h.downloadURL(e.ID))
		if err != nil {
			return nil, &types.DriveError{FileID: e.ID, Path: path, Err: err}
		}
		text, author, err := pdfText(data)
		if err != nil {
			return nil, &types.DriveError{FileID: e.ID, Path: path, Err: err}
		}
		return &document{Path: path, Mime: e.Mime, Text: text, Author: author}, nil

	case strings.HasSuffix(e.Mime, "wordprocessingml.document") || strings.HasSuffix(lower, ".docx"):
		data, err := h.fetch.fetchBinary(ctx, h.downloadURL(e.ID))
		if err != nil {
			return nil, &types.DriveError{FileID: e.ID, Path: path, Err: err}
		}
		text, author, err := docxText(data)
		if err != nil {
			return nil, &types.DriveError{FileID: e.ID, Path: path, Err: err}
		}
		return &document{Path: path, Mime: e.Mime, Text: text, Author: author}, nil

	case e.Mime == gdocMime:
		text, err := h.fetch.exportDoc(ctx, h.exportURL(e.ID))
		if err == nil {
			return &document{Path: path + ".txt", Mime: "text/plain", Text: text}, nil
		}
		h.logger.Debug("text export failed, trying pdf rendition", "path", path, "error", err)

		data, err := h.fetch.fetchBinary(ctx, h.downloadURL(e.ID))
		if err != nil {
			return nil, &types.DriveError{FileID: e.ID, Path: path, Err: err}
		}
		text, _, err = pdfText(data)
		if err != nil {
			return nil, &types.DriveError{FileID: e.ID, Path: path, Err: err}
		}
		return &document{Path: path + ".pdf", Mime: pdfMime, Text: text}, nil
	}

	return nil, nil
}

// decodeJSEscapes resolves the backslash escapes Drive uses inside the
// listing blob (\xNN, \uNNNN, and the common single-character forms).
func decodeJSEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			i++
			continue
		}
		switch s[i+1] {
		case 'x':
			if i+4 <= len(s) {
				if v, err := strconv.ParseUint(s[i+2:i+4], 16, 16); err == nil {
					b.WriteRune(rune(v))
					i += 4
					continue
				}
			}
		case 'u':
			if i+6 <= len(s) {
				if v, err := strconv.ParseUint(s[i+2:i+6], 16, 32); err == nil {
					b.WriteRune(rune(v))
					i += 6
					continue
				}
			}
		case 'n':
			b.WriteByte('\n')
			i += 2
			continue
		case 't':
			b.WriteByte('\t')
			i += 2
			continue
		case 'r':
			b.WriteByte('\r')
			i += 2
			continue
		case '\\', '\'', '"', '/':
			b.WriteByte(s[i+1])
			i += 2
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}
