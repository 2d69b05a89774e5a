package drive

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siftlabs/kbharvest/internal/config"
	"github.com/siftlabs/kbharvest/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func testHarvester(t *testing.T, srv *httptest.Server) *Harvester {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Drive.RequestTimeout = 5 * time.Second

	h, err := NewHarvester(cfg, testLogger)
	require.NoError(t, err)

	h.folderURL = func(id string) string { return srv.URL + "/folders/" + id }
	h.downloadURL = func(id string) string { return srv.URL + "/uc?export=download&id=" + id }
	h.exportURL = func(id string) string { return srv.URL + "/export/" + id }
	return h
}

// folderPage embeds a listing blob the way Drive folder pages do,
// with quotes escaped as \x22.
func folderPage(rows string) string {
	return fmt.Sprintf(
		`<html><body><script>window['_DRIVE_ivd'] = '%s';</script></body></html>`, rows)
}

func TestDecodeJSEscapes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`plain text`, "plain text"},
		{`\x22quoted\x22`, `"quoted"`},
		{`café`, "café"},
		{`line\nbreak`, "line\nbreak"},
		{`tab\there`, "tab\there"},
		{`double\\back`, `double\back`},
		{`trailing\`, `trailing\`},
		{`\q unknown`, `\q unknown`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, decodeJSEscapes(tt.in), "input %q", tt.in)
	}
}

func TestListFolder(t *testing.T) {
	page := folderPage(`[[[\x22id-pdf\x22,null,\x22Report.pdf\x22,null,null,\x22application/pdf\x22],[\x22id-dir\x22,null,\x22Archive\x22,null,null,\x22application/vnd.google-apps.folder\x22],[\x22short\x22,null,\x22row\x22]],null]`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Mozilla/5.0", r.Header.Get("User-Agent"))
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	h := testHarvester(t, srv)
	entries, err := h.listFolder(context.Background(), srv.URL+"/folders/root")
	require.NoError(t, err)

	// The short row lacks a mime column and is dropped.
	require.Len(t, entries, 2)
	assert.Equal(t, entry{ID: "id-pdf", Name: "Report.pdf", Mime: "application/pdf"}, entries[0])
	assert.Equal(t, entry{ID: "id-dir", Name: "Archive", Mime: folderMime}, entries[1])
}

func TestListFolderEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, folderPage(`[null,null]`))
	}))
	defer srv.Close()

	h := testHarvester(t, srv)
	entries, err := h.listFolder(context.Background(), srv.URL+"/folders/root")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListFolderNotPublic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>Sign in</body></html>")
	}))
	defer srv.Close()

	h := testHarvester(t, srv)
	_, err := h.listFolder(context.Background(), srv.URL+"/folders/root")
	require.Error(t, err)

	var derr *types.DriveError
	require.ErrorAs(t, err, &derr)
	assert.Contains(t, derr.Error(), "listing blob not found")
}

func TestHarvestFolderWalksSubfolders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/folders/root", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, folderPage(`[[[\x22doc-1\x22,null,\x22Guide\x22,null,null,\x22application/vnd.google-apps.document\x22],[\x22sub-id\x22,null,\x22sub\x22,null,null,\x22application/vnd.google-apps.folder\x22]],null]`))
	})
	mux.HandleFunc("/folders/sub-id", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, folderPage(`[[[\x22doc-2\x22,null,\x22Notes\x22,null,null,\x22application/vnd.google-apps.document\x22]],null]`))
	})
	mux.HandleFunc("/export/doc-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "guide text")
	})
	mux.HandleFunc("/export/doc-2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "notes text")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	h := testHarvester(t, srv)
	folder := srv.URL + "/folders/root"
	items, err := h.HarvestFolder(context.Background(), folder+"/")
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "Guide.txt", items[0].Title)
	assert.Equal(t, "guide text", items[0].Content)
	assert.Equal(t, "text/plain", items[0].ContentType)
	assert.Equal(t, "Unknown", items[0].Author)
	assert.Equal(t, folder, items[0].SourceURL, "items carry the folder URL, not the file URL")

	// Files in subfolders keep their slash-joined path as the title.
	assert.Equal(t, "sub/Notes.txt", items[1].Title)
	assert.Equal(t, folder, items[1].SourceURL)
}

func TestHarvestFolderSkipsUnsupportedAndEmpty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/folders/root", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, folderPage(`[[[\x22img-1\x22,null,\x22logo.png\x22,null,null,\x22image/png\x22],[\x22doc-1\x22,null,\x22Blank\x22,null,null,\x22application/vnd.google-apps.document\x22]],null]`))
	})
	mux.HandleFunc("/export/doc-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "   \n\t  ")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	h := testHarvester(t, srv)
	items, err := h.HarvestFolder(context.Background(), srv.URL+"/folders/root")
	require.NoError(t, err)
	assert.Empty(t, items, "unsupported mimes and whitespace-only documents are dropped")
}

func TestHarvestFolderSkipsBrokenFiles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/folders/root", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, folderPage(`[[[\x22bad-pdf\x22,null,\x22Corrupt.pdf\x22,null,null,\x22application/pdf\x22],[\x22doc-1\x22,null,\x22Guide\x22,null,null,\x22application/vnd.google-apps.document\x22]],null]`))
	})
	mux.HandleFunc("/uc", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "this is not a pdf")
	})
	mux.HandleFunc("/export/doc-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "guide text")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	h := testHarvester(t, srv)
	items, err := h.HarvestFolder(context.Background(), srv.URL+"/folders/root")
	require.NoError(t, err, "a broken file skips, it does not fail the harvest")
	require.Len(t, items, 1)
	assert.Equal(t, "Guide.txt", items[0].Title)
}

func TestGDocFallsBackToPDF(t *testing.T) {
	var exportCalls, downloadCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/folders/root", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, folderPage(`[[[\x22doc-big\x22,null,\x22Huge\x22,null,null,\x22application/vnd.google-apps.document\x22]],null]`))
	})
	mux.HandleFunc("/export/doc-big", func(w http.ResponseWriter, r *http.Request) {
		exportCalls++
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/uc", func(w http.ResponseWriter, r *http.Request) {
		downloadCalls++
		fmt.Fprint(w, "still not a pdf")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	h := testHarvester(t, srv)
	items, err := h.HarvestFolder(context.Background(), srv.URL+"/folders/root")
	require.NoError(t, err)

	// Export was refused, the PDF rendition was tried, and the broken
	// rendition skipped the file rather than failing the run.
	assert.Equal(t, 1, exportCalls)
	assert.Equal(t, 1, downloadCalls)
	assert.Empty(t, items)
}

func TestFetchBinaryConfirmToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("confirm") == "tok123" {
			fmt.Fprint(w, "FILEDATA")
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "download_warning_29_abc", Value: "tok123"})
		fmt.Fprint(w, "virus scan warning page")
	}))
	defer srv.Close()

	h := testHarvester(t, srv)
	data, err := h.fetch.fetchBinary(context.Background(), srv.URL+"/uc?export=download&id=big-file")
	require.NoError(t, err)
	assert.Equal(t, "FILEDATA", string(data))
}

func TestFetchSizeCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), 64))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Drive.MaxFileSize = 16
	fc, err := newFetchClient(&cfg.Drive, testLogger)
	require.NoError(t, err)

	_, err = fc.get(context.Background(), srv.URL)
	require.ErrorIs(t, err, types.ErrFileTooLarge)
}

func TestFetchDecompressesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "br")

		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		fmt.Fprint(gz, "hello drive")
		assert.NoError(t, gz.Close())
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	fc, err := newFetchClient(&cfg.Drive, testLogger)
	require.NoError(t, err)

	res, err := fc.get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "hello drive", string(res.Body))
}

func buildDocx(t *testing.T, documentXML, coreXML string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)

	if coreXML != "" {
		w, err = zw.Create("docProps/core.xml")
		require.NoError(t, err)
		_, err = w.Write([]byte(coreXML))
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const docxBody = `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Chapter one</w:t></w:r><w:r><w:tab/><w:t>intro</w:t></w:r></w:p>
    <w:p><w:hyperlink><w:r><w:t>linked text</w:t></w:r></w:hyperlink></w:p>
  </w:body>
</w:document>`

const docxCore = `<?xml version="1.0"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <dc:creator>Ada Lovelace</dc:creator>
  <dc:title>Fixture</dc:title>
</cp:coreProperties>`

func TestDocxText(t *testing.T) {
	data := buildDocx(t, docxBody, docxCore)

	text, author, err := docxText(data)
	require.NoError(t, err)
	assert.Equal(t, "Chapter one\tintro\nlinked text", text,
		"runs concatenate, tabs survive, hyperlinked runs count, paragraphs join with newlines")
	assert.Equal(t, "Ada Lovelace", author)
}

func TestDocxWithoutCoreProps(t *testing.T) {
	data := buildDocx(t, docxBody, "")

	text, author, err := docxText(data)
	require.NoError(t, err)
	assert.NotEmpty(t, text)
	assert.Equal(t, "", author)
}

func TestDocxNotAZip(t *testing.T) {
	_, _, err := docxText([]byte("plain text, not a zip"))
	require.Error(t, err)
}

func TestPDFGarbageDoesNotPanic(t *testing.T) {
	_, _, err := pdfText([]byte("%PDF-1.4 truncated garbage"))
	require.Error(t, err)
}
