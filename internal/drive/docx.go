package drive

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// docx files are zip archives. The text lives in word/document.xml and
// the author in docProps/core.xml.

// docxText extracts the paragraph text and author of a .docx file.
func docxText(data []byte) (text, author string, err error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", "", fmt.Errorf("open docx: %w", err)
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return "", "", errors.New("docx has no word/document.xml")
	}

	rc, err := body.Open()
	if err != nil {
		return "", "", fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	text, err = documentText(rc)
	if err != nil {
		return "", "", err
	}

	return text, docxAuthor(zr), nil
}

// documentText walks the document XML token stream, collecting run
// text (<w:t>) and emitting one line per paragraph (<w:p>). Matching on
// local names keeps it namespace-agnostic.
func documentText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		lines []string
		cur   strings.Builder
		inT   bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inT = true
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inT = false
			case "p":
				lines = append(lines, cur.String())
				cur.Reset()
			}
		case xml.CharData:
			if inT {
				cur.Write(t)
			}
		}
	}

	return strings.Join(lines, "\n"), nil
}

// docxAuthor reads dc:creator from the core properties. Best effort.
func docxAuthor(zr *zip.Reader) string {
	for _, f := range zr.File {
		if f.Name != "docProps/core.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return ""
		}
		defer rc.Close()

		var props struct {
			Creator string `xml:"creator"`
		}
		if err := xml.NewDecoder(rc).Decode(&props); err != nil {
			return ""
		}
		return strings.TrimSpace(props.Creator)
	}
	return ""
}
