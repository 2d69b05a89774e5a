package drive

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// pdfText extracts plain text and the declared author from a PDF. The
// parser panics on malformed input, so the whole extraction is
// recover-protected and surfaces panics as errors.
func pdfText(data []byte) (text, author string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parse panic: %v", r)
		}
	}()

	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", "", fmt.Errorf("open pdf: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", "", fmt.Errorf("extract pdf text: %w", err)
	}

	var sb strings.Builder
	if _, err := io.Copy(&sb, plain); err != nil {
		return "", "", fmt.Errorf("read pdf text: %w", err)
	}

	return sb.String(), pdfAuthor(reader), nil
}

// pdfAuthor reads /Author, falling back to /Creator, from the Info
// dictionary. Best effort, missing or broken metadata yields "".
func pdfAuthor(reader *pdflib.Reader) (author string) {
	defer func() { _ = recover() }()

	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return ""
	}
	if s := strings.TrimSpace(info.Key("Author").Text()); s != "" {
		return s
	}
	return strings.TrimSpace(info.Key("Creator").Text())
}
