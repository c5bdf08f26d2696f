package document

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"code.sajari.com/docconv"
)

// Extraction errors
var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrEmptyDocument       = errors.New("document contains no extractable text")
)

// Kind classifies an extracted document for downstream routing.
type Kind string

const (
	KindText Kind = "text"
	KindCSV  Kind = "csv"
)

// Extracted is the output of the extractor: either flat text for chunking
// or raw CSV content routed to structured storage.
type Extracted struct {
	Kind Kind
	Text string
}

// Extract converts a raw file blob into text or CSV content, dispatching on
// the lowercase file extension, then on the content-type hint when the name
// has no extension.
func Extract(fileName string, contentType string, data []byte) (*Extracted, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))

	switch ext {
	case "pdf":
		text, err := extractPDF(data)
		if err != nil {
			return nil, err
		}
		return &Extracted{Kind: KindText, Text: text}, nil
	case "docx":
		text, err := extractDOCX(data)
		if err != nil {
			return nil, err
		}
		return &Extracted{Kind: KindText, Text: text}, nil
	case "csv":
		return &Extracted{Kind: KindCSV, Text: string(data)}, nil
	case "txt", "md":
		return &Extracted{Kind: KindText, Text: string(data)}, nil
	}

	if contentType == "text/csv" {
		return &Extracted{Kind: KindCSV, Text: string(data)}, nil
	}
	if strings.HasPrefix(contentType, "text/") {
		return &Extracted{Kind: KindText, Text: string(data)}, nil
	}

	return nil, fmt.Errorf("%w: %q (content type %q)", ErrUnsupportedFileType, fileName, contentType)
}

// FromInline wraps directly-supplied content (scraped or pasted text).
// It is treated as plain text unless flagged as CSV and independently
// validating as CSV.
func FromInline(content string, maybeCSV bool) *Extracted {
	if maybeCSV && IsValidCSV(content) {
		return &Extracted{Kind: KindCSV, Text: content}
	}
	return &Extracted{Kind: KindText, Text: content}
}

func extractPDF(data []byte) (string, error) {
	res, err := docconv.Convert(bytes.NewReader(data), "application/pdf", false)
	if err != nil {
		return "", fmt.Errorf("pdf extraction: %w", err)
	}
	return res.Body, nil
}

var docxRun = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// extractDOCX reads word/document.xml from the OOXML package and joins all
// <w:t> run contents. Body text only; headers, footers and footnotes live
// in other package parts and are skipped.
func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("docx open: %w", err)
	}

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("docx read: %w", err)
		}
		xmlData, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("docx read: %w", err)
		}

		matches := docxRun.FindAllSubmatch(xmlData, -1)
		parts := make([]string, 0, len(matches))
		for _, m := range matches {
			parts = append(parts, unescapeXML(string(m[1])))
		}
		return NormalizeWhitespace(strings.Join(parts, " ")), nil
	}

	return "", errors.New("docx open: word/document.xml not found")
}

var xmlEntities = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
)

func unescapeXML(s string) string {
	return xmlEntities.Replace(s)
}
