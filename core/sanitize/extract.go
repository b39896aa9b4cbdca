package sanitize

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/DanielWarg/fortknox/core/store"
)

// Extract turns uploaded bytes into raw text for the given file type. Audio
// never goes through here; it is transcribed first and the transcript is
// ingested as text.
func Extract(fileType store.FileType, raw []byte) (string, error) {
	switch fileType {
	case store.FileTypeTXT, store.FileTypeNoteDerived, store.FileTypeReportDerived:
		return extractPlain(raw)
	case store.FileTypePDF:
		return extractPDF(raw)
	default:
		return "", fmt.Errorf("sanitize: cannot extract text from file type %q", fileType)
	}
}

func extractPlain(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("sanitize: text is not valid UTF-8")
	}
	return string(raw), nil
}

// extractPDF pulls the text layer out of a PDF, including compressed
// content streams. A PDF without a text layer (scans, image-only exports)
// yields empty text and is rejected; OCR is out of scope.
func extractPDF(raw []byte) (text string, err error) {
	if !bytes.HasPrefix(raw, []byte("%PDF-")) {
		return "", fmt.Errorf("sanitize: not a PDF file")
	}
	// The parser panics on malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("sanitize: malformed PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("sanitize: reading PDF: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("sanitize: extracting PDF text: %w", err)
	}
	var b strings.Builder
	if _, err := io.Copy(&b, plain); err != nil {
		return "", fmt.Errorf("sanitize: extracting PDF text: %w", err)
	}

	text = strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("sanitize: PDF has no extractable text layer")
	}
	return text, nil
}
