// Package extract turns an uploaded document into cleaned text plus base
// metadata, ready for chunking. PDF parsing uses github.com/ledongthuc/pdf,
// which wants a file path, so uploads are spooled to a temp file first.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"semrag/internal/domain"
)

// Result is the extractor's output: normalized text and the base
// metadata inherited by every chunk of the document.
type Result struct {
	Text string
	Meta domain.Metadata
}

var (
	spaceRunRe   = regexp.MustCompile(`[ \t]+`)
	newlineRunRe = regexp.MustCompile(`\n{3,}`)
	quoteReplace = strings.NewReplacer(
		"“", `"`, "”", `"`,
		"’", "'",
		"–", "-", "—", "-",
	)
)

// CleanText normalizes whitespace and punctuation variants: CRLF becomes
// LF, runs of spaces collapse, three or more newlines collapse to two,
// and curly quotes and dashes are straightened.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = newlineRunRe.ReplaceAllString(text, "\n\n")
	text = quoteReplace.Replace(text)
	return strings.TrimSpace(text)
}

// FromPDF extracts and cleans the text of a PDF given as raw bytes, and
// builds the document's base metadata (page count, text length).
func FromPDF(pdfBytes []byte, docID string) (Result, error) {
	tmp, err := os.CreateTemp("", "semrag-upload-*.pdf")
	if err != nil {
		return Result{}, fmt.Errorf("extract: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Write(pdfBytes); err != nil {
		return Result{}, fmt.Errorf("extract: spool pdf: %w", err)
	}

	f, reader, err := pdf.Open(tmp.Name())
	if err != nil {
		return Result{}, fmt.Errorf("extract: open pdf: %w", err)
	}
	defer f.Close()

	body, err := reader.GetPlainText()
	if err != nil {
		return Result{}, fmt.Errorf("extract: read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return Result{}, fmt.Errorf("extract: read pdf text: %w", err)
	}

	return FromText(buf.String(), docID, reader.NumPage()), nil
}

// FromText cleans already-extracted text and builds base metadata. Pass
// nPages 0 when the source has no page structure.
func FromText(text, docID string, nPages int) Result {
	clean := CleanText(text)
	return Result{
		Text: clean,
		Meta: domain.Metadata{
			"doc_id":       docID,
			"n_pages":      nPages,
			"length_chars": len(clean),
		},
	}
}
